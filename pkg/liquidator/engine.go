package liquidator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"sollend/pkg/action"
	"sollend/pkg/health"
	"sollend/pkg/lending"
	"sollend/pkg/logger"
	"sollend/pkg/market"
	"sollend/pkg/oracle"
	"sollend/pkg/sol"
)

// MarketSource loads markets and obligations from chain
type MarketSource interface {
	Markets(ctx context.Context) ([]solana.PublicKey, error)
	LoadPool(ctx context.Context, address solana.PublicKey) (*market.Pool, error)
	Obligations(ctx context.Context, market solana.PublicKey) ([]*lending.Obligation, error)
	LoadObligation(ctx context.Context, address solana.PublicKey) (*lending.Obligation, error)
}

// PriceSource resolves reserve prices, reporting unresolvable reserves separately
type PriceSource interface {
	Prices(ctx context.Context, reserves []*lending.Reserve) (map[solana.PublicKey]oracle.Price, []error, error)
}

type PlanBuilder interface {
	Build(ctx context.Context, req action.Request) (*action.Plan, error)
}

type Submitter interface {
	Submit(ctx context.Context, plan *action.Plan) (solana.Signature, error)
}

// WalletReader reads the liquidator's balances
type WalletReader interface {
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	Lamports(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Config wires an Engine. Symbols, DualMints and Metrics may be nil.
type Config struct {
	Markets    MarketSource
	Prices     PriceSource
	Builder    PlanBuilder
	Submitter  Submitter
	Wallet     WalletReader
	Liquidator solana.PublicKey

	Symbols   health.SymbolLookup
	DualMints action.DualMintLookup
	Metrics   *Metrics

	// MarketList restricts the scan; empty scans every market of the program
	MarketList  []solana.PublicKey
	EpochDelay  time.Duration
	MaxRounds   int
	LookupTable solana.PublicKey
}

// Engine scans markets for unhealthy obligations and liquidates them
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// EpochStats summarizes one scan
type EpochStats struct {
	Markets      int
	Scanned      int
	Unhealthy    int
	Liquidations int
	Failures     int
}

func NewEngine(cfg Config) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 10
	}
	return &Engine{
		cfg: cfg,
		log: logger.GetForComponent("liquidator"),
	}
}

// Run scans every epoch until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	for {
		start := time.Now()
		stats, err := e.RunEpoch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error().Err(err).Msg("epoch failed")
		}
		e.cfg.Metrics.RecordEpoch(time.Since(start), time.Now())
		e.log.Info().
			Int("markets", stats.Markets).
			Int("scanned", stats.Scanned).
			Int("unhealthy", stats.Unhealthy).
			Int("liquidations", stats.Liquidations).
			Int("failures", stats.Failures).
			Dur("duration", time.Since(start)).
			Msg("epoch complete")

		if e.cfg.EpochDelay <= 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.EpochDelay):
		}
	}
}

// RunEpoch scans every configured market once. A market that cannot be loaded is skipped.
func (e *Engine) RunEpoch(ctx context.Context) (EpochStats, error) {
	var stats EpochStats
	markets := e.cfg.MarketList
	if len(markets) == 0 {
		var err error
		if markets, err = e.cfg.Markets.Markets(ctx); err != nil {
			return stats, fmt.Errorf("failed to list markets: %w", err)
		}
	}

	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := e.scanMarket(ctx, m, &stats); err != nil {
			e.log.Error().Err(err).Str("market", m.String()).Msg("failed to scan market")
			continue
		}
		stats.Markets++
	}
	return stats, nil
}

func (e *Engine) scanMarket(ctx context.Context, address solana.PublicKey, stats *EpochStats) error {
	pool, err := e.cfg.Markets.LoadPool(ctx, address)
	if err != nil {
		return err
	}
	obligations, err := e.cfg.Markets.Obligations(ctx, address)
	if err != nil {
		return err
	}
	prices, err := e.prices(ctx, pool)
	if err != nil {
		return err
	}

	label := address.String()
	for _, o := range obligations {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		e.cfg.Metrics.RecordScanned(label)
		if err := e.liquidate(ctx, pool, o, prices, stats); err != nil {
			stats.Failures++
			e.cfg.Metrics.RecordError(errorKind(err))
			e.log.Warn().Err(err).
				Str("market", label).
				Str("obligation", o.Address.String()).
				Msg("abandoning obligation for this pass")
		}
	}
	return nil
}

func (e *Engine) prices(ctx context.Context, pool *market.Pool) (map[solana.PublicKey]health.TokenOracleData, error) {
	prices, unresolved, err := e.cfg.Prices.Prices(ctx, pool.Reserves)
	if err != nil {
		return nil, err
	}
	for _, u := range unresolved {
		e.log.Debug().Err(u).Str("market", pool.Address.String()).Msg("reserve has no price")
	}
	return health.OracleData(pool.Reserves, prices, e.cfg.Symbols), nil
}

// liquidate runs the evaluate, select, submit, refetch loop on one obligation until it is
// healthy, cannot be liquidated further, or the round cap is reached.
func (e *Engine) liquidate(ctx context.Context, pool *market.Pool, o *lending.Obligation, prices map[solana.PublicKey]health.TokenOracleData, stats *EpochStats) error {
	label := pool.Address.String()
	for round := 0; ; round++ {
		h, err := health.Evaluate(o, reserveMap(pool), prices)
		if err != nil {
			return err
		}
		if !h.Unhealthy() {
			return nil
		}
		if round == 0 {
			stats.Unhealthy++
			e.cfg.Metrics.RecordUnhealthy(label)
		}
		if round >= e.cfg.MaxRounds {
			e.log.Warn().
				Str("obligation", o.Address.String()).
				Int("rounds", round).
				Msg("still unhealthy after round cap")
			return nil
		}

		repay, withdraw, ok := SelectPair(h)
		if !ok {
			e.log.Debug().Str("obligation", o.Address.String()).Msg("no priced deposit or borrow, skipping")
			return nil
		}
		repayReserve, ok := pool.Reserve(repay.Reserve)
		if !ok {
			return &lending.StateReadError{Account: repay.Reserve, Err: lending.ErrAccountNotFound}
		}
		withdrawReserve, ok := pool.Reserve(withdraw.Reserve)
		if !ok {
			return &lending.StateReadError{Account: withdraw.Reserve, Err: lending.ErrAccountNotFound}
		}
		if err := e.checkBalance(ctx, repayReserve); err != nil {
			return err
		}

		sig, err := e.submit(ctx, pool, o, repayReserve, withdrawReserve)
		if err != nil {
			e.cfg.Metrics.RecordLiquidation(label, "failed")
			return err
		}
		stats.Liquidations++
		e.cfg.Metrics.RecordLiquidation(label, "success")
		e.log.Info().
			Str("obligation", o.Address.String()).
			Str("repay", repay.Symbol).
			Str("withdraw", withdraw.Symbol).
			Str("borrowed_value", h.BorrowedValue.String()).
			Str("unhealthy_borrow_value", h.UnhealthyBorrowValue.String()).
			Str("signature", sig.String()).
			Int("round", round+1).
			Msg("liquidated obligation")

		if o, err = e.cfg.Markets.LoadObligation(ctx, o.Address); err != nil {
			return err
		}
		if pool, err = e.cfg.Markets.LoadPool(ctx, pool.Address); err != nil {
			return err
		}
	}
}

func (e *Engine) submit(ctx context.Context, pool *market.Pool, o *lending.Obligation, repay, withdraw *lending.Reserve) (solana.Signature, error) {
	// the program caps how much of the debt one call may repay
	plan, err := e.cfg.Builder.Build(ctx, action.Request{
		Action:       action.Liquidate,
		Pool:         pool,
		Reserve:      withdraw,
		RepayReserve: repay,
		Amount:       lending.U64Max,
		Owner:        e.cfg.Liquidator,
		Obligation:   o.Address,
		LookupTable:  e.cfg.LookupTable,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return e.cfg.Submitter.Submit(ctx, plan)
}

// checkBalance requires the liquidator to hold some of the repay asset
func (e *Engine) checkBalance(ctx context.Context, repay *lending.Reserve) error {
	if repay.Liquidity.Mint.Equals(lending.NativeMint) {
		lamports, err := e.cfg.Wallet.Lamports(ctx, e.cfg.Liquidator)
		if err != nil {
			return lending.NewPreconditionError(lending.ErrInsufficientFunds, "read wallet lamports: %v", err)
		}
		if lamports <= action.NativeFeeReserve {
			return lending.NewPreconditionError(lending.ErrInsufficientFunds, "%d lamports", lamports)
		}
		return nil
	}

	mint := repay.Liquidity.Mint
	if e.cfg.DualMints != nil {
		if dm := e.cfg.DualMints.DualMint(repay.Address); dm.Configured() {
			mint = dm.UnderlyingMint
		}
	}
	ata, err := sol.FindATA(e.cfg.Liquidator, mint)
	if err != nil {
		return err
	}
	balance, err := e.cfg.Wallet.TokenBalance(ctx, ata)
	if err != nil {
		return lending.NewPreconditionError(lending.ErrInsufficientFunds, "read %s balance: %v", mint, err)
	}
	if balance == 0 {
		return lending.NewPreconditionError(lending.ErrInsufficientFunds, "no %s to repay with", mint)
	}
	return nil
}

// SelectPair picks the borrow with the largest market value to repay and the deposit with
// the largest market value to seize.
func SelectPair(h *health.Health) (repay, withdraw health.Position, ok bool) {
	if len(h.Borrows) == 0 || len(h.Deposits) == 0 {
		return health.Position{}, health.Position{}, false
	}
	repay = h.Borrows[0]
	for _, b := range h.Borrows[1:] {
		if b.MarketValue.GT(repay.MarketValue) {
			repay = b
		}
	}
	withdraw = h.Deposits[0]
	for _, d := range h.Deposits[1:] {
		if d.MarketValue.GT(withdraw.MarketValue) {
			withdraw = d
		}
	}
	return repay, withdraw, true
}

func reserveMap(pool *market.Pool) map[solana.PublicKey]*lending.Reserve {
	out := make(map[solana.PublicKey]*lending.Reserve, len(pool.Reserves))
	for _, r := range pool.Reserves {
		out[r.Address] = r
	}
	return out
}

func errorKind(err error) string {
	var (
		precondition *lending.PreconditionError
		stateRead    *lending.StateReadError
		oracleErr    *lending.OracleResolutionError
		submission   *lending.SubmissionError
	)
	switch {
	case errors.As(err, &precondition):
		return "precondition"
	case errors.As(err, &stateRead):
		return "state_read"
	case errors.As(err, &oracleErr):
		return "oracle"
	case errors.As(err, &submission):
		return "submission"
	default:
		return "other"
	}
}
