package action

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"sollend/pkg/lending"
	"sollend/pkg/logger"
	"sollend/pkg/market"
	"sollend/pkg/oracle"
	"sollend/pkg/sol"
)

// OracleRefresher builds the oracle updates a set of reserves needs before being refreshed
type OracleRefresher interface {
	Refresh(ctx context.Context, reserves []*lending.Reserve, payer solana.PublicKey) (*oracle.Refresh, error)
}

// DualMintLookup returns the wrapper configured for a reserve, or nil
type DualMintLookup interface {
	DualMint(reserve solana.PublicKey) *lending.DualMint
}

// Request describes one action to build
type Request struct {
	Action  Type
	Pool    *market.Pool
	Reserve *lending.Reserve
	Amount  uint64
	Owner   solana.PublicKey

	// Obligation overrides the owner's derived obligation address
	Obligation solana.PublicKey
	// RepayReserve is the debt side of a liquidation; Reserve is the collateral side
	RepayReserve *lending.Reserve
	// HostATA receives the host share of borrow fees
	HostATA     solana.PublicKey
	LookupTable solana.PublicKey
	// DualMint overrides the registry wrapper of Reserve
	DualMint *lending.DualMint
}

// Builder turns action requests into plans against current chain state
type Builder struct {
	reader    sol.AccountReader
	programID solana.PublicKey
	oracles   OracleRefresher
	dualMints DualMintLookup
	log       zerolog.Logger
}

// NewBuilder creates a builder for the program of env. oracles and dualMints may be nil.
func NewBuilder(reader sol.AccountReader, env lending.Environment, oracles OracleRefresher, dualMints DualMintLookup) *Builder {
	return &Builder{
		reader:    reader,
		programID: env.ProgramID(),
		oracles:   oracles,
		dualMints: dualMints,
		log:       logger.GetForComponent("action"),
	}
}

func (b *Builder) ProgramID() solana.PublicKey {
	return b.programID
}

// Build resolves the request's support requirements and lending instruction into a plan.
// Nothing is returned unless every step succeeds.
func (b *Builder) Build(ctx context.Context, req Request) (*Plan, error) {
	if err := b.validate(&req); err != nil {
		return nil, err
	}

	obligation := req.Obligation
	if obligation.IsZero() {
		addr, err := lending.ObligationAddress(req.Owner, req.Pool.Address, b.programID)
		if err != nil {
			return nil, fmt.Errorf("failed to derive obligation address: %w", err)
		}
		obligation = addr
	}

	user, err := userAccounts(req.Owner, obligation, req.Reserve)
	if err != nil {
		return nil, err
	}
	targets := []solana.PublicKey{req.Reserve.Address}
	accounts := []solana.PublicKey{user.Liquidity, user.Collateral}
	var repayToken solana.PublicKey
	if req.RepayReserve != nil {
		if repayToken, err = sol.FindATA(req.Owner, req.RepayReserve.Liquidity.Mint); err != nil {
			return nil, err
		}
		targets = append(targets, req.RepayReserve.Address)
		accounts = append(accounts, repayToken)
	}

	snap, err := LoadSnapshot(ctx, b.reader, obligation, targets, accounts)
	if err != nil {
		return nil, err
	}
	if snap.Obligation == nil && req.Action.NeedsObligation() {
		return nil, &lending.StateReadError{Account: obligation, Err: lending.ErrAccountNotFound}
	}

	positions := len(snap.Obligation.DistinctReserves(targets...))
	if positions > lending.PositionLimit {
		return nil, lending.NewPreconditionError(lending.ErrPositionLimit,
			"obligation %s would reference %d reserves, limit is %d", obligation, positions, lending.PositionLimit)
	}

	// build against the freshly read reserve state
	reserve, err := snap.Reserve(req.Reserve.Address)
	if err != nil {
		return nil, err
	}
	req.Reserve = reserve
	var repay *lending.Reserve
	if req.RepayReserve != nil {
		if repay, err = snap.Reserve(req.RepayReserve.Address); err != nil {
			return nil, err
		}
		req.RepayReserve = repay
	}

	r := &resolution{
		builder:    b,
		req:        &req,
		snap:       snap,
		plan:       &Plan{Action: req.Action, Obligation: obligation, Owner: req.Owner},
		obligation: obligation,
		market:     req.Pool.Accounts(),
		user:       user,
		repay:      repay,
		repayToken: repayToken,
		positions:  positions,
		planned:    make(map[solana.PublicKey]bool),
		refreshed:  make(map[solana.PublicKey]bool),
		closed:     make(map[solana.PublicKey]bool),
	}
	r.plan.addLookupTables(req.LookupTable)

	for _, capability := range req.Action.Capabilities() {
		if err := resolvers[capability](ctx, r); err != nil {
			return nil, err
		}
	}
	if err := b.addLendingInstruction(r); err != nil {
		return nil, err
	}

	b.log.Debug().
		Str("action", string(req.Action)).
		Str("obligation", obligation.String()).
		Int("setup", len(r.plan.Setup)).
		Int("pre", len(r.plan.Pre)).
		Int("post", len(r.plan.Post)).
		Int("cleanup", len(r.plan.Cleanup)).
		Int("companions", len(r.plan.Companions)).
		Msg("built action plan")
	return r.plan, nil
}

func (b *Builder) validate(req *Request) error {
	if !req.Action.Valid() {
		return fmt.Errorf("unknown action %q", req.Action)
	}
	if req.Pool == nil || req.Reserve == nil {
		return fmt.Errorf("%s requires a pool and a reserve", req.Action)
	}
	if req.Owner.IsZero() {
		return fmt.Errorf("%s requires an owner", req.Action)
	}
	if !req.Reserve.LendingMarket.IsZero() && !req.Reserve.LendingMarket.Equals(req.Pool.Address) {
		return fmt.Errorf("reserve %s belongs to market %s, not %s", req.Reserve.Address, req.Reserve.LendingMarket, req.Pool.Address)
	}
	if req.Action == Liquidate {
		if req.RepayReserve == nil || req.RepayReserve.Address.Equals(req.Reserve.Address) {
			return lending.NewPreconditionError(lending.ErrMissingRepayReserve, "withdraw reserve %s", req.Reserve.Address)
		}
		if req.Obligation.IsZero() {
			return fmt.Errorf("liquidation requires the target obligation")
		}
	} else {
		req.RepayReserve = nil
	}
	return nil
}

func userAccounts(owner, obligation solana.PublicKey, reserve *lending.Reserve) (lending.UserAccounts, error) {
	liquidity, err := sol.FindATA(owner, reserve.Liquidity.Mint)
	if err != nil {
		return lending.UserAccounts{}, err
	}
	collateral, err := sol.FindATA(owner, reserve.Collateral.Mint)
	if err != nil {
		return lending.UserAccounts{}, err
	}
	return lending.UserAccounts{
		Owner:      owner,
		Obligation: obligation,
		Liquidity:  liquidity,
		Collateral: collateral,
	}, nil
}

// addLendingInstruction appends the action's single lending instruction
func (b *Builder) addLendingInstruction(r *resolution) error {
	program := b.programID
	req := r.req
	m := r.market
	res := lending.ReserveAccountsOf(req.Reserve)
	u := r.user
	whole := req.Amount == lending.U64Max && req.Action.HasMaxVariant()

	var ix solana.Instruction
	switch req.Action {
	case Deposit:
		// deposits need the reserve refreshed in the same transaction
		r.refreshReserve(req.Reserve)
		if whole {
			ix = lending.DepositMaxReserveLiquidityAndObligationCollateral(program, m, res, u)
		} else {
			ix = lending.DepositReserveLiquidityAndObligationCollateral(program, req.Amount, m, res, u)
		}
	case Borrow:
		ix = lending.BorrowObligationLiquidity(program, req.Amount, m, res, u, req.HostATA)
	case Withdraw:
		if whole {
			ix = lending.WithdrawMaxObligationCollateralAndRedeemReserveLiquidity(program, m, res, u)
		} else {
			ix = lending.WithdrawObligationCollateralAndRedeemReserveLiquidity(program, req.Amount, m, res, u)
		}
	case Repay:
		if whole {
			ix = lending.RepayMaxObligationLiquidity(program, m, res, u)
		} else {
			ix = lending.RepayObligationLiquidity(program, req.Amount, m, res, u)
		}
	case Mint:
		r.refreshReserve(req.Reserve)
		ix = lending.DepositReserveLiquidity(program, req.Amount, m, res, u)
	case Redeem:
		ix = lending.RedeemReserveCollateral(program, req.Amount, m, res, u)
	case DepositCollateral:
		ix = lending.DepositObligationCollateral(program, req.Amount, m, res, u)
	case WithdrawCollateral:
		ix = lending.WithdrawObligationCollateral(program, req.Amount, m, res, u)
	case Forgive:
		ix = lending.ForgiveDebt(program, req.Amount, r.obligation, req.Reserve.Address, m.Market, req.Owner)
	case Liquidate:
		if r.repay == nil || !r.exists(r.repayToken) {
			return lending.NewPreconditionError(lending.ErrMissingRepayReserve,
				"repay token account %s is not initialized", r.repayToken)
		}
		ix = lending.LiquidateObligationAndRedeemReserveCollateral(program, req.Amount, m,
			lending.ReserveAccountsOf(r.repay), res,
			lending.LiquidationAccounts{
				Liquidator:         req.Owner,
				Obligation:         r.obligation,
				RepayLiquidity:     r.repayToken,
				WithdrawCollateral: u.Collateral,
				WithdrawLiquidity:  u.Liquidity,
			})
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
	r.plan.add(Lending, ix)
	return nil
}
