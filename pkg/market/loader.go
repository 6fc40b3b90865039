package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"sollend/pkg/lending"
	"sollend/pkg/logger"
	"sollend/pkg/sol"
)

// Source is the chain surface the loader needs
type Source interface {
	sol.AccountReader
	sol.ProgramAccountLister
}

// Pool is a lending market with the reserves it hosts, read fresh from chain.
type Pool struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	Owner     solana.PublicKey
	ProgramID solana.PublicKey
	Reserves  []*lending.Reserve
}

// Reserve returns the pool reserve at address
func (p *Pool) Reserve(address solana.PublicKey) (*lending.Reserve, bool) {
	for _, r := range p.Reserves {
		if r.Address.Equals(address) {
			return r, true
		}
	}
	return nil, false
}

// Accounts returns the market accounts referenced by lending instructions
func (p *Pool) Accounts() lending.MarketAccounts {
	return lending.MarketAccounts{Market: p.Address, Authority: p.Authority}
}

// Loader discovers markets, reserves and obligations of the lending program
type Loader struct {
	source    Source
	programID solana.PublicKey
	registry  *Registry
	log       zerolog.Logger
}

func NewLoader(source Source, programID solana.PublicKey, registry *Registry) *Loader {
	return &Loader{
		source:    source,
		programID: programID,
		registry:  registry,
		log:       logger.GetForComponent("market"),
	}
}

func (l *Loader) Registry() *Registry {
	return l.registry
}

// Markets lists every lending market of the program
func (l *Loader) Markets(ctx context.Context) ([]solana.PublicKey, error) {
	accounts, err := l.source.ProgramAccounts(ctx, l.programID, []rpc.RPCFilter{
		{DataSize: lending.LendingMarketSize},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list lending markets: %w", err)
	}
	out := make([]solana.PublicKey, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, acc.Pubkey)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// LoadPool reads the market account and all of its reserves
func (l *Loader) LoadPool(ctx context.Context, address solana.PublicKey) (*Pool, error) {
	accounts, err := l.source.GetAccounts(ctx, []solana.PublicKey{address})
	if err != nil {
		return nil, &lending.StateReadError{Account: address, Err: err}
	}
	data := sol.AccountData(accounts[0])
	if data == nil {
		return nil, &lending.StateReadError{Account: address, Err: lending.ErrAccountNotFound}
	}
	var lm lending.LendingMarket
	if err := lm.Decode(data); err != nil {
		return nil, &lending.StateReadError{Account: address, Err: fmt.Errorf("%w: %v", lending.ErrInvalidAccountData, err)}
	}

	authority, err := lending.MarketAuthority(address, l.programID)
	if err != nil {
		return nil, err
	}

	reserves, err := l.reserves(ctx, address)
	if err != nil {
		return nil, err
	}

	l.log.Debug().Str("market", address.String()).Int("reserves", len(reserves)).Msg("loaded pool")
	return &Pool{
		Address:   address,
		Authority: authority,
		Owner:     lm.Owner,
		ProgramID: l.programID,
		Reserves:  reserves,
	}, nil
}

func (l *Loader) reserves(ctx context.Context, market solana.PublicKey) ([]*lending.Reserve, error) {
	accounts, err := l.source.ProgramAccounts(ctx, l.programID, []rpc.RPCFilter{
		{DataSize: lending.ReserveSize},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: lending.LendingMarketOffset, Bytes: market.Bytes()}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reserves of %s: %w", market, err)
	}

	out := make([]*lending.Reserve, 0, len(accounts))
	for _, acc := range accounts {
		r := &lending.Reserve{Address: acc.Pubkey}
		if err := r.Decode(sol.AccountData(acc.Account)); err != nil {
			l.log.Warn().Err(err).Str("reserve", acc.Pubkey.String()).Msg("skipping undecodable reserve")
			continue
		}
		l.registry.Register(r)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out, nil
}

// Obligations lists every obligation of market
func (l *Loader) Obligations(ctx context.Context, market solana.PublicKey) ([]*lending.Obligation, error) {
	accounts, err := l.source.ProgramAccounts(ctx, l.programID, []rpc.RPCFilter{
		{DataSize: lending.ObligationSize},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: lending.LendingMarketOffset, Bytes: market.Bytes()}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list obligations of %s: %w", market, err)
	}

	out := make([]*lending.Obligation, 0, len(accounts))
	for _, acc := range accounts {
		o := &lending.Obligation{Address: acc.Pubkey}
		if err := o.Decode(sol.AccountData(acc.Account)); err != nil {
			l.log.Warn().Err(err).Str("obligation", acc.Pubkey.String()).Msg("skipping undecodable obligation")
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out, nil
}

// LoadObligation reads one obligation. A missing account is a StateReadError wrapping ErrAccountNotFound.
func (l *Loader) LoadObligation(ctx context.Context, address solana.PublicKey) (*lending.Obligation, error) {
	return LoadObligation(ctx, l.source, address)
}

// LoadObligation reads and decodes one obligation account
func LoadObligation(ctx context.Context, reader sol.AccountReader, address solana.PublicKey) (*lending.Obligation, error) {
	accounts, err := reader.GetAccounts(ctx, []solana.PublicKey{address})
	if err != nil {
		return nil, &lending.StateReadError{Account: address, Err: err}
	}
	data := sol.AccountData(accounts[0])
	if data == nil {
		return nil, &lending.StateReadError{Account: address, Err: lending.ErrAccountNotFound}
	}
	o := &lending.Obligation{Address: address}
	if err := o.Decode(data); err != nil {
		return nil, &lending.StateReadError{Account: address, Err: fmt.Errorf("%w: %v", lending.ErrInvalidAccountData, err)}
	}
	return o, nil
}
