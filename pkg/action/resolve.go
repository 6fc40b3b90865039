package action

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"sollend/pkg/lending"
	"sollend/pkg/sol"
)

// resolution carries the state of one build through the capability resolvers
type resolution struct {
	builder *Builder
	req     *Request
	snap    *Snapshot
	plan    *Plan

	obligation solana.PublicKey
	market     lending.MarketAccounts
	user       lending.UserAccounts
	// repay side of a liquidation
	repay      *lending.Reserve
	repayToken solana.PublicKey

	positions int
	planned   map[solana.PublicKey]bool
	refreshed map[solana.PublicKey]bool
	closed    map[solana.PublicKey]bool
}

type resolver func(ctx context.Context, r *resolution) error

var resolvers = map[Capability]resolver{
	CapCreateObligation:    resolveCreateObligation,
	CapWSOL:                resolveWSOL,
	CapWrap:                resolveWrap,
	CapUnwrap:              resolveUnwrap,
	CapATA:                 resolveATA,
	CapCollateralATA:       resolveCollateralATA,
	CapRefreshReserves:     resolveRefreshReserves,
	CapRefreshObligation:   resolveRefreshObligation,
	CapWrapUnwrapLiquidate: resolveWrapUnwrapLiquidate,
}

// exists reports whether key is on chain or already created earlier in the plan
func (r *resolution) exists(key solana.PublicKey) bool {
	return r.snap.Exists(key) || r.planned[key]
}

// fullPosition is the joint condition under which account creation moves out of setup
// and into the pre/post buckets.
func (r *resolution) fullPosition() bool {
	return r.positions >= lending.PositionLimit && !r.req.HostATA.IsZero() && r.req.LookupTable.IsZero()
}

func (r *resolution) creationBucket() Bucket {
	if r.fullPosition() {
		return Pre
	}
	return Setup
}

func (r *resolution) teardownBucket() Bucket {
	if r.fullPosition() {
		return Post
	}
	return Cleanup
}

// createATA emits an idempotent creation of owner's account for mint unless it exists
func (r *resolution) createATA(b Bucket, mint solana.PublicKey) error {
	ata, err := sol.FindATA(r.req.Owner, mint)
	if err != nil {
		return err
	}
	if r.exists(ata) {
		return nil
	}
	ix, err := sol.CreateATAIdempotent(r.req.Owner, r.req.Owner, mint)
	if err != nil {
		return err
	}
	r.plan.add(b, ix)
	r.planned[ata] = true
	return nil
}

func resolveCreateObligation(ctx context.Context, r *resolution) error {
	if r.exists(r.obligation) {
		return nil
	}
	rent, err := r.builder.reader.RentExemptBalance(ctx, lending.ObligationSize)
	if err != nil {
		return fmt.Errorf("failed to get obligation rent: %w", err)
	}
	create, err := sol.CreateAccountWithSeed(r.req.Owner, r.req.Owner, lending.ObligationSeed(r.market.Market), rent, lending.ObligationSize, r.builder.programID)
	if err != nil {
		return err
	}
	r.plan.add(Setup, create, lending.InitObligation(r.builder.programID, r.obligation, r.market.Market, r.req.Owner))
	r.planned[r.obligation] = true
	return nil
}

func resolveATA(ctx context.Context, r *resolution) error {
	return r.createATA(r.creationBucket(), r.req.Reserve.Liquidity.Mint)
}

func resolveCollateralATA(ctx context.Context, r *resolution) error {
	return r.createATA(r.creationBucket(), r.req.Reserve.Collateral.Mint)
}

// refreshTargets is every reserve the obligation touches plus the reserves the action adds
func (r *resolution) refreshTargets() []solana.PublicKey {
	extra := []solana.PublicKey{r.req.Reserve.Address}
	if r.repay != nil {
		extra = append(extra, r.repay.Address)
	}
	return r.snap.Obligation.DistinctReserves(extra...)
}

func resolveRefreshReserves(ctx context.Context, r *resolution) error {
	reserves, err := r.snap.ReserveList(r.refreshTargets())
	if err != nil {
		return err
	}

	if r.builder.oracles != nil {
		refresh, err := r.builder.oracles.Refresh(ctx, reserves, r.req.Owner)
		if err != nil {
			return err
		}
		r.plan.add(Pre, refresh.Instructions...)
		r.plan.addLookupTables(refresh.LookupTables...)
		r.plan.Companions = append(r.plan.Companions, refresh.Companions...)
	}

	for _, reserve := range reserves {
		r.refreshReserve(reserve)
	}
	return nil
}

func (r *resolution) refreshReserve(reserve *lending.Reserve) {
	if r.refreshed[reserve.Address] {
		return
	}
	r.plan.add(Setup, lending.RefreshReserve(r.builder.programID, lending.ReserveAccountsOf(reserve)))
	r.refreshed[reserve.Address] = true
}

func resolveRefreshObligation(ctx context.Context, r *resolution) error {
	o := r.snap.Obligation
	var deposits, borrows []solana.PublicKey
	if o != nil {
		deposits = o.DepositReserves()
		borrows = o.BorrowReserves()
	}
	r.plan.add(Setup, lending.RefreshObligation(r.builder.programID, r.obligation, deposits, borrows))
	return nil
}

// dualMint returns the wrapper of reserve, if one is configured
func (r *resolution) dualMint(reserve *lending.Reserve) (*lending.DualMint, error) {
	var dm *lending.DualMint
	if reserve.Address.Equals(r.req.Reserve.Address) && r.req.DualMint != nil {
		dm = r.req.DualMint
	} else if r.builder.dualMints != nil {
		dm = r.builder.dualMints.DualMint(reserve.Address)
	}
	if !dm.Configured() {
		return nil, nil
	}
	if !dm.WrappedMint.Equals(reserve.Liquidity.Mint) {
		return nil, lending.NewPreconditionError(lending.ErrWrapperState,
			"reserve %s lends %s but wrapper mints %s", reserve.Address, reserve.Liquidity.Mint, dm.WrappedMint)
	}
	return dm, nil
}

// wrap converts the owner's underlying tokens into the reserve's wrapped mint ahead of the
// lending instruction.
func (r *resolution) wrap(ctx context.Context, reserve *lending.Reserve, amount uint64) error {
	dm, err := r.dualMint(reserve)
	if err != nil || dm == nil {
		return err
	}
	underlying, err := sol.FindATA(r.req.Owner, dm.UnderlyingMint)
	if err != nil {
		return err
	}
	wrapped, err := sol.FindATA(r.req.Owner, dm.WrappedMint)
	if err != nil {
		return err
	}
	if amount == lending.U64Max {
		balance, err := r.builder.reader.TokenBalance(ctx, underlying)
		if err != nil {
			return lending.NewPreconditionError(lending.ErrWrapperState, "underlying account %s: %v", underlying, err)
		}
		amount = balance
	}
	if err := r.createATA(Pre, dm.WrappedMint); err != nil {
		return err
	}
	r.plan.add(Pre, lending.DepositAndMintWrapper(*dm, amount, r.req.Owner, underlying, wrapped))
	return nil
}

// unwrap burns the whole wrapped balance back into underlying tokens after the lending instruction
func (r *resolution) unwrap(reserve *lending.Reserve) error {
	dm, err := r.dualMint(reserve)
	if err != nil || dm == nil {
		return err
	}
	underlying, err := sol.FindATA(r.req.Owner, dm.UnderlyingMint)
	if err != nil {
		return err
	}
	wrapped, err := sol.FindATA(r.req.Owner, dm.WrappedMint)
	if err != nil {
		return err
	}
	if err := r.createATA(Pre, dm.UnderlyingMint); err != nil {
		return err
	}
	r.plan.add(Post, lending.WithdrawAndBurnWrapper(*dm, lending.U64Max, r.req.Owner, wrapped, underlying))
	return nil
}

func resolveWrap(ctx context.Context, r *resolution) error {
	return r.wrap(ctx, r.req.Reserve, r.req.Amount)
}

func resolveUnwrap(ctx context.Context, r *resolution) error {
	return r.unwrap(r.req.Reserve)
}

// resolveWrapUnwrapLiquidate wraps the repay asset and unwraps the seized collateral
func resolveWrapUnwrapLiquidate(ctx context.Context, r *resolution) error {
	if err := r.wrap(ctx, r.repay, r.req.Amount); err != nil {
		return err
	}
	return r.unwrap(r.req.Reserve)
}
