package action

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"sollend/pkg/lending"
	"sollend/pkg/lending/lendingtest"
	"sollend/pkg/market"
	"sollend/pkg/oracle"
	"sollend/pkg/sol"
)

type fixture struct {
	chain   *lendingtest.Chain
	program solana.PublicKey
	pool    *market.Pool
	usdc    *lending.Reserve
	wsol    *lending.Reserve
	owner   solana.PublicKey
	builder *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := lendingtest.NewChain()
	program := lending.ProductionProgramID
	marketKey := lendingtest.NewKey()
	authority, err := lending.MarketAuthority(marketKey, program)
	require.NoError(t, err)

	usdc := lendingtest.NewReserve(marketKey, lendingtest.NewKey(), 6)
	wsol := lendingtest.NewReserve(marketKey, lending.NativeMint, 9)
	chain.SetReserve(usdc, program)
	chain.SetReserve(wsol, program)

	owner := lendingtest.NewKey()
	chain.SetLamports(owner, 10_000_000_000)

	return &fixture{
		chain:   chain,
		program: program,
		pool: &market.Pool{
			Address:   marketKey,
			Authority: authority,
			ProgramID: program,
			Reserves:  []*lending.Reserve{usdc, wsol},
		},
		usdc:    usdc,
		wsol:    wsol,
		owner:   owner,
		builder: NewBuilder(chain, lending.EnvProduction, nil, nil),
	}
}

func (f *fixture) reserve() *lending.Reserve {
	r := lendingtest.NewReserve(f.pool.Address, lendingtest.NewKey(), 6)
	f.chain.SetReserve(r, f.program)
	return r
}

// openObligation stores an obligation of owner depositing into deposits and borrowing 1000 units from borrows
func (f *fixture) openObligation(t *testing.T, owner solana.PublicKey, deposits, borrows []*lending.Reserve) *lending.Obligation {
	t.Helper()
	addr, err := lending.ObligationAddress(owner, f.pool.Address, f.program)
	require.NoError(t, err)
	o := &lending.Obligation{Address: addr, LendingMarket: f.pool.Address, Owner: owner}
	for _, r := range deposits {
		o.Deposits = append(o.Deposits, lending.ObligationCollateral{DepositReserve: r.Address, DepositedAmount: 1_000})
	}
	for _, r := range borrows {
		o.Borrows = append(o.Borrows, lending.ObligationLiquidity{
			BorrowReserve:            r.Address,
			BorrowedAmountWads:       lendingtest.Wad(1000),
			CumulativeBorrowRateWads: lendingtest.Wad(1),
		})
	}
	f.chain.SetObligation(o, f.program)
	return o
}

func (f *fixture) tokenAccount(t *testing.T, owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	t.Helper()
	ata, err := sol.FindATA(owner, mint)
	require.NoError(t, err)
	f.chain.SetTokenAccount(ata, amount)
	return ata
}

func (f *fixture) request(action Type, reserve *lending.Reserve, amount uint64) Request {
	return Request{Action: action, Pool: f.pool, Reserve: reserve, Amount: amount, Owner: f.owner}
}

func tagOf(t *testing.T, ix solana.Instruction) byte {
	t.Helper()
	data, err := ix.Data()
	require.NoError(t, err)
	require.NotEmpty(t, data)
	return data[0]
}

func systemInstruction(ix solana.Instruction) (uint32, []byte, bool) {
	if !ix.ProgramID().Equals(solana.SystemProgramID) {
		return 0, nil, false
	}
	data, err := ix.Data()
	if err != nil || len(data) < 4 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint32(data), data, true
}

func transferLamports(t *testing.T, ix solana.Instruction) uint64 {
	t.Helper()
	id, data, ok := systemInstruction(ix)
	require.True(t, ok)
	require.Equal(t, uint32(2), id)
	return binary.LittleEndian.Uint64(data[4:12])
}

// createdAccount returns the account an instruction creates, if it creates one
func createdAccount(ix solana.Instruction) (solana.PublicKey, bool) {
	if ix.ProgramID().Equals(solana.SPLAssociatedTokenAccountProgramID) {
		return ix.Accounts()[1].PublicKey, true
	}
	if id, _, ok := systemInstruction(ix); ok && id == 3 {
		return ix.Accounts()[1].PublicKey, true
	}
	return solana.PublicKey{}, false
}

func isLending(ix solana.Instruction, program solana.PublicKey, tag lending.InstructionTag) bool {
	if !ix.ProgramID().Equals(program) {
		return false
	}
	data, err := ix.Data()
	return err == nil && len(data) > 0 && data[0] == byte(tag)
}

func countCreations(ixs []solana.Instruction) int {
	n := 0
	for _, ix := range ixs {
		if _, ok := createdAccount(ix); ok {
			n++
		}
	}
	return n
}

// assertOrdered checks that no instruction other than a lamport transfer references an
// account before the instruction creating it, and that obligation refreshes follow every
// reserve refresh.
func assertOrdered(t *testing.T, plan *Plan, program solana.PublicKey) {
	t.Helper()
	ixs := plan.Instructions()

	created := make(map[solana.PublicKey]int)
	for i, ix := range ixs {
		if k, ok := createdAccount(ix); ok {
			if _, dup := created[k]; !dup {
				created[k] = i
			}
		}
	}
	for i, ix := range ixs {
		if id, _, ok := systemInstruction(ix); ok && id == 2 {
			continue
		}
		for _, meta := range ix.Accounts() {
			if at, ok := created[meta.PublicKey]; ok {
				assert.GreaterOrEqual(t, i, at, "%s referenced at %d before creation at %d", meta.PublicKey, i, at)
			}
		}
	}

	lastRefresh, firstObligationRefresh := -1, len(ixs)
	for i, ix := range ixs {
		if isLending(ix, program, lending.TagRefreshReserve) {
			lastRefresh = i
		}
		if isLending(ix, program, lending.TagRefreshObligation) && i < firstObligationRefresh {
			firstObligationRefresh = i
		}
	}
	assert.Less(t, lastRefresh, firstObligationRefresh)
}

func TestCapabilityTable(t *testing.T) {
	assert.Equal(t, []Capability{CapWSOL, CapWrap, CapCreateObligation, CapCollateralATA}, Deposit.Capabilities())
	assert.Equal(t,
		[]Capability{CapWSOL, CapATA, CapCollateralATA, CapWrapUnwrapLiquidate, CapRefreshReserves, CapRefreshObligation},
		Liquidate.Capabilities())

	for _, a := range Types {
		assert.True(t, a.Valid(), a)
		for _, c := range a.Capabilities() {
			assert.Contains(t, resolvers, c)
		}
	}
	assert.True(t, Repay.Funding())
	assert.False(t, Withdraw.Funding())
	assert.False(t, Borrow.HasMaxVariant())

	parsed, err := ParseType("WithdrawCollateral")
	require.NoError(t, err)
	assert.Equal(t, WithdrawCollateral, parsed)
	_, err = ParseType("flashloan")
	require.Error(t, err)
}

func TestDepositCreatesObligationAndAccounts(t *testing.T) {
	f := newFixture(t)

	plan, err := f.builder.Build(context.Background(), f.request(Deposit, f.usdc, 100))
	require.NoError(t, err)

	require.Len(t, plan.Setup, 4)
	_, isCreate := createdAccount(plan.Setup[0])
	assert.True(t, isCreate)
	assert.Equal(t, plan.Obligation, plan.Setup[0].Accounts()[1].PublicKey)
	assert.True(t, isLending(plan.Setup[1], f.program, lending.TagInitObligation))
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, plan.Setup[2].ProgramID())
	assert.True(t, isLending(plan.Setup[3], f.program, lending.TagRefreshReserve))

	require.Len(t, plan.Lending, 1)
	assert.Equal(t, byte(lending.TagDepositReserveLiquidityAndObligationCollateral), tagOf(t, plan.Lending[0]))
	assert.Empty(t, plan.Pre)
	assert.Empty(t, plan.Post)
	assert.Empty(t, plan.Cleanup)
}

func TestAccountCreationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("resolving twice emits once", func(t *testing.T) {
		req := f.request(Deposit, f.usdc, 10)
		user, err := userAccounts(f.owner, lendingtest.NewKey(), f.usdc)
		require.NoError(t, err)
		r := &resolution{
			builder:    f.builder,
			req:        &req,
			snap:       &Snapshot{Reserves: map[solana.PublicKey]*lending.Reserve{}, existing: map[solana.PublicKey]bool{}},
			plan:       &Plan{},
			obligation: user.Obligation,
			market:     f.pool.Accounts(),
			user:       user,
			planned:    map[solana.PublicKey]bool{},
			refreshed:  map[solana.PublicKey]bool{},
			closed:     map[solana.PublicKey]bool{},
		}
		for i := 0; i < 2; i++ {
			require.NoError(t, resolveCreateObligation(ctx, r))
			require.NoError(t, resolveATA(ctx, r))
			require.NoError(t, resolveCollateralATA(ctx, r))
		}
		// create account + init obligation + two token accounts
		assert.Len(t, r.plan.Setup, 4)
		assert.Equal(t, 3, countCreations(r.plan.Setup))
	})

	t.Run("existing accounts are not recreated", func(t *testing.T) {
		f.openObligation(t, f.owner, []*lending.Reserve{f.usdc}, nil)
		f.tokenAccount(t, f.owner, f.usdc.Liquidity.Mint, 5)
		f.tokenAccount(t, f.owner, f.usdc.Collateral.Mint, 5)

		for i := 0; i < 2; i++ {
			plan, err := f.builder.Build(ctx, f.request(Deposit, f.usdc, 10))
			require.NoError(t, err)
			assert.Zero(t, countCreations(plan.Instructions()))
			assert.False(t, isLending(plan.Setup[0], f.program, lending.TagInitObligation))
		}
	})
}

func TestPositionLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deposits := []*lending.Reserve{f.usdc, f.reserve(), f.reserve()}
	borrows := []*lending.Reserve{f.wsol, f.reserve(), f.reserve()}
	f.openObligation(t, f.owner, deposits, borrows)

	seventh := f.reserve()
	plan, err := f.builder.Build(ctx, f.request(Borrow, seventh, 10))
	require.Nil(t, plan)
	var pre *lending.PreconditionError
	require.True(t, errors.As(err, &pre))
	assert.ErrorIs(t, err, lending.ErrPositionLimit)

	// an action on a reserve the obligation already uses stays within the limit
	plan, err = f.builder.Build(ctx, f.request(Borrow, deposits[1], 10))
	require.NoError(t, err)
	assert.Len(t, plan.Lending, 1)
}

func TestBucketOrderingForEveryAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.openObligation(t, f.owner, []*lending.Reserve{f.usdc}, []*lending.Reserve{f.wsol})

	for _, reserve := range []*lending.Reserve{f.usdc, f.wsol} {
		for _, a := range Types {
			if a == Liquidate {
				continue
			}
			name := string(a)
			if reserve == f.wsol {
				name += "/native"
			}
			t.Run(name, func(t *testing.T) {
				plan, err := f.builder.Build(ctx, f.request(a, reserve, 1_000))
				require.NoError(t, err)
				require.Len(t, plan.Lending, 1)
				assertOrdered(t, plan, f.program)
			})
		}
	}

	t.Run("liquidate", func(t *testing.T) {
		liquidator := lendingtest.NewKey()
		f.chain.SetLamports(liquidator, 5_000_000_000)
		req := Request{
			Action:       Liquidate,
			Pool:         f.pool,
			Reserve:      f.usdc,
			RepayReserve: f.wsol,
			Amount:       lending.U64Max,
			Owner:        liquidator,
			Obligation:   o.Address,
		}
		plan, err := f.builder.Build(ctx, req)
		require.NoError(t, err)
		require.Len(t, plan.Lending, 1)
		assert.Equal(t, byte(lending.TagLiquidateObligationAndRedeemReserveCollateral), tagOf(t, plan.Lending[0]))
		assertOrdered(t, plan, f.program)

		// the native repay side is funded with the spendable wallet balance
		assert.Equal(t, uint64(5_000_000_000)-NativeFeeReserve+f.chain.Rent, transferLamports(t, plan.Setup[0]))
		assert.Len(t, plan.Cleanup, 1)
	})
}

func TestSentinelSelectsMaxVariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openObligation(t, f.owner, []*lending.Reserve{f.usdc}, []*lending.Reserve{f.usdc})

	tests := []struct {
		action  Type
		max     lending.InstructionTag
		literal lending.InstructionTag
	}{
		{Deposit, lending.TagDepositMaxReserveLiquidityAndObligationCollateral, lending.TagDepositReserveLiquidityAndObligationCollateral},
		{Withdraw, lending.TagWithdrawMaxObligationCollateralAndRedeemLiquidity, lending.TagWithdrawObligationCollateralAndRedeemReserveLiquidity},
		{Repay, lending.TagRepayMaxObligationLiquidity, lending.TagRepayObligationLiquidity},
		{Borrow, lending.TagBorrowObligationLiquidity, lending.TagBorrowObligationLiquidity},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			plan, err := f.builder.Build(ctx, f.request(tt.action, f.usdc, lending.U64Max))
			require.NoError(t, err)
			require.Len(t, plan.Lending, 1)
			data, err := plan.Lending[0].Data()
			require.NoError(t, err)
			assert.Equal(t, byte(tt.max), data[0])
			if tt.max != tt.literal {
				assert.Len(t, data, 1)
			}

			for _, amount := range []uint64{0, 1, 1_000, lending.U64Max - 1} {
				plan, err := f.builder.Build(ctx, f.request(tt.action, f.usdc, amount))
				require.NoError(t, err)
				data, err := plan.Lending[0].Data()
				require.NoError(t, err)
				assert.Equal(t, byte(tt.literal), data[0])
				assert.Equal(t, amount, binary.LittleEndian.Uint64(data[1:9]))
			}
		})
	}
}

func TestNativeRepaySizing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openObligation(t, f.owner, []*lending.Reserve{f.usdc}, []*lending.Reserve{f.wsol})
	f.wsol.Liquidity.CumulativeBorrowRateWads = uint128.From64(1_050_000_000_000_000_000)
	f.chain.SetReserve(f.wsol, f.program)

	t.Run("existing wrapped account is topped up and synced", func(t *testing.T) {
		ata := f.tokenAccount(t, f.owner, lending.NativeMint, 0)
		defer f.chain.Delete(ata)

		plan, err := f.builder.Build(ctx, f.request(Repay, f.wsol, lending.U64Max))
		require.NoError(t, err)
		assert.Equal(t, uint64(1050+1_000_000), transferLamports(t, plan.Setup[0]))
		assert.Equal(t, solana.TokenProgramID, plan.Setup[1].ProgramID())
		assert.Equal(t, byte(lending.TagRepayMaxObligationLiquidity), tagOf(t, plan.Lending[0]))
		assert.Empty(t, plan.Cleanup)
	})

	t.Run("missing wrapped account is created with rent and closed", func(t *testing.T) {
		plan, err := f.builder.Build(ctx, f.request(Repay, f.wsol, lending.U64Max))
		require.NoError(t, err)
		assert.Equal(t, uint64(1050+1_000_000)+f.chain.Rent, transferLamports(t, plan.Setup[0]))
		assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, plan.Setup[1].ProgramID())
		require.Len(t, plan.Cleanup, 1)
		assert.Equal(t, solana.TokenProgramID, plan.Cleanup[0].ProgramID())
	})

	t.Run("no debt in reserve", func(t *testing.T) {
		other := f.reserve()
		other.Liquidity.Mint = lending.NativeMint
		f.chain.SetReserve(other, f.program)
		_, err := f.builder.Build(ctx, f.request(Repay, other, lending.U64Max))
		assert.ErrorIs(t, err, lending.ErrNoDebt)
	})
}

func TestFullPositionRoutesCreationToPre(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposits := []*lending.Reserve{f.usdc, f.reserve(), f.reserve()}
	borrows := []*lending.Reserve{f.wsol, f.reserve(), f.reserve()}
	f.openObligation(t, f.owner, deposits, borrows)
	host := lendingtest.NewKey()

	t.Run("host set without lookup table", func(t *testing.T) {
		req := f.request(Borrow, f.wsol, 1_000)
		req.HostATA = host
		plan, err := f.builder.Build(ctx, req)
		require.NoError(t, err)

		assert.Zero(t, countCreations(plan.Setup))
		assert.Equal(t, 1, countCreations(plan.Pre))
		require.Len(t, plan.Post, 1)
		assert.Empty(t, plan.Cleanup)
		// six reserve refreshes then the obligation refresh
		assert.Len(t, plan.Setup, 7)
		assertOrdered(t, plan, f.program)
	})

	t.Run("lookup table keeps creation in setup", func(t *testing.T) {
		req := f.request(Borrow, f.wsol, 1_000)
		req.HostATA = host
		req.LookupTable = lendingtest.NewKey()
		plan, err := f.builder.Build(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, 1, countCreations(plan.Setup))
		assert.Empty(t, plan.Post)
		assert.Len(t, plan.Cleanup, 1)
		assert.Equal(t, []solana.PublicKey{req.LookupTable}, plan.LookupTables)
	})

	t.Run("no host keeps creation in setup", func(t *testing.T) {
		plan, err := f.builder.Build(ctx, f.request(Borrow, f.wsol, 1_000))
		require.NoError(t, err)
		assert.Equal(t, 1, countCreations(plan.Setup))
		assert.Empty(t, plan.Pre)
	})
}

func TestLiquidateRequiresRepayContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.openObligation(t, f.owner, []*lending.Reserve{f.usdc}, []*lending.Reserve{f.wsol})
	debt := f.reserve()
	liquidator := lendingtest.NewKey()

	base := Request{Action: Liquidate, Pool: f.pool, Reserve: f.usdc, Amount: lending.U64Max, Owner: liquidator, Obligation: o.Address}

	_, err := f.builder.Build(ctx, base)
	assert.ErrorIs(t, err, lending.ErrMissingRepayReserve)

	same := base
	same.RepayReserve = f.usdc
	_, err = f.builder.Build(ctx, same)
	assert.ErrorIs(t, err, lending.ErrMissingRepayReserve)

	// liquidator holds no account for the repay mint
	missing := base
	missing.RepayReserve = debt
	plan, err := f.builder.Build(ctx, missing)
	assert.Nil(t, plan)
	var pre *lending.PreconditionError
	require.True(t, errors.As(err, &pre))
	assert.ErrorIs(t, err, lending.ErrMissingRepayReserve)

	f.tokenAccount(t, liquidator, debt.Liquidity.Mint, 1_000)
	plan, err = f.builder.Build(ctx, missing)
	require.NoError(t, err)
	assert.Len(t, plan.Lending, 1)
}

func TestMissingObligationIsStateReadError(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), f.request(Repay, f.usdc, 10))

	var readErr *lending.StateReadError
	require.True(t, errors.As(err, &readErr))
	assert.ErrorIs(t, err, lending.ErrAccountNotFound)
}

type fakeRefresher struct {
	reserves []solana.PublicKey
	result   *oracle.Refresh
	err      error
}

func (f *fakeRefresher) Refresh(ctx context.Context, reserves []*lending.Reserve, payer solana.PublicKey) (*oracle.Refresh, error) {
	for _, r := range reserves {
		f.reserves = append(f.reserves, r.Address)
	}
	return f.result, f.err
}

func TestOracleRefreshMergesIntoPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openObligation(t, f.owner, []*lending.Reserve{f.usdc}, []*lending.Reserve{f.wsol})

	update := solana.NewInstruction(oracle.SwitchboardOnDemandProgramID, nil, []byte{1})
	table := lendingtest.NewKey()
	refresher := &fakeRefresher{result: &oracle.Refresh{
		Instructions: []solana.Instruction{update},
		LookupTables: []solana.PublicKey{table},
		Companions:   []sol.PreparedTransaction{{}},
	}}
	b := NewBuilder(f.chain, lending.EnvProduction, refresher, nil)

	plan, err := b.Build(ctx, f.request(Borrow, f.usdc, 10))
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{f.usdc.Address, f.wsol.Address}, refresher.reserves)
	assert.Equal(t, []solana.Instruction{update}, plan.Pre)
	assert.Equal(t, []solana.PublicKey{table}, plan.LookupTables)
	assert.Len(t, plan.Companions, 1)

	refresher.err = &lending.OracleResolutionError{Reserve: f.wsol.Address, Err: lending.ErrAccountNotFound}
	plan, err = b.Build(ctx, f.request(Borrow, f.usdc, 10))
	assert.Nil(t, plan)
	var oracleErr *lending.OracleResolutionError
	require.True(t, errors.As(err, &oracleErr))
}

func TestWrappedReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openObligation(t, f.owner, []*lending.Reserve{f.usdc}, nil)
	dm := &lending.DualMint{
		Program:        lendingtest.NewKey(),
		UnderlyingMint: lendingtest.NewKey(),
		WrappedMint:    f.usdc.Liquidity.Mint,
		Escrow:         lendingtest.NewKey(),
		MintAuthority:  lendingtest.NewKey(),
	}

	t.Run("deposit wraps before lending", func(t *testing.T) {
		req := f.request(Deposit, f.usdc, 500)
		req.DualMint = dm
		plan, err := f.builder.Build(ctx, req)
		require.NoError(t, err)
		require.Len(t, plan.Pre, 2)
		assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, plan.Pre[0].ProgramID())
		assert.Equal(t, dm.Program, plan.Pre[1].ProgramID())
		data, err := plan.Pre[1].Data()
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0xf4, 1, 0, 0, 0, 0, 0, 0}, data)
	})

	t.Run("withdraw unwraps after lending", func(t *testing.T) {
		req := f.request(Withdraw, f.usdc, 500)
		req.DualMint = dm
		plan, err := f.builder.Build(ctx, req)
		require.NoError(t, err)
		require.Len(t, plan.Post, 1)
		assert.Equal(t, dm.Program, plan.Post[0].ProgramID())
		underlying, err := sol.FindATA(f.owner, dm.UnderlyingMint)
		require.NoError(t, err)
		k, ok := createdAccount(plan.Pre[0])
		require.True(t, ok)
		assert.Equal(t, underlying, k)
		assertOrdered(t, plan, f.program)
	})

	t.Run("wrapper for another mint", func(t *testing.T) {
		bad := *dm
		bad.WrappedMint = lendingtest.NewKey()
		req := f.request(Deposit, f.usdc, 500)
		req.DualMint = &bad
		_, err := f.builder.Build(ctx, req)
		assert.ErrorIs(t, err, lending.ErrWrapperState)
	})
}

func TestPlanSegments(t *testing.T) {
	ix := func(b byte) solana.Instruction { return solana.NewInstruction(solana.SystemProgramID, nil, []byte{b}) }
	p := &Plan{}
	p.add(Cleanup, ix(5))
	p.add(Lending, ix(3))
	p.add(Setup, ix(1))
	p.add(Post, ix(4))
	p.add(Pre, ix(2))

	var order []byte
	for _, in := range p.Instructions() {
		data, _ := in.Data()
		order = append(order, data[0])
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, order)

	segments := p.Segments()
	require.Len(t, segments, 3)
	assert.Len(t, segments[0], 1)
	assert.Len(t, segments[1], 3)
	assert.Len(t, segments[2], 1)
	assert.Equal(t, 5, p.Len())
}

type fakeSender struct {
	calls [][]*solana.Transaction
	err   error
}

func (f *fakeSender) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{7}, nil
}

func (f *fakeSender) TipInstruction(payer solana.PublicKey) (solana.Instruction, error) {
	return nil, nil
}

func (f *fakeSender) Submit(ctx context.Context, txs []*solana.Transaction) (solana.Signature, error) {
	f.calls = append(f.calls, txs)
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	return txs[0].Signatures[0], nil
}

func TestSubmitterSendsCompanionsFirst(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	chain := lendingtest.NewChain()

	companion, err := solana.NewTransaction(
		[]solana.Instruction{sol.Transfer(payer.PublicKey(), lendingtest.NewKey(), 1)},
		solana.Hash{1},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)

	plan := &Plan{Action: Borrow, Companions: []sol.PreparedTransaction{{Tx: companion}}}
	plan.add(Setup, sol.Transfer(payer.PublicKey(), lendingtest.NewKey(), 10))
	plan.add(Lending, lending.RefreshObligation(lending.ProductionProgramID, lendingtest.NewKey(), nil, nil))

	sender := &fakeSender{}
	sig, err := NewSubmitter(sender, chain, payer).Submit(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, sender.calls, 2)
	assert.Equal(t, companion, sender.calls[0][0])
	require.Len(t, sender.calls[1], 1)
	assert.Equal(t, sender.calls[1][0].Signatures[0], sig)
	assert.Len(t, sender.calls[1][0].Message.Instructions, 2)

	sender.err = errors.New("blockhash not found")
	_, err = NewSubmitter(sender, chain, payer).Submit(context.Background(), &Plan{Lending: plan.Lending})
	var subErr *lending.SubmissionError
	require.True(t, errors.As(err, &subErr))
}
