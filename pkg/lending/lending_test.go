package lending_test

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"sollend/pkg/lending"
	"sollend/pkg/lending/lendingtest"
)

func TestSafeRepayAmount(t *testing.T) {
	borrowed := lendingtest.Wad(1000)
	r0 := uint128.From64(1_000_000_000_000_000_000)
	r1 := uint128.From64(1_050_000_000_000_000_000)

	amount, err := lending.SafeRepayAmount(borrowed, r0, r1, lending.RepayPadding)
	require.NoError(t, err)
	assert.Equal(t, uint64(1050+1_000_000), amount)

	owed, err := lending.AccruedBorrowAmount(borrowed, r0, r1)
	require.NoError(t, err)
	assert.Equal(t, "1050", owed.String())
}

func TestAccruedBorrowAmountFloors(t *testing.T) {
	// 1.5 tokens of debt at an unchanged rate floors to 1
	borrowed := uint128.From64(1_500_000_000_000_000_000)
	rate := uint128.From64(1_000_000_000_000_000_000)

	owed, err := lending.AccruedBorrowAmount(borrowed, rate, rate)
	require.NoError(t, err)
	assert.Equal(t, "1", owed.String())

	_, err = lending.AccruedBorrowAmount(borrowed, uint128.Zero, rate)
	require.Error(t, err)
}

func TestObligationAddressIsDeterministic(t *testing.T) {
	owner := lendingtest.NewKey()
	market := lendingtest.NewKey()

	a, err := lending.ObligationAddress(owner, market, lending.ProductionProgramID)
	require.NoError(t, err)
	b, err := lending.ObligationAddress(owner, market, lending.ProductionProgramID)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := lending.ObligationAddress(owner, market, lending.DevnetProgramID)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	assert.Len(t, lending.ObligationSeed(market), 32)
	assert.Equal(t, market.String()[:32], lending.ObligationSeed(market))
}

func TestReserveDecode(t *testing.T) {
	market := lendingtest.NewKey()
	want := lendingtest.NewReserve(market, lending.NativeMint, 9)
	want.Liquidity.BorrowedAmountWads = lendingtest.Wad(42)
	want.Config.ExtraOracle = lendingtest.NewKey()
	want.Config.Fees.HostFeePercentage = 20

	var got lending.Reserve
	require.NoError(t, got.Decode(lendingtest.EncodeReserve(want)))

	assert.Equal(t, market, got.LendingMarket)
	assert.Equal(t, lending.NativeMint, got.Liquidity.Mint)
	assert.Equal(t, uint8(9), got.Liquidity.MintDecimals)
	assert.Equal(t, want.Liquidity.Supply, got.Liquidity.Supply)
	assert.Equal(t, want.Liquidity.BorrowedAmountWads, got.Liquidity.BorrowedAmountWads)
	assert.Equal(t, want.Collateral.Mint, got.Collateral.Mint)
	assert.Equal(t, want.Config.FeeReceiver, got.Config.FeeReceiver)
	assert.Equal(t, uint8(80), got.Config.LiquidationThreshold)
	assert.Equal(t, uint8(20), got.Config.Fees.HostFeePercentage)

	// null switchboard slot is dropped from the oracle set
	assert.Equal(t, []solana.PublicKey{want.Liquidity.PythOracle, want.Config.ExtraOracle}, got.Oracles())

	require.Error(t, got.Decode(make([]byte, 100)))
}

func TestObligationDecode(t *testing.T) {
	dep := lendingtest.NewKey()
	bor := lendingtest.NewKey()
	want := &lending.Obligation{
		LendingMarket: lendingtest.NewKey(),
		Owner:         lendingtest.NewKey(),
		BorrowedValue: lendingtest.Wad(5),
		Deposits:      []lending.ObligationCollateral{{DepositReserve: dep, DepositedAmount: 77}},
		Borrows: []lending.ObligationLiquidity{{
			BorrowReserve:            bor,
			BorrowedAmountWads:       lendingtest.Wad(3),
			CumulativeBorrowRateWads: lendingtest.Wad(1),
		}},
	}

	var got lending.Obligation
	require.NoError(t, got.Decode(lendingtest.EncodeObligation(want)))
	assert.Equal(t, want.Owner, got.Owner)
	assert.Equal(t, want.BorrowedValue, got.BorrowedValue)
	require.Len(t, got.Deposits, 1)
	require.Len(t, got.Borrows, 1)
	assert.Equal(t, uint64(77), got.Deposits[0].DepositedAmount)
	assert.Equal(t, lendingtest.Wad(3), got.Borrows[0].BorrowedAmountWads)

	b, ok := got.Borrow(bor)
	assert.True(t, ok)
	assert.Equal(t, bor, b.BorrowReserve)
	_, ok = got.Borrow(dep)
	assert.False(t, ok)

	corrupt := lendingtest.EncodeObligation(want)
	corrupt[202] = 20
	corrupt[203] = 20
	require.Error(t, got.Decode(corrupt))
}

func TestDistinctReserves(t *testing.T) {
	a, b, c := lendingtest.NewKey(), lendingtest.NewKey(), lendingtest.NewKey()
	o := &lending.Obligation{
		Deposits: []lending.ObligationCollateral{{DepositReserve: a}, {DepositReserve: b}},
		Borrows:  []lending.ObligationLiquidity{{BorrowReserve: a}},
	}

	assert.Equal(t, []solana.PublicKey{a, b}, o.DistinctReserves())
	assert.Equal(t, []solana.PublicKey{a, b, c}, o.DistinctReserves(c, b))

	var missing *lending.Obligation
	assert.Equal(t, []solana.PublicKey{c}, missing.DistinctReserves(c))
}

func TestInstructionEncoding(t *testing.T) {
	program := lending.ProductionProgramID
	market := lending.MarketAccounts{Market: lendingtest.NewKey(), Authority: lendingtest.NewKey()}
	reserve := lending.ReserveAccountsOf(lendingtest.NewReserve(market.Market, lendingtest.NewKey(), 6))
	user := lending.UserAccounts{
		Owner:      lendingtest.NewKey(),
		Obligation: lendingtest.NewKey(),
		Liquidity:  lendingtest.NewKey(),
		Collateral: lendingtest.NewKey(),
	}

	tests := []struct {
		name string
		ix   *lending.Instruction
		want []byte
	}{
		{"deposit", lending.DepositReserveLiquidityAndObligationCollateral(program, 5, market, reserve, user), []byte{14, 5, 0, 0, 0, 0, 0, 0, 0}},
		{"deposit max", lending.DepositMaxReserveLiquidityAndObligationCollateral(program, market, reserve, user), []byte{25}},
		{"repay", lending.RepayObligationLiquidity(program, 256, market, reserve, user), []byte{11, 0, 1, 0, 0, 0, 0, 0, 0}},
		{"repay max", lending.RepayMaxObligationLiquidity(program, market, reserve, user), []byte{26}},
		{"withdraw max", lending.WithdrawMaxObligationCollateralAndRedeemReserveLiquidity(program, market, reserve, user), []byte{27}},
		{"refresh reserve", lending.RefreshReserve(program, reserve), []byte{3}},
		{"init obligation", lending.InitObligation(program, user.Obligation, market.Market, user.Owner), []byte{6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.ix.Data()
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
			assert.Equal(t, program, tt.ix.ProgramID())
		})
	}
}

func TestRefreshInstructions(t *testing.T) {
	program := lending.ProductionProgramID
	r := lendingtest.NewReserve(lendingtest.NewKey(), lendingtest.NewKey(), 6)

	ix := lending.RefreshReserve(program, lending.ReserveAccountsOf(r))
	assert.Len(t, ix.Accounts(), 3)
	assert.True(t, ix.Accounts()[0].IsWritable)

	r.Config.ExtraOracle = lendingtest.NewKey()
	ix = lending.RefreshReserve(program, lending.ReserveAccountsOf(r))
	require.Len(t, ix.Accounts(), 4)
	assert.Equal(t, r.Config.ExtraOracle, ix.Accounts()[3].PublicKey)

	dep, bor := lendingtest.NewKey(), lendingtest.NewKey()
	obl := lendingtest.NewKey()
	ix = lending.RefreshObligation(program, obl, []solana.PublicKey{dep}, []solana.PublicKey{bor})
	require.Len(t, ix.Accounts(), 3)
	assert.Equal(t, obl, ix.Accounts()[0].PublicKey)
	assert.Equal(t, dep, ix.Accounts()[1].PublicKey)
	assert.Equal(t, bor, ix.Accounts()[2].PublicKey)
}

func TestTypedErrors(t *testing.T) {
	err := lending.NewPreconditionError(lending.ErrPositionLimit, "%d reserves", 7)

	var pre *lending.PreconditionError
	require.True(t, errors.As(err, &pre))
	assert.True(t, errors.Is(err, lending.ErrPositionLimit))
	assert.Contains(t, err.Error(), "7 reserves")

	read := &lending.StateReadError{Account: lendingtest.NewKey(), Err: lending.ErrAccountNotFound}
	assert.True(t, errors.Is(read, lending.ErrAccountNotFound))
}

func TestParseEnvironment(t *testing.T) {
	for in, want := range map[string]solana.PublicKey{
		"":             lending.ProductionProgramID,
		"mainnet-beta": lending.ProductionProgramID,
		"Devnet":       lending.DevnetProgramID,
		"beta":         lending.BetaProgramID,
	} {
		env, err := lending.ParseEnvironment(in)
		require.NoError(t, err)
		assert.Equal(t, want, env.ProgramID(), in)
	}
	_, err := lending.ParseEnvironment("localnet")
	require.Error(t, err)
}
