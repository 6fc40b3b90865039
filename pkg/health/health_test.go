package health

import (
	"errors"
	"testing"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"sollend/pkg/lending"
	"sollend/pkg/lending/lendingtest"
	"sollend/pkg/oracle"
)

type staticSymbols map[solana.PublicKey]string

func (s staticSymbols) Symbol(mint solana.PublicKey) string { return s[mint] }

func wads(base uint64) uint128.Uint128 {
	return lendingtest.Wad(base)
}

func priced(r *lending.Reserve, price int64) TokenOracleData {
	return TokenOracleData{Reserve: r.Address, Mint: r.Liquidity.Mint, Decimals: r.Liquidity.MintDecimals, Price: math.LegacyNewDec(price)}
}

type book struct {
	usdc, sol *lending.Reserve
	reserves  map[solana.PublicKey]*lending.Reserve
	prices    map[solana.PublicKey]TokenOracleData
}

func newBook() *book {
	market := lendingtest.NewKey()
	usdc := lendingtest.NewReserve(market, lendingtest.NewKey(), 6)
	sol := lendingtest.NewReserve(market, lending.NativeMint, 9)
	return &book{
		usdc:     usdc,
		sol:      sol,
		reserves: map[solana.PublicKey]*lending.Reserve{usdc.Address: usdc, sol.Address: sol},
		prices: map[solana.PublicKey]TokenOracleData{
			usdc.Address: priced(usdc, 1),
			sol.Address:  priced(sol, 100),
		},
	}
}

// position deposits 100 USDC and borrows borrowedLamports of SOL
func (b *book) position(borrowedLamports uint64) *lending.Obligation {
	return &lending.Obligation{
		Address:  lendingtest.NewKey(),
		Deposits: []lending.ObligationCollateral{{DepositReserve: b.usdc.Address, DepositedAmount: 100_000_000}},
		Borrows: []lending.ObligationLiquidity{{
			BorrowReserve:            b.sol.Address,
			BorrowedAmountWads:       wads(borrowedLamports),
			CumulativeBorrowRateWads: lendingtest.Wad(1),
		}},
	}
}

func TestEvaluate(t *testing.T) {
	b := newBook()

	tests := []struct {
		name      string
		borrowed  uint64
		unhealthy bool
	}{
		{"below threshold", 700_000_000, false},
		{"at threshold", 800_000_000, false},
		{"above threshold", 850_000_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Evaluate(b.position(tt.borrowed), b.reserves, b.prices)
			require.NoError(t, err)
			assert.True(t, h.DepositedValue.Equal(math.LegacyNewDec(100)), h.DepositedValue.String())
			assert.True(t, h.UnhealthyBorrowValue.Equal(math.LegacyNewDec(80)), h.UnhealthyBorrowValue.String())
			assert.True(t, h.AllowedBorrowValue.Equal(math.LegacyNewDec(75)), h.AllowedBorrowValue.String())
			assert.Equal(t, tt.unhealthy, h.Unhealthy())
		})
	}
}

func TestEvaluateAccruesInterest(t *testing.T) {
	b := newBook()
	b.sol.Liquidity.CumulativeBorrowRateWads = uint128.From64(1_050_000_000_000_000_000)

	// 0.8 SOL becomes 0.84 SOL, worth 84 against a threshold of 80
	h, err := Evaluate(b.position(800_000_000), b.reserves, b.prices)
	require.NoError(t, err)
	assert.True(t, h.BorrowedValue.Equal(math.LegacyNewDec(84)), h.BorrowedValue.String())
	assert.True(t, h.Unhealthy())
}

func TestEvaluateSortsPositionsByValue(t *testing.T) {
	b := newBook()
	bonk := lendingtest.NewReserve(b.usdc.LendingMarket, lendingtest.NewKey(), 6)
	b.reserves[bonk.Address] = bonk
	b.prices[bonk.Address] = priced(bonk, 5)

	o := b.position(100_000_000)
	o.Deposits = append(o.Deposits, lending.ObligationCollateral{DepositReserve: bonk.Address, DepositedAmount: 100_000_000})

	h, err := Evaluate(o, b.reserves, b.prices)
	require.NoError(t, err)
	require.Len(t, h.Deposits, 2)
	assert.Equal(t, bonk.Address, h.Deposits[0].Reserve)
	assert.True(t, h.Deposits[0].MarketValue.Equal(math.LegacyNewDec(500)))
}

func TestEvaluateRequiresEveryPrice(t *testing.T) {
	b := newBook()
	second := lendingtest.NewReserve(b.usdc.LendingMarket, lendingtest.NewKey(), 6)
	b.reserves[second.Address] = second
	b.prices[second.Address] = priced(second, 1)

	// two 100 USDC deposits against 1 SOL: borrowed 100, threshold 160
	o := b.position(1_000_000_000)
	o.Deposits = append(o.Deposits, lending.ObligationCollateral{DepositReserve: second.Address, DepositedAmount: 100_000_000})

	h, err := Evaluate(o, b.reserves, b.prices)
	require.NoError(t, err)
	assert.True(t, h.UnhealthyBorrowValue.Equal(math.LegacyNewDec(160)), h.UnhealthyBorrowValue.String())
	assert.False(t, h.Unhealthy())

	tests := []struct {
		name    string
		reserve solana.PublicKey
	}{
		{"unpriced deposit", second.Address},
		{"unpriced borrow", b.sol.Address},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := make(map[solana.PublicKey]TokenOracleData, len(b.prices))
			for k, v := range b.prices {
				prices[k] = v
			}
			delete(prices, tt.reserve)

			h, err := Evaluate(o, b.reserves, prices)
			assert.Nil(t, h)
			var oracleErr *lending.OracleResolutionError
			require.True(t, errors.As(err, &oracleErr))
			assert.Equal(t, tt.reserve, oracleErr.Reserve)
			assert.ErrorIs(t, err, lending.ErrNoPrice)
		})
	}
}

func TestEvaluateMissingReserve(t *testing.T) {
	b := newBook()
	delete(b.reserves, b.usdc.Address)

	_, err := Evaluate(b.position(1), b.reserves, b.prices)
	var readErr *lending.StateReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, b.usdc.Address, readErr.Account)
}

func TestCollateralToLiquidity(t *testing.T) {
	r := lendingtest.NewReserve(lendingtest.NewKey(), lendingtest.NewKey(), 6)
	r.Liquidity.AvailableAmount = 600
	r.Liquidity.BorrowedAmountWads = wads(400)
	r.Collateral.MintTotalSupply = 500

	assert.True(t, CollateralToLiquidity(r, 100).Equal(math.LegacyNewDec(200)))

	r.Collateral.MintTotalSupply = 0
	assert.True(t, CollateralToLiquidity(r, 100).Equal(math.LegacyNewDec(100)))
}

func TestAccruedBorrow(t *testing.T) {
	r := lendingtest.NewReserve(lendingtest.NewKey(), lendingtest.NewKey(), 6)
	r.Liquidity.CumulativeBorrowRateWads = uint128.From64(1_050_000_000_000_000_000)

	amount, err := AccruedBorrow(lending.ObligationLiquidity{
		BorrowedAmountWads:       wads(1000),
		CumulativeBorrowRateWads: lendingtest.Wad(1),
	}, r)
	require.NoError(t, err)
	assert.True(t, amount.Equal(math.LegacyNewDec(1050)), amount.String())

	_, err = AccruedBorrow(lending.ObligationLiquidity{BorrowedAmountWads: wads(1)}, r)
	require.Error(t, err)
}

func TestOracleData(t *testing.T) {
	b := newBook()
	zero := lendingtest.NewReserve(b.usdc.LendingMarket, lendingtest.NewKey(), 6)
	prices := map[solana.PublicKey]oracle.Price{
		b.usdc.Address: {Value: math.LegacyNewDec(1)},
		zero.Address:   {Value: math.LegacyZeroDec()},
	}

	data := OracleData([]*lending.Reserve{b.usdc, b.sol, zero}, prices, staticSymbols{b.usdc.Liquidity.Mint: "USDC"})
	require.Len(t, data, 1)
	assert.Equal(t, "USDC", data[b.usdc.Address].Symbol)
	assert.Equal(t, uint8(6), data[b.usdc.Address].Decimals)
}
