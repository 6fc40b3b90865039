// Package lendingtest provides account encoders and an in-memory chain for tests.
package lendingtest

import (
	"encoding/binary"
	"time"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"

	"sollend/pkg/lending"
)

// EncodeReserve lays r out in the on-chain reserve format
func EncodeReserve(r *lending.Reserve) []byte {
	data := make([]byte, lending.ReserveSize)
	data[0] = max(r.Version, 1)
	binary.LittleEndian.PutUint64(data[1:9], r.LastUpdate.Slot)
	if r.LastUpdate.Stale {
		data[9] = 1
	}
	off := lending.LendingMarketOffset
	off = putKey(data, off, r.LendingMarket)

	off = putKey(data, off, r.Liquidity.Mint)
	data[off] = r.Liquidity.MintDecimals
	off++
	off = putKey(data, off, r.Liquidity.Supply)
	off = putKey(data, off, r.Liquidity.PythOracle)
	off = putKey(data, off, r.Liquidity.SwitchboardOracle)
	binary.LittleEndian.PutUint64(data[off:], r.Liquidity.AvailableAmount)
	off += 8
	off = putU128(data, off, r.Liquidity.BorrowedAmountWads)
	off = putU128(data, off, r.Liquidity.CumulativeBorrowRateWads)
	off = putU128(data, off, r.Liquidity.MarketPrice)

	off = putKey(data, off, r.Collateral.Mint)
	binary.LittleEndian.PutUint64(data[off:], r.Collateral.MintTotalSupply)
	off += 8
	off = putKey(data, off, r.Collateral.Supply)

	c := r.Config
	copy(data[off:], []byte{
		c.OptimalUtilizationRate, c.LoanToValueRatio, c.LiquidationBonus, c.LiquidationThreshold,
		c.MinBorrowRate, c.OptimalBorrowRate, c.MaxBorrowRate,
	})
	off += 7
	binary.LittleEndian.PutUint64(data[off:], c.Fees.BorrowFeeWad)
	off += 8
	binary.LittleEndian.PutUint64(data[off:], c.Fees.FlashLoanFeeWad)
	off += 8
	data[off] = c.Fees.HostFeePercentage
	off++
	binary.LittleEndian.PutUint64(data[off:], c.DepositLimit)
	off += 8
	binary.LittleEndian.PutUint64(data[off:], c.BorrowLimit)
	off += 8
	off = putKey(data, off, c.FeeReceiver)
	data[off] = c.ProtocolLiquidationFee
	data[off+1] = c.ProtocolTakeRate

	copy(data[433:465], c.ExtraOracle[:])
	return data
}

// EncodeObligation lays o out in the on-chain obligation format
func EncodeObligation(o *lending.Obligation) []byte {
	data := make([]byte, lending.ObligationSize)
	data[0] = max(o.Version, 1)
	binary.LittleEndian.PutUint64(data[1:9], o.LastUpdate.Slot)
	putKey(data, lending.LendingMarketOffset, o.LendingMarket)
	off := putKey(data, lending.ObligationOwnerOffset, o.Owner)
	off = putU128(data, off, o.DepositedValue)
	off = putU128(data, off, o.BorrowedValue)
	off = putU128(data, off, o.AllowedBorrowValue)
	putU128(data, off, o.UnhealthyBorrowValue)

	data[202] = byte(len(o.Deposits))
	data[203] = byte(len(o.Borrows))
	off = 204
	for _, d := range o.Deposits {
		putKey(data, off, d.DepositReserve)
		binary.LittleEndian.PutUint64(data[off+32:], d.DepositedAmount)
		putU128(data, off+40, d.MarketValue)
		off += 88
	}
	for _, b := range o.Borrows {
		putKey(data, off, b.BorrowReserve)
		putU128(data, off+32, b.CumulativeBorrowRateWads)
		putU128(data, off+48, b.BorrowedAmountWads)
		putU128(data, off+64, b.MarketValue)
		off += 112
	}
	return data
}

// EncodeLendingMarket lays out a lending market owned by owner
func EncodeLendingMarket(owner solana.PublicKey) []byte {
	data := make([]byte, lending.LendingMarketSize)
	data[0] = 1
	putKey(data, 2, owner)
	return data
}

func putKey(data []byte, off int, k solana.PublicKey) int {
	copy(data[off:off+32], k[:])
	return off + 32
}

func putU128(data []byte, off int, v uint128.Uint128) int {
	v.PutBytes(data[off : off+16])
	return off + 16
}

// NewKey returns a fresh random public key
func NewKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

// NewReserve returns a reserve of market with random vaults and a single push oracle.
func NewReserve(market, mint solana.PublicKey, decimals uint8) *lending.Reserve {
	return &lending.Reserve{
		Version:       1,
		LendingMarket: market,
		Liquidity: lending.ReserveLiquidity{
			Mint:                     mint,
			MintDecimals:             decimals,
			Supply:                   NewKey(),
			PythOracle:               NewKey(),
			SwitchboardOracle:        lending.NullOracle,
			AvailableAmount:          1_000_000_000,
			CumulativeBorrowRateWads: uint128.From64(1_000_000_000_000_000_000),
		},
		Collateral: lending.ReserveCollateral{
			Mint:            NewKey(),
			MintTotalSupply: 1_000_000_000,
			Supply:          NewKey(),
		},
		Config: lending.ReserveConfig{
			LoanToValueRatio:     75,
			LiquidationBonus:     5,
			LiquidationThreshold: 80,
			FeeReceiver:          NewKey(),
		},
		Address: NewKey(),
	}
}

// Wad converts a whole-unit amount to its WAD representation
func Wad(units uint64) uint128.Uint128 {
	return uint128.From64(units).Mul64(1_000_000_000_000_000_000)
}

// EncodePriceUpdate encodes a fully verified PriceUpdateV2 account
func EncodePriceUpdate(feedID [32]byte, price int64, expo int32, publishTime time.Time) []byte {
	data := make([]byte, 8+32+1+32+8+8+4+8+8+8+8+8)
	off := 40
	data[off] = 1 // Full
	off++
	copy(data[off:], feedID[:])
	off += 32
	binary.LittleEndian.PutUint64(data[off:], uint64(price))
	off += 16
	binary.LittleEndian.PutUint32(data[off:], uint32(expo))
	off += 4
	binary.LittleEndian.PutUint64(data[off:], uint64(publishTime.Unix()))
	return data
}

// EncodePythLegacy encodes a trading legacy Pyth price account
func EncodePythLegacy(price int64, expo int32, publishTime time.Time) []byte {
	data := make([]byte, 3312)
	binary.LittleEndian.PutUint32(data[0:], 0xa1b2c3d4)
	binary.LittleEndian.PutUint32(data[20:], uint32(expo))
	binary.LittleEndian.PutUint64(data[96:], uint64(publishTime.Unix()))
	binary.LittleEndian.PutUint64(data[208:], uint64(price))
	binary.LittleEndian.PutUint32(data[224:], 1)
	return data
}

// EncodeSwitchboardPullFeed encodes a Switchboard on-demand pull feed whose current result
// is value, scaled by 1e18
func EncodeSwitchboardPullFeed(feedHash [32]byte, value uint128.Uint128, updated time.Time) []byte {
	data := make([]byte, 3208)
	copy(data[2120:], feedHash[:])
	binary.LittleEndian.PutUint64(data[2216:], uint64(updated.Unix()))
	value.PutBytes(data[2264:2280])
	return data
}
