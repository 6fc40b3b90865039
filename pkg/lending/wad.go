package lending

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"lukechampine.com/uint128"
)

// WadDecimals is the scale of WAD fixed-point values.
const WadDecimals = 18

var Wad = math.NewIntFromUint64(1_000_000_000_000_000_000)

// WadInt returns the raw (still scaled) WAD value as an integer.
func WadInt(v uint128.Uint128) math.Int {
	return math.NewIntFromBigInt(v.Big())
}

// WadDec returns the WAD value as a decimal.
func WadDec(v uint128.Uint128) math.LegacyDec {
	return math.LegacyNewDecFromBigIntWithPrec(v.Big(), WadDecimals)
}

// AccruedBorrowAmount scales a borrow snapshot to the reserve's current cumulative rate and
// returns the whole token amount: floor(borrowedWads × currentRate / snapshotRate / WAD).
func AccruedBorrowAmount(borrowedWads, snapshotRate, currentRate uint128.Uint128) (math.Int, error) {
	if snapshotRate.IsZero() {
		return math.ZeroInt(), fmt.Errorf("snapshot cumulative borrow rate is zero")
	}
	amount := WadInt(borrowedWads).
		Mul(WadInt(currentRate)).
		Quo(WadInt(snapshotRate)).
		Quo(Wad)
	return amount, nil
}

// SafeRepayAmount sizes a full repay so it still covers interest accrued before execution.
func SafeRepayAmount(borrowedWads, snapshotRate, currentRate uint128.Uint128, padding uint64) (uint64, error) {
	owed, err := AccruedBorrowAmount(borrowedWads, snapshotRate, currentRate)
	if err != nil {
		return 0, err
	}
	total := owed.Add(math.NewIntFromUint64(padding))
	if !total.IsUint64() {
		return 0, fmt.Errorf("repay amount %s overflows u64", total)
	}
	return total.Uint64(), nil
}

// ObligationSeed is the account seed used to derive a user's obligation in a market.
func ObligationSeed(market solana.PublicKey) string {
	return base58.Encode(market[:])[:32]
}

// ObligationAddress derives the deterministic obligation address for owner in market.
func ObligationAddress(owner, market, programID solana.PublicKey) (solana.PublicKey, error) {
	return solana.CreateWithSeed(owner, ObligationSeed(market), programID)
}

// MarketAuthority derives the lending market authority PDA.
func MarketAuthority(market, programID solana.PublicKey) (solana.PublicKey, error) {
	authority, _, err := solana.FindProgramAddress([][]byte{market[:]}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive market authority: %w", err)
	}
	return authority, nil
}
