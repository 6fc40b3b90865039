package lending

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// Field offsets shared by reserves and obligations
const (
	LendingMarketOffset   = 10
	ObligationOwnerOffset = 42

	obligationDepositsLenOffset = 202
	obligationDataOffset        = 204
	obligationCollateralSize    = 88
	obligationLiquiditySize     = 112
	reserveExtraOracleOffset    = 433
)

type LastUpdate struct {
	Slot  uint64
	Stale bool
}

type ReserveLiquidity struct {
	Mint                     solana.PublicKey
	MintDecimals             uint8
	Supply                   solana.PublicKey
	PythOracle               solana.PublicKey
	SwitchboardOracle        solana.PublicKey
	AvailableAmount          uint64
	BorrowedAmountWads       uint128.Uint128
	CumulativeBorrowRateWads uint128.Uint128
	MarketPrice              uint128.Uint128
}

type ReserveCollateral struct {
	Mint            solana.PublicKey
	MintTotalSupply uint64
	Supply          solana.PublicKey
}

type ReserveFees struct {
	BorrowFeeWad      uint64
	FlashLoanFeeWad   uint64
	HostFeePercentage uint8
}

type ReserveConfig struct {
	OptimalUtilizationRate uint8
	LoanToValueRatio       uint8
	LiquidationBonus       uint8
	LiquidationThreshold   uint8
	MinBorrowRate          uint8
	OptimalBorrowRate      uint8
	MaxBorrowRate          uint8
	Fees                   ReserveFees
	DepositLimit           uint64
	BorrowLimit            uint64
	FeeReceiver            solana.PublicKey
	ProtocolLiquidationFee uint8
	ProtocolTakeRate       uint8
	ExtraOracle            solana.PublicKey
}

// Reserve is one lending asset of a market.
type Reserve struct {
	Version       uint8
	LastUpdate    LastUpdate
	LendingMarket solana.PublicKey
	Liquidity     ReserveLiquidity
	Collateral    ReserveCollateral
	Config        ReserveConfig

	Address solana.PublicKey
}

// Oracles returns the configured oracle addresses, primary first, without null slots.
func (r *Reserve) Oracles() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, 3)
	for _, o := range []solana.PublicKey{r.Liquidity.PythOracle, r.Liquidity.SwitchboardOracle, r.Config.ExtraOracle} {
		if o.IsZero() || o.Equals(NullOracle) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (r *Reserve) Decode(data []byte) error {
	if len(data) < ReserveSize {
		return fmt.Errorf("data too short for reserve: got %d bytes", len(data))
	}

	r.Version = data[0]
	r.LastUpdate.Slot = binary.LittleEndian.Uint64(data[1:9])
	r.LastUpdate.Stale = data[9] != 0
	offset := LendingMarketOffset
	copy(r.LendingMarket[:], data[offset:offset+32])
	offset += 32

	// Liquidity
	copy(r.Liquidity.Mint[:], data[offset:offset+32])
	offset += 32
	r.Liquidity.MintDecimals = data[offset]
	offset++
	copy(r.Liquidity.Supply[:], data[offset:offset+32])
	offset += 32
	copy(r.Liquidity.PythOracle[:], data[offset:offset+32])
	offset += 32
	copy(r.Liquidity.SwitchboardOracle[:], data[offset:offset+32])
	offset += 32
	r.Liquidity.AvailableAmount = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	r.Liquidity.BorrowedAmountWads = uint128.FromBytes(data[offset : offset+16])
	offset += 16
	r.Liquidity.CumulativeBorrowRateWads = uint128.FromBytes(data[offset : offset+16])
	offset += 16
	r.Liquidity.MarketPrice = uint128.FromBytes(data[offset : offset+16])
	offset += 16

	// Collateral
	copy(r.Collateral.Mint[:], data[offset:offset+32])
	offset += 32
	r.Collateral.MintTotalSupply = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	copy(r.Collateral.Supply[:], data[offset:offset+32])
	offset += 32

	// Config
	c := &r.Config
	c.OptimalUtilizationRate = data[offset]
	c.LoanToValueRatio = data[offset+1]
	c.LiquidationBonus = data[offset+2]
	c.LiquidationThreshold = data[offset+3]
	c.MinBorrowRate = data[offset+4]
	c.OptimalBorrowRate = data[offset+5]
	c.MaxBorrowRate = data[offset+6]
	offset += 7
	c.Fees.BorrowFeeWad = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	c.Fees.FlashLoanFeeWad = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	c.Fees.HostFeePercentage = data[offset]
	offset++
	c.DepositLimit = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	c.BorrowLimit = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	copy(c.FeeReceiver[:], data[offset:offset+32])
	offset += 32
	c.ProtocolLiquidationFee = data[offset]
	c.ProtocolTakeRate = data[offset+1]

	copy(c.ExtraOracle[:], data[reserveExtraOracleOffset:reserveExtraOracleOffset+32])
	return nil
}

type ObligationCollateral struct {
	DepositReserve  solana.PublicKey
	DepositedAmount uint64
	MarketValue     uint128.Uint128
}

type ObligationLiquidity struct {
	BorrowReserve            solana.PublicKey
	CumulativeBorrowRateWads uint128.Uint128
	BorrowedAmountWads       uint128.Uint128
	MarketValue              uint128.Uint128
}

// Obligation is a borrower's position in one lending market.
type Obligation struct {
	Version              uint8
	LastUpdate           LastUpdate
	LendingMarket        solana.PublicKey
	Owner                solana.PublicKey
	DepositedValue       uint128.Uint128
	BorrowedValue        uint128.Uint128
	AllowedBorrowValue   uint128.Uint128
	UnhealthyBorrowValue uint128.Uint128
	Deposits             []ObligationCollateral
	Borrows              []ObligationLiquidity

	Address solana.PublicKey
}

func (o *Obligation) Decode(data []byte) error {
	if len(data) < ObligationSize {
		return fmt.Errorf("data too short for obligation: got %d bytes", len(data))
	}

	o.Version = data[0]
	o.LastUpdate.Slot = binary.LittleEndian.Uint64(data[1:9])
	o.LastUpdate.Stale = data[9] != 0
	copy(o.LendingMarket[:], data[LendingMarketOffset:LendingMarketOffset+32])
	copy(o.Owner[:], data[ObligationOwnerOffset:ObligationOwnerOffset+32])
	offset := ObligationOwnerOffset + 32
	o.DepositedValue = uint128.FromBytes(data[offset : offset+16])
	o.BorrowedValue = uint128.FromBytes(data[offset+16 : offset+32])
	o.AllowedBorrowValue = uint128.FromBytes(data[offset+32 : offset+48])
	o.UnhealthyBorrowValue = uint128.FromBytes(data[offset+48 : offset+64])

	depositsLen := int(data[obligationDepositsLenOffset])
	borrowsLen := int(data[obligationDepositsLenOffset+1])
	need := obligationDataOffset + depositsLen*obligationCollateralSize + borrowsLen*obligationLiquiditySize
	if need > len(data) {
		return fmt.Errorf("obligation declares %d deposits and %d borrows, data holds %d bytes", depositsLen, borrowsLen, len(data))
	}

	offset = obligationDataOffset
	o.Deposits = make([]ObligationCollateral, depositsLen)
	for i := range o.Deposits {
		d := &o.Deposits[i]
		copy(d.DepositReserve[:], data[offset:offset+32])
		d.DepositedAmount = binary.LittleEndian.Uint64(data[offset+32 : offset+40])
		d.MarketValue = uint128.FromBytes(data[offset+40 : offset+56])
		offset += obligationCollateralSize
	}
	o.Borrows = make([]ObligationLiquidity, borrowsLen)
	for i := range o.Borrows {
		b := &o.Borrows[i]
		copy(b.BorrowReserve[:], data[offset:offset+32])
		b.CumulativeBorrowRateWads = uint128.FromBytes(data[offset+32 : offset+48])
		b.BorrowedAmountWads = uint128.FromBytes(data[offset+48 : offset+64])
		b.MarketValue = uint128.FromBytes(data[offset+64 : offset+80])
		offset += obligationLiquiditySize
	}
	return nil
}

// DepositReserves lists deposit reserves in obligation order.
func (o *Obligation) DepositReserves() []solana.PublicKey {
	out := make([]solana.PublicKey, len(o.Deposits))
	for i, d := range o.Deposits {
		out[i] = d.DepositReserve
	}
	return out
}

// BorrowReserves lists borrow reserves in obligation order.
func (o *Obligation) BorrowReserves() []solana.PublicKey {
	out := make([]solana.PublicKey, len(o.Borrows))
	for i, b := range o.Borrows {
		out[i] = b.BorrowReserve
	}
	return out
}

// Borrow returns the borrow position against reserve, if any.
func (o *Obligation) Borrow(reserve solana.PublicKey) (ObligationLiquidity, bool) {
	for _, b := range o.Borrows {
		if b.BorrowReserve.Equals(reserve) {
			return b, true
		}
	}
	return ObligationLiquidity{}, false
}

// DistinctReserves returns the union of deposit and borrow reserves plus extra, first-seen order.
func (o *Obligation) DistinctReserves(extra ...solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	var out []solana.PublicKey
	add := func(k solana.PublicKey) {
		if k.IsZero() {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if o != nil {
		for _, d := range o.Deposits {
			add(d.DepositReserve)
		}
		for _, b := range o.Borrows {
			add(b.BorrowReserve)
		}
	}
	for _, k := range extra {
		add(k)
	}
	return out
}

type LendingMarket struct {
	Version         uint8
	BumpSeed        uint8
	Owner           solana.PublicKey
	QuoteCurrency   [32]byte
	TokenProgramID  solana.PublicKey
	OracleProgramID solana.PublicKey
	SwitchboardID   solana.PublicKey

	Address solana.PublicKey
}

func (m *LendingMarket) Decode(data []byte) error {
	if len(data) < 2+5*32 {
		return fmt.Errorf("data too short for lending market: got %d bytes", len(data))
	}
	m.Version = data[0]
	m.BumpSeed = data[1]
	offset := 2
	copy(m.Owner[:], data[offset:offset+32])
	offset += 32
	copy(m.QuoteCurrency[:], data[offset:offset+32])
	offset += 32
	copy(m.TokenProgramID[:], data[offset:offset+32])
	offset += 32
	copy(m.OracleProgramID[:], data[offset:offset+32])
	offset += 32
	copy(m.SwitchboardID[:], data[offset:offset+32])
	return nil
}
