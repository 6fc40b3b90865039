package health

import (
	"fmt"
	"sort"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"

	"sollend/pkg/lending"
	"sollend/pkg/oracle"
)

// TokenOracleData is the price of one reserve's asset for a single evaluation cycle
type TokenOracleData struct {
	Symbol   string
	Reserve  solana.PublicKey
	Mint     solana.PublicKey
	Decimals uint8
	Price    math.LegacyDec
}

// SymbolLookup names a mint for logs
type SymbolLookup interface {
	Symbol(mint solana.PublicKey) string
}

// OracleData pairs each priced reserve with its metadata. Reserves without a positive
// price are left out.
func OracleData(reserves []*lending.Reserve, prices map[solana.PublicKey]oracle.Price, symbols SymbolLookup) map[solana.PublicKey]TokenOracleData {
	out := make(map[solana.PublicKey]TokenOracleData, len(prices))
	for _, r := range reserves {
		p, ok := prices[r.Address]
		if !ok || p.Value.IsNil() || !p.Value.IsPositive() {
			continue
		}
		symbol := ""
		if symbols != nil {
			symbol = symbols.Symbol(r.Liquidity.Mint)
		}
		out[r.Address] = TokenOracleData{
			Symbol:   symbol,
			Reserve:  r.Address,
			Mint:     r.Liquidity.Mint,
			Decimals: r.Liquidity.MintDecimals,
			Price:    p.Value,
		}
	}
	return out
}

// Position is one priced deposit or borrow
type Position struct {
	Reserve     solana.PublicKey
	Symbol      string
	Amount      math.LegacyDec // liquidity in base units
	MarketValue math.LegacyDec
}

// Health is an obligation evaluated against current reserve state and prices
type Health struct {
	Obligation           solana.PublicKey
	DepositedValue       math.LegacyDec
	BorrowedValue        math.LegacyDec
	AllowedBorrowValue   math.LegacyDec
	UnhealthyBorrowValue math.LegacyDec

	// largest market value first
	Deposits []Position
	Borrows  []Position
}

// Unhealthy reports whether the obligation can be liquidated
func (h *Health) Unhealthy() bool {
	return h.BorrowedValue.GT(h.UnhealthyBorrowValue)
}

// Evaluate recomputes the values of o from fresh reserves and prices. Every reserve the
// obligation uses must be priced; otherwise an OracleResolutionError is returned.
func Evaluate(o *lending.Obligation, reserves map[solana.PublicKey]*lending.Reserve, prices map[solana.PublicKey]TokenOracleData) (*Health, error) {
	h := &Health{
		Obligation:           o.Address,
		DepositedValue:       math.LegacyZeroDec(),
		BorrowedValue:        math.LegacyZeroDec(),
		AllowedBorrowValue:   math.LegacyZeroDec(),
		UnhealthyBorrowValue: math.LegacyZeroDec(),
	}

	for _, d := range o.Deposits {
		r, ok := reserves[d.DepositReserve]
		if !ok {
			return nil, &lending.StateReadError{Account: d.DepositReserve, Err: lending.ErrAccountNotFound}
		}
		price, ok := prices[d.DepositReserve]
		if !ok {
			return nil, &lending.OracleResolutionError{Reserve: d.DepositReserve, Err: lending.ErrNoPrice}
		}
		amount := CollateralToLiquidity(r, d.DepositedAmount)
		value := marketValue(amount, price)
		h.Deposits = append(h.Deposits, Position{Reserve: d.DepositReserve, Symbol: price.Symbol, Amount: amount, MarketValue: value})
		h.DepositedValue = h.DepositedValue.Add(value)
		h.AllowedBorrowValue = h.AllowedBorrowValue.Add(percent(value, r.Config.LoanToValueRatio))
		h.UnhealthyBorrowValue = h.UnhealthyBorrowValue.Add(percent(value, r.Config.LiquidationThreshold))
	}

	for _, b := range o.Borrows {
		r, ok := reserves[b.BorrowReserve]
		if !ok {
			return nil, &lending.StateReadError{Account: b.BorrowReserve, Err: lending.ErrAccountNotFound}
		}
		price, ok := prices[b.BorrowReserve]
		if !ok {
			return nil, &lending.OracleResolutionError{Reserve: b.BorrowReserve, Err: lending.ErrNoPrice}
		}
		amount, err := AccruedBorrow(b, r)
		if err != nil {
			return nil, &lending.StateReadError{Account: o.Address, Err: err}
		}
		value := marketValue(amount, price)
		h.Borrows = append(h.Borrows, Position{Reserve: b.BorrowReserve, Symbol: price.Symbol, Amount: amount, MarketValue: value})
		h.BorrowedValue = h.BorrowedValue.Add(value)
	}

	byValue(h.Deposits)
	byValue(h.Borrows)
	return h, nil
}

// CollateralToLiquidity converts collateral tokens to the liquidity they redeem for
// at the reserve's current exchange rate.
func CollateralToLiquidity(r *lending.Reserve, collateral uint64) math.LegacyDec {
	amount := math.LegacyNewDecFromInt(math.NewIntFromUint64(collateral))
	supply := r.Collateral.MintTotalSupply
	total := math.LegacyNewDecFromInt(math.NewIntFromUint64(r.Liquidity.AvailableAmount)).
		Add(lending.WadDec(r.Liquidity.BorrowedAmountWads))
	if supply == 0 || total.IsZero() {
		return amount
	}
	return amount.Mul(total).QuoInt(math.NewIntFromUint64(supply))
}

// AccruedBorrow scales a borrow snapshot to the reserve's current cumulative rate, in base units
func AccruedBorrow(b lending.ObligationLiquidity, r *lending.Reserve) (math.LegacyDec, error) {
	borrowed := lending.WadDec(b.BorrowedAmountWads)
	if b.CumulativeBorrowRateWads.IsZero() {
		return math.LegacyDec{}, fmt.Errorf("borrow in %s has no rate snapshot", b.BorrowReserve)
	}
	current := lending.WadDec(r.Liquidity.CumulativeBorrowRateWads)
	return borrowed.Mul(current).Quo(lending.WadDec(b.CumulativeBorrowRateWads)), nil
}

func marketValue(amount math.LegacyDec, price TokenOracleData) math.LegacyDec {
	scale := math.LegacyNewDec(10).Power(uint64(price.Decimals))
	return amount.Mul(price.Price).Quo(scale)
}

func percent(v math.LegacyDec, pct uint8) math.LegacyDec {
	return v.MulInt64(int64(pct)).QuoInt64(100)
}

func byValue(ps []Position) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].MarketValue.GT(ps[j].MarketValue)
	})
}
