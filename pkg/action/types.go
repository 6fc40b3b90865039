package action

import (
	"fmt"
	"strings"
)

// Type is a user-facing lending action
type Type string

const (
	Deposit            Type = "deposit"
	Borrow             Type = "borrow"
	Withdraw           Type = "withdraw"
	Repay              Type = "repay"
	Mint               Type = "mint"
	Redeem             Type = "redeem"
	DepositCollateral  Type = "depositCollateral"
	WithdrawCollateral Type = "withdrawCollateral"
	Forgive            Type = "forgive"
	Liquidate          Type = "liquidate"
)

// Types lists every action in table order
var Types = []Type{
	Deposit, Borrow, Withdraw, Repay, Mint, Redeem,
	DepositCollateral, WithdrawCollateral, Forgive, Liquidate,
}

// ParseType matches s case-insensitively against the known actions
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Capability is a support requirement resolved before the lending instruction
type Capability string

const (
	CapCreateObligation    Capability = "createObligation"
	CapWSOL                Capability = "wsol"
	CapWrap                Capability = "wrap"
	CapUnwrap              Capability = "unwrap"
	CapATA                 Capability = "ata"
	CapCollateralATA       Capability = "cAta"
	CapRefreshReserves     Capability = "refreshReserves"
	CapRefreshObligation   Capability = "refreshObligation"
	CapWrapUnwrapLiquidate Capability = "wrapUnwrapLiquidate"
)

var supportRequirements = map[Type][]Capability{
	Deposit:            {CapWSOL, CapWrap, CapCreateObligation, CapCollateralATA},
	Borrow:             {CapWSOL, CapATA, CapCreateObligation, CapRefreshReserves, CapRefreshObligation, CapUnwrap},
	Withdraw:           {CapWSOL, CapATA, CapCollateralATA, CapRefreshReserves, CapRefreshObligation, CapUnwrap},
	Repay:              {CapWSOL, CapWrap, CapRefreshReserves, CapRefreshObligation},
	Mint:               {CapWSOL, CapWrap, CapCollateralATA},
	Redeem:             {CapWSOL, CapATA, CapRefreshReserves, CapUnwrap},
	DepositCollateral:  {CapCreateObligation, CapRefreshReserves},
	WithdrawCollateral: {CapCollateralATA, CapRefreshReserves, CapRefreshObligation},
	Forgive:            {CapRefreshReserves, CapRefreshObligation},
	Liquidate:          {CapWSOL, CapATA, CapCollateralATA, CapWrapUnwrapLiquidate, CapRefreshReserves, CapRefreshObligation},
}

// Capabilities returns the ordered support requirements of t
func (t Type) Capabilities() []Capability {
	return append([]Capability(nil), supportRequirements[t]...)
}

func (t Type) Valid() bool {
	_, ok := supportRequirements[t]
	return ok
}

// Funding actions move native lamports into the wrapped SOL account before the lending
// instruction. Every other action carrying the wsol capability drains it afterwards.
func (t Type) Funding() bool {
	return t == Deposit || t == Repay || t == Mint
}

// HasMaxVariant reports whether the amount sentinel selects a whole-balance instruction
func (t Type) HasMaxVariant() bool {
	return t == Deposit || t == Withdraw || t == Repay
}

// NeedsObligation reports whether the action only makes sense against an existing obligation
func (t Type) NeedsObligation() bool {
	switch t {
	case Withdraw, Repay, WithdrawCollateral, Forgive, Liquidate:
		return true
	}
	return false
}
