package lending

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// InstructionTag is the leading byte of every lending program instruction.
type InstructionTag uint8

const (
	TagRefreshReserve                                        InstructionTag = 3
	TagDepositReserveLiquidity                               InstructionTag = 4
	TagRedeemReserveCollateral                               InstructionTag = 5
	TagInitObligation                                        InstructionTag = 6
	TagRefreshObligation                                     InstructionTag = 7
	TagDepositObligationCollateral                           InstructionTag = 8
	TagWithdrawObligationCollateral                          InstructionTag = 9
	TagBorrowObligationLiquidity                             InstructionTag = 10
	TagRepayObligationLiquidity                              InstructionTag = 11
	TagDepositReserveLiquidityAndObligationCollateral        InstructionTag = 14
	TagWithdrawObligationCollateralAndRedeemReserveLiquidity InstructionTag = 15
	TagLiquidateObligationAndRedeemReserveCollateral         InstructionTag = 17
	TagForgiveDebt                                           InstructionTag = 21
	TagDepositMaxReserveLiquidityAndObligationCollateral     InstructionTag = 25
	TagRepayMaxObligationLiquidity                           InstructionTag = 26
	TagWithdrawMaxObligationCollateralAndRedeemLiquidity     InstructionTag = 27
)

// Instruction is a lending program instruction: a tag, an optional u64 amount and accounts.
type Instruction struct {
	Program   solana.PublicKey
	Tag       InstructionTag
	Amount    uint64
	HasAmount bool

	solana.AccountMetaSlice `bin:"-" borsh_skip:"true"`
}

func (inst *Instruction) ProgramID() solana.PublicKey {
	return inst.Program
}

func (inst *Instruction) Accounts() (out []*solana.AccountMeta) {
	return inst.AccountMetaSlice
}

func (inst *Instruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(uint8(inst.Tag)); err != nil {
		return nil, fmt.Errorf("failed to write instruction tag: %w", err)
	}
	if inst.HasAmount {
		if err := enc.WriteUint64(inst.Amount, binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("failed to encode amount: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func newInstruction(programID solana.PublicKey, tag InstructionTag, metas ...*solana.AccountMeta) *Instruction {
	return &Instruction{Program: programID, Tag: tag, AccountMetaSlice: metas}
}

func newAmountInstruction(programID solana.PublicKey, tag InstructionTag, amount uint64, metas ...*solana.AccountMeta) *Instruction {
	inst := newInstruction(programID, tag, metas...)
	inst.Amount = amount
	inst.HasAmount = true
	return inst
}

func readonly(k solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(k, false, false) }
func writable(k solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(k, true, false) }
func signer(k solana.PublicKey) *solana.AccountMeta   { return solana.NewAccountMeta(k, false, true) }

// ReserveAccounts are the reserve-side accounts an instruction needs.
type ReserveAccounts struct {
	Reserve          solana.PublicKey
	LiquiditySupply  solana.PublicKey
	LiquidityFeeRecv solana.PublicKey
	CollateralMint   solana.PublicKey
	CollateralSupply solana.PublicKey
	PythOracle       solana.PublicKey
	SwitchOracle     solana.PublicKey
	ExtraOracle      solana.PublicKey
}

// ReserveAccountsOf collects the instruction accounts of a decoded reserve.
func ReserveAccountsOf(r *Reserve) ReserveAccounts {
	return ReserveAccounts{
		Reserve:          r.Address,
		LiquiditySupply:  r.Liquidity.Supply,
		LiquidityFeeRecv: r.Config.FeeReceiver,
		CollateralMint:   r.Collateral.Mint,
		CollateralSupply: r.Collateral.Supply,
		PythOracle:       r.Liquidity.PythOracle,
		SwitchOracle:     r.Liquidity.SwitchboardOracle,
		ExtraOracle:      r.Config.ExtraOracle,
	}
}

// MarketAccounts identify the lending market and its derived authority.
type MarketAccounts struct {
	Market    solana.PublicKey
	Authority solana.PublicKey
}

func RefreshReserve(programID solana.PublicKey, r ReserveAccounts) *Instruction {
	inst := newInstruction(programID, TagRefreshReserve,
		writable(r.Reserve),
		readonly(r.PythOracle),
		readonly(r.SwitchOracle),
	)
	if !r.ExtraOracle.IsZero() && !r.ExtraOracle.Equals(NullOracle) {
		inst.Append(readonly(r.ExtraOracle))
	}
	return inst
}

func RefreshObligation(programID, obligation solana.PublicKey, deposits, borrows []solana.PublicKey) *Instruction {
	inst := newInstruction(programID, TagRefreshObligation, writable(obligation))
	for _, k := range deposits {
		inst.Append(readonly(k))
	}
	for _, k := range borrows {
		inst.Append(readonly(k))
	}
	return inst
}

func InitObligation(programID, obligation, market, owner solana.PublicKey) *Instruction {
	return newInstruction(programID, TagInitObligation,
		writable(obligation),
		readonly(market),
		signer(owner),
		readonly(solana.SysVarRentPubkey),
		readonly(solana.TokenProgramID),
	)
}

// UserAccounts are the owner-side token accounts used by an action.
type UserAccounts struct {
	Owner      solana.PublicKey
	Obligation solana.PublicKey
	Liquidity  solana.PublicKey
	Collateral solana.PublicKey
}

func depositAccounts(m MarketAccounts, r ReserveAccounts, u UserAccounts) []*solana.AccountMeta {
	return []*solana.AccountMeta{
		writable(u.Liquidity),
		writable(u.Collateral),
		writable(r.Reserve),
		writable(r.LiquiditySupply),
		writable(r.CollateralMint),
		writable(m.Market),
		readonly(m.Authority),
		writable(r.CollateralSupply),
		writable(u.Obligation),
		signer(u.Owner),
		readonly(r.PythOracle),
		readonly(r.SwitchOracle),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	}
}

func DepositReserveLiquidityAndObligationCollateral(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newAmountInstruction(programID, TagDepositReserveLiquidityAndObligationCollateral, amount, depositAccounts(m, r, u)...)
}

func DepositMaxReserveLiquidityAndObligationCollateral(programID solana.PublicKey, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newInstruction(programID, TagDepositMaxReserveLiquidityAndObligationCollateral, depositAccounts(m, r, u)...)
}

func BorrowObligationLiquidity(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts, hostFeeReceiver solana.PublicKey) *Instruction {
	inst := newAmountInstruction(programID, TagBorrowObligationLiquidity, amount,
		writable(r.LiquiditySupply),
		writable(u.Liquidity),
		writable(r.Reserve),
		writable(r.LiquidityFeeRecv),
		writable(u.Obligation),
		readonly(m.Market),
		readonly(m.Authority),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	)
	if !hostFeeReceiver.IsZero() {
		inst.Append(writable(hostFeeReceiver))
	}
	return inst
}

func withdrawAccounts(m MarketAccounts, r ReserveAccounts, u UserAccounts) []*solana.AccountMeta {
	return []*solana.AccountMeta{
		writable(r.CollateralSupply),
		writable(u.Collateral),
		writable(r.Reserve),
		writable(u.Obligation),
		readonly(m.Market),
		readonly(m.Authority),
		writable(u.Liquidity),
		writable(r.CollateralMint),
		writable(r.LiquiditySupply),
		signer(u.Owner),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	}
}

func WithdrawObligationCollateralAndRedeemReserveLiquidity(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newAmountInstruction(programID, TagWithdrawObligationCollateralAndRedeemReserveLiquidity, amount, withdrawAccounts(m, r, u)...)
}

func WithdrawMaxObligationCollateralAndRedeemReserveLiquidity(programID solana.PublicKey, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newInstruction(programID, TagWithdrawMaxObligationCollateralAndRedeemLiquidity, withdrawAccounts(m, r, u)...)
}

func repayAccounts(m MarketAccounts, r ReserveAccounts, u UserAccounts) []*solana.AccountMeta {
	return []*solana.AccountMeta{
		writable(u.Liquidity),
		writable(r.LiquiditySupply),
		writable(r.Reserve),
		writable(u.Obligation),
		readonly(m.Market),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	}
}

func RepayObligationLiquidity(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newAmountInstruction(programID, TagRepayObligationLiquidity, amount, repayAccounts(m, r, u)...)
}

func RepayMaxObligationLiquidity(programID solana.PublicKey, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newInstruction(programID, TagRepayMaxObligationLiquidity, repayAccounts(m, r, u)...)
}

func DepositReserveLiquidity(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newAmountInstruction(programID, TagDepositReserveLiquidity, amount,
		writable(u.Liquidity),
		writable(u.Collateral),
		writable(r.Reserve),
		writable(r.LiquiditySupply),
		writable(r.CollateralMint),
		readonly(m.Market),
		readonly(m.Authority),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	)
}

func RedeemReserveCollateral(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newAmountInstruction(programID, TagRedeemReserveCollateral, amount,
		writable(u.Collateral),
		writable(u.Liquidity),
		writable(r.Reserve),
		writable(r.CollateralMint),
		writable(r.LiquiditySupply),
		readonly(m.Market),
		readonly(m.Authority),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	)
}

func DepositObligationCollateral(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newAmountInstruction(programID, TagDepositObligationCollateral, amount,
		writable(u.Collateral),
		writable(r.CollateralSupply),
		readonly(r.Reserve),
		writable(u.Obligation),
		readonly(m.Market),
		signer(u.Owner),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	)
}

func WithdrawObligationCollateral(programID solana.PublicKey, amount uint64, m MarketAccounts, r ReserveAccounts, u UserAccounts) *Instruction {
	return newAmountInstruction(programID, TagWithdrawObligationCollateral, amount,
		writable(r.CollateralSupply),
		writable(u.Collateral),
		readonly(r.Reserve),
		writable(u.Obligation),
		readonly(m.Market),
		readonly(m.Authority),
		signer(u.Owner),
		readonly(solana.TokenProgramID),
	)
}

// LiquidationAccounts are the liquidator's token accounts.
type LiquidationAccounts struct {
	Liquidator         solana.PublicKey
	Obligation         solana.PublicKey
	RepayLiquidity     solana.PublicKey
	WithdrawCollateral solana.PublicKey
	WithdrawLiquidity  solana.PublicKey
}

func LiquidateObligationAndRedeemReserveCollateral(programID solana.PublicKey, amount uint64, m MarketAccounts, repay, withdraw ReserveAccounts, l LiquidationAccounts) *Instruction {
	return newAmountInstruction(programID, TagLiquidateObligationAndRedeemReserveCollateral, amount,
		writable(l.RepayLiquidity),
		writable(l.WithdrawCollateral),
		writable(l.WithdrawLiquidity),
		writable(repay.Reserve),
		writable(repay.LiquiditySupply),
		writable(withdraw.Reserve),
		writable(withdraw.CollateralMint),
		writable(withdraw.CollateralSupply),
		writable(withdraw.LiquiditySupply),
		writable(withdraw.LiquidityFeeRecv),
		writable(l.Obligation),
		readonly(m.Market),
		readonly(m.Authority),
		signer(l.Liquidator),
		readonly(solana.TokenProgramID),
	)
}

func ForgiveDebt(programID solana.PublicKey, amount uint64, obligation, reserve, market, marketOwner solana.PublicKey) *Instruction {
	return newAmountInstruction(programID, TagForgiveDebt, amount,
		writable(obligation),
		writable(reserve),
		readonly(market),
		signer(marketOwner),
	)
}
