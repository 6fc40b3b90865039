package lending

import (
	"github.com/gagliardetto/solana-go"
)

// Token wrapper instruction tags
const (
	WrapperTagDepositAndMint  InstructionTag = 0
	WrapperTagWithdrawAndBurn InstructionTag = 1
)

// DualMint describes a reserve asset that has a wrapped representation.
// Lending instructions move the wrapped mint while users hold the underlying.
type DualMint struct {
	Program        solana.PublicKey
	UnderlyingMint solana.PublicKey
	WrappedMint    solana.PublicKey
	Escrow         solana.PublicKey
	MintAuthority  solana.PublicKey
}

// Configured reports whether the wrapper has every account it needs.
func (d *DualMint) Configured() bool {
	return d != nil &&
		!d.Program.IsZero() &&
		!d.UnderlyingMint.IsZero() &&
		!d.WrappedMint.IsZero() &&
		!d.Escrow.IsZero()
}

func DepositAndMintWrapper(d DualMint, amount uint64, owner, underlyingATA, wrappedATA solana.PublicKey) *Instruction {
	return newAmountInstruction(d.Program, WrapperTagDepositAndMint, amount,
		signer(owner),
		writable(underlyingATA),
		writable(d.Escrow),
		writable(d.WrappedMint),
		readonly(d.MintAuthority),
		writable(wrappedATA),
		readonly(solana.TokenProgramID),
	)
}

func WithdrawAndBurnWrapper(d DualMint, amount uint64, owner, wrappedATA, underlyingATA solana.PublicKey) *Instruction {
	return newAmountInstruction(d.Program, WrapperTagWithdrawAndBurn, amount,
		signer(owner),
		writable(wrappedATA),
		writable(d.WrappedMint),
		writable(d.Escrow),
		readonly(d.MintAuthority),
		writable(underlyingATA),
		readonly(solana.TokenProgramID),
	)
}
