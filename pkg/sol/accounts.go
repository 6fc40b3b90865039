package sol

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// AccountReader is the chain read surface used by the builder, oracle orchestrator and engine.
type AccountReader interface {
	// GetAccounts returns one entry per key, nil where the account does not exist.
	GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*rpc.Account, error)
	RentExemptBalance(ctx context.Context, size uint64) (uint64, error)
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	Lamports(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// ProgramAccountLister lists accounts owned by a program.
type ProgramAccountLister interface {
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error)
}

// AccountData returns the raw bytes of acc, or nil for a missing account
func AccountData(acc *rpc.Account) []byte {
	if acc == nil || acc.Data == nil {
		return nil
	}
	return acc.Data.GetBinary()
}

// Exists reports which keys currently exist on chain.
func Exists(ctx context.Context, reader AccountReader, keys ...solana.PublicKey) (map[solana.PublicKey]bool, error) {
	accounts, err := reader.GetAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[solana.PublicKey]bool, len(keys))
	for i, k := range keys {
		out[k] = accounts[i] != nil
	}
	return out, nil
}

// FindATA derives the associated token account of owner for mint
func FindATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive ata for mint %s: %w", mint, err)
	}
	return addr, nil
}

// CreateATAIdempotent builds the associated-token-program CreateIdempotent instruction.
func CreateATAIdempotent(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := FindATA(owner, mint)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(ata, true, false),
			solana.NewAccountMeta(owner, false, false),
			solana.NewAccountMeta(mint, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		},
		[]byte{1},
	), nil
}

func Transfer(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// CreateAccountWithSeed creates a program-owned account at CreateWithSeed(base, seed, owner).
func CreateAccountWithSeed(payer, base solana.PublicKey, seed string, lamports, space uint64, owner solana.PublicKey) (solana.Instruction, error) {
	created, err := solana.CreateWithSeed(base, seed, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to derive seeded address: %w", err)
	}
	return system.NewCreateAccountWithSeedInstruction(base, seed, lamports, space, owner, payer, created, base).Build(), nil
}

func SyncNative(account solana.PublicKey) solana.Instruction {
	return token.NewSyncNativeInstruction(account).Build()
}

func CloseAccount(account, destination, owner solana.PublicKey) solana.Instruction {
	return token.NewCloseAccountInstruction(account, destination, owner, nil).Build()
}
