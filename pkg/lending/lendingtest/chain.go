package lendingtest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"sollend/pkg/lending"
)

// Chain is an in-memory account store implementing sol.AccountReader
type Chain struct {
	mu            sync.RWMutex
	accounts      map[solana.PublicKey]*rpc.Account
	tokenBalances map[solana.PublicKey]uint64
	failing       map[solana.PublicKey]error
	Rent          uint64
	Reads         int
}

func NewChain() *Chain {
	return &Chain{
		accounts:      make(map[solana.PublicKey]*rpc.Account),
		tokenBalances: make(map[solana.PublicKey]uint64),
		failing:       make(map[solana.PublicKey]error),
		Rent:          2_039_280,
	}
}

// Set stores an account owned by owner with data
func (c *Chain) Set(key, owner solana.PublicKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[key] = &rpc.Account{
		Owner:    owner,
		Lamports: c.Rent,
		Data:     rpc.DataBytesOrJSONFromBytes(data),
	}
}

// SetLamports stores a system account with lamports
func (c *Chain) SetLamports(key solana.PublicKey, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[key] = &rpc.Account{Owner: solana.SystemProgramID, Lamports: lamports, Data: rpc.DataBytesOrJSONFromBytes(nil)}
}

// SetTokenAccount stores a token account holding amount
func (c *Chain) SetTokenAccount(key solana.PublicKey, amount uint64) {
	c.Set(key, solana.TokenProgramID, make([]byte, lending.TokenAccountSize))
	c.mu.Lock()
	c.tokenBalances[key] = amount
	c.mu.Unlock()
}

func (c *Chain) Delete(key solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, key)
}

// Fail makes every read touching key return err
func (c *Chain) Fail(key solana.PublicKey, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[key] = err
}

func (c *Chain) SetReserve(r *lending.Reserve, programID solana.PublicKey) {
	c.Set(r.Address, programID, EncodeReserve(r))
}

func (c *Chain) SetMarket(market, owner, programID solana.PublicKey) {
	c.Set(market, programID, EncodeLendingMarket(owner))
}

func (c *Chain) SetObligation(o *lending.Obligation, programID solana.PublicKey) {
	c.Set(o.Address, programID, EncodeObligation(o))
}

func (c *Chain) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*rpc.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reads++
	out := make([]*rpc.Account, len(keys))
	for i, k := range keys {
		if err, ok := c.failing[k]; ok {
			return nil, err
		}
		if acc, ok := c.accounts[k]; ok {
			cp := *acc
			out[i] = &cp
		}
	}
	return out, nil
}

func (c *Chain) RentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	return c.Rent, nil
}

func (c *Chain) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err, ok := c.failing[account]; ok {
		return 0, err
	}
	amount, ok := c.tokenBalances[account]
	if !ok {
		return 0, fmt.Errorf("token account %s: %w", account, lending.ErrAccountNotFound)
	}
	return amount, nil
}

func (c *Chain) Lamports(ctx context.Context, account solana.PublicKey) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err, ok := c.failing[account]; ok {
		return 0, err
	}
	acc, ok := c.accounts[account]
	if !ok {
		return 0, nil
	}
	return acc.Lamports, nil
}

// ProgramAccounts returns accounts owned by program matching every data-size and memcmp filter
func (c *Chain) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reads++
	if err, ok := c.failing[program]; ok {
		return nil, err
	}

	var out rpc.GetProgramAccountsResult
	for key, acc := range c.accounts {
		if !acc.Owner.Equals(program) {
			continue
		}
		data := acc.Data.GetBinary()
		if !matches(data, filters) {
			continue
		}
		cp := *acc
		out = append(out, &rpc.KeyedAccount{Pubkey: key, Account: &cp})
	}
	return out, nil
}

func matches(data []byte, filters []rpc.RPCFilter) bool {
	for _, f := range filters {
		if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
			return false
		}
		if m := f.Memcmp; m != nil {
			end := int(m.Offset) + len(m.Bytes)
			if end > len(data) || !bytes.Equal(data[m.Offset:end], m.Bytes) {
				return false
			}
		}
	}
	return true
}
