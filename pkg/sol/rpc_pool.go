package sol

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCPool distributes requests across several endpoints in round-robin order.
// It satisfies AccountReader so callers need not know how many endpoints exist.
type RPCPool struct {
	clients []*Client
	index   uint64
}

// NewRPCPool creates a client per endpoint
func NewRPCPool(endpoints []string, jitoRpc string, reqLimitPerSecond int) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one rpc endpoint is required")
	}

	pool := &RPCPool{
		clients: make([]*Client, 0, len(endpoints)),
	}
	for _, endpoint := range endpoints {
		client, err := NewClient(endpoint, jitoRpc, reqLimitPerSecond)
		if err != nil {
			return nil, err
		}
		pool.clients = append(pool.clients, client)
	}

	return pool, nil
}

// GetClient returns the next client in round-robin fashion
func (p *RPCPool) GetClient() *Client {
	if len(p.clients) == 1 {
		return p.clients[0]
	}
	idx := atomic.AddUint64(&p.index, 1) % uint64(len(p.clients))
	return p.clients[idx]
}

// Primary returns the first configured client, used where one endpoint must see a whole flow
func (p *RPCPool) Primary() *Client {
	return p.clients[0]
}

// Size returns the number of clients in the pool
func (p *RPCPool) Size() int {
	return len(p.clients)
}

func (p *RPCPool) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*rpc.Account, error) {
	return p.GetClient().GetAccounts(ctx, keys)
}

func (p *RPCPool) RentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	return p.GetClient().RentExemptBalance(ctx, size)
}

func (p *RPCPool) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return p.GetClient().TokenBalance(ctx, account)
}

func (p *RPCPool) Lamports(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return p.GetClient().Lamports(ctx, account)
}

func (p *RPCPool) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	return p.GetClient().ProgramAccounts(ctx, program, filters)
}
