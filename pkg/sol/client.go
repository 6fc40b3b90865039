package sol

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	jitorpc "github.com/jito-labs/jito-go-rpc"
	"golang.org/x/time/rate"
)

// maxAccountsPerCall is the getMultipleAccounts batch limit
const maxAccountsPerCall = 100

// Client wraps an RPC client with a per-endpoint request limiter and an optional Jito client
type Client struct {
	*rpc.Client
	endpoint   string
	limiter    *rate.Limiter
	jitoClient *jitorpc.JitoJsonRpcClient
	commitment rpc.CommitmentType
}

// NewClient creates a client for endpoint. jitoRpc may be empty.
func NewClient(endpoint string, jitoRpc string, reqLimitPerSecond int) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}

	c := &Client{
		Client:     rpc.New(endpoint),
		endpoint:   endpoint,
		commitment: rpc.CommitmentConfirmed,
	}
	if reqLimitPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(reqLimitPerSecond), reqLimitPerSecond)
	}
	if jitoRpc != "" {
		c.jitoClient = jitorpc.NewJitoJsonRpcClient(jitoRpc, "")
	}
	return c, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Jito returns the bundle client, or nil when none is configured
func (c *Client) Jito() *jitorpc.JitoJsonRpcClient {
	return c.jitoClient
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GetAccounts fetches accounts in batches, preserving order. Missing accounts are nil.
func (c *Client) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*rpc.Account, error) {
	out := make([]*rpc.Account, 0, len(keys))
	for start := 0; start < len(keys); start += maxAccountsPerCall {
		end := min(start+maxAccountsPerCall, len(keys))
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		res, err := c.GetMultipleAccountsWithOpts(ctx, keys[start:end], &rpc.GetMultipleAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch accounts: %w", err)
		}
		if len(res.Value) != end-start {
			return nil, fmt.Errorf("rpc returned %d accounts, requested %d", len(res.Value), end-start)
		}
		out = append(out, res.Value...)
	}
	return out, nil
}

func (c *Client) RentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	lamports, err := c.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get rent exemption for %d bytes: %w", size, err)
	}
	return lamports, nil
}

// TokenBalance returns the raw amount held by an SPL token account
func (c *Client) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.GetTokenAccountBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance of %s: %w", account, err)
	}
	if res.Value == nil {
		return 0, fmt.Errorf("empty token balance for %s", account)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

func (c *Client) Lamports(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", account, err)
	}
	return res.Value, nil
}

// ProgramAccounts runs a filtered getProgramAccounts
func (c *Client) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch program accounts of %s: %w", program, err)
	}
	return res, nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	res, err := c.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

// Send submits a signed transaction with preflight at the client's commitment
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	maxRetries := uint(3)
	return c.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
		MaxRetries:          &maxRetries,
	})
}

// SignatureStatus returns the status of sig, or nil when the cluster has not seen it
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}
