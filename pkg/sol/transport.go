package sol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"sollend/pkg/logger"
)

// maxBundleSize is the Jito block engine limit on transactions per bundle
const maxBundleSize = 5

// Transport sends signed transaction groups in order and confirms them.
type Transport struct {
	client         *Client
	watcher        *SignatureWatcher
	tipLamports    uint64
	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            zerolog.Logger
}

// NewTransport creates a transport. watcher may be nil, in which case confirmation polls RPC.
func NewTransport(client *Client, watcher *SignatureWatcher, tipLamports uint64, confirmTimeout time.Duration) *Transport {
	return &Transport{
		client:         client,
		watcher:        watcher,
		tipLamports:    tipLamports,
		confirmTimeout: confirmTimeout,
		pollInterval:   700 * time.Millisecond,
		log:            logger.GetForComponent("transport"),
	}
}

func (t *Transport) bundling() bool {
	return t.client.Jito() != nil && t.tipLamports > 0
}

// LatestBlockhash returns a blockhash from the transport's endpoint
func (t *Transport) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return t.client.LatestBlockhash(ctx)
}

// TipInstruction returns the bundle tip transfer, or nil when bundles are not in use
func (t *Transport) TipInstruction(payer solana.PublicKey) (solana.Instruction, error) {
	if !t.bundling() {
		return nil, nil
	}
	account, err := t.client.Jito().GetRandomTipAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to get jito tip account: %w", err)
	}
	tipAccount, err := solana.PublicKeyFromBase58(account.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid jito tip account %q: %w", account.Address, err)
	}
	return Transfer(payer, tipAccount, t.tipLamports), nil
}

// Submit sends the signed transactions in order and returns the first signature once
// every transaction has confirmed.
func (t *Transport) Submit(ctx context.Context, txs []*solana.Transaction) (solana.Signature, error) {
	if len(txs) == 0 {
		return solana.Signature{}, fmt.Errorf("no transactions to submit")
	}
	if t.bundling() && len(txs) <= maxBundleSize {
		return t.submitBundle(ctx, txs)
	}

	var first solana.Signature
	for i, tx := range txs {
		sig, err := t.client.Send(ctx, tx)
		if err != nil {
			return first, fmt.Errorf("failed to send transaction %d/%d: %w", i+1, len(txs), err)
		}
		if i == 0 {
			first = sig
		}
		if err := t.Confirm(ctx, sig); err != nil {
			return first, err
		}
		t.log.Debug().Str("signature", sig.String()).Int("index", i).Msg("transaction confirmed")
	}
	return first, nil
}

func (t *Transport) submitBundle(ctx context.Context, txs []*solana.Transaction) (solana.Signature, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
		}
		encoded[i] = base58.Encode(raw)
	}

	bundleID, err := t.client.Jito().SendBundle([][]string{encoded})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send bundle: %w", err)
	}
	t.log.Info().RawJSON("bundle", bundleID).Int("transactions", len(txs)).Msg("bundle submitted")

	first := txs[0].Signatures[0]
	if err := t.Confirm(ctx, first); err != nil {
		return first, err
	}
	return first, nil
}

// Confirm waits for sig to reach confirmed commitment. The websocket watcher and RPC
// polling race; the first definite answer wins.
func (t *Transport) Confirm(ctx context.Context, sig solana.Signature) error {
	if t.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.confirmTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, 2)
	waiters := 1
	go func() { results <- t.poll(ctx, sig) }()
	if t.watcher != nil && t.watcher.IsConnected() {
		waiters++
		go func() { results <- t.watcher.Wait(ctx, sig) }()
	}

	var lastErr error
	for range waiters {
		err := <-results
		if err == nil {
			return nil
		}
		var failed *TransactionFailedError
		if errors.As(err, &failed) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("confirmation of %s: %w", sig, lastErr)
}

func (t *Transport) poll(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := t.client.SignatureStatus(ctx, sig)
			if err != nil || status == nil {
				continue
			}
			if status.Err != nil {
				return &TransactionFailedError{Signature: sig, Reason: status.Err}
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
