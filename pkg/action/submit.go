package action

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"sollend/pkg/lending"
	"sollend/pkg/logger"
	"sollend/pkg/sol"
)

// Sender sends signed transactions in order and confirms them
type Sender interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	TipInstruction(payer solana.PublicKey) (solana.Instruction, error)
	Submit(ctx context.Context, txs []*solana.Transaction) (solana.Signature, error)
}

// Submitter packs a plan into transactions, signs them and hands them to a Sender.
type Submitter struct {
	sender Sender
	reader sol.AccountReader
	payer  solana.PrivateKey
	log    zerolog.Logger
}

func NewSubmitter(sender Sender, reader sol.AccountReader, payer solana.PrivateKey) *Submitter {
	return &Submitter{
		sender: sender,
		reader: reader,
		payer:  payer,
		log:    logger.GetForComponent("submit"),
	}
}

// Submit sends the plan's companion transactions, then the plan itself. It returns the
// signature of the plan's first transaction.
func (s *Submitter) Submit(ctx context.Context, plan *Plan) (solana.Signature, error) {
	if len(plan.Companions) > 0 {
		companions := make([]*solana.Transaction, 0, len(plan.Companions))
		for _, c := range plan.Companions {
			if err := c.Sign(s.payer); err != nil {
				return solana.Signature{}, &lending.SubmissionError{Err: err}
			}
			companions = append(companions, c.Tx)
		}
		sig, err := s.sender.Submit(ctx, companions)
		if err != nil {
			return solana.Signature{}, &lending.SubmissionError{Signature: sig, Err: fmt.Errorf("oracle updates: %w", err)}
		}
		s.log.Debug().Str("signature", sig.String()).Int("transactions", len(companions)).Msg("oracle updates landed")
	}

	txs, err := s.Transactions(ctx, plan)
	if err != nil {
		return solana.Signature{}, &lending.SubmissionError{Err: err}
	}
	sig, err := s.sender.Submit(ctx, txs)
	if err != nil {
		return sig, &lending.SubmissionError{Signature: sig, Err: err}
	}
	s.log.Info().
		Str("action", string(plan.Action)).
		Str("obligation", plan.Obligation.String()).
		Str("signature", sig.String()).
		Int("transactions", len(txs)).
		Msg("action confirmed")
	return sig, nil
}

// Transactions packs the plan into signed transactions in bucket order
func (s *Submitter) Transactions(ctx context.Context, plan *Plan) ([]*solana.Transaction, error) {
	tables, err := sol.LookupTables(ctx, s.reader, plan.LookupTables)
	if err != nil {
		return nil, err
	}
	blockhash, err := s.sender.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	segments := plan.Segments()
	tip, err := s.sender.TipInstruction(s.payer.PublicKey())
	if err != nil {
		return nil, err
	}
	if tip != nil {
		segments = append(segments, []solana.Instruction{tip})
	}

	txs, err := sol.Pack(segments, s.payer.PublicKey(), blockhash, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s plan: %w", plan.Action, err)
	}
	for _, tx := range txs {
		if err := (sol.PreparedTransaction{Tx: tx}).Sign(s.payer); err != nil {
			return nil, err
		}
	}
	return txs, nil
}
