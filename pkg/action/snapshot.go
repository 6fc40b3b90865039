package action

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"sollend/pkg/lending"
	"sollend/pkg/sol"
)

// Snapshot is the chain state one build works against. It is read fresh for every build.
type Snapshot struct {
	// Obligation is nil when the account does not exist yet
	Obligation *lending.Obligation
	Reserves   map[solana.PublicKey]*lending.Reserve
	existing   map[solana.PublicKey]bool
}

// Exists reports whether key was present when the snapshot was taken
func (s *Snapshot) Exists(key solana.PublicKey) bool {
	return s.existing[key]
}

// Reserve returns a reserve of the snapshot
func (s *Snapshot) Reserve(key solana.PublicKey) (*lending.Reserve, error) {
	r, ok := s.Reserves[key]
	if !ok {
		return nil, &lending.StateReadError{Account: key, Err: lending.ErrAccountNotFound}
	}
	return r, nil
}

// ReserveList returns the reserves of keys in order
func (s *Snapshot) ReserveList(keys []solana.PublicKey) ([]*lending.Reserve, error) {
	out := make([]*lending.Reserve, 0, len(keys))
	for _, k := range keys {
		r, err := s.Reserve(k)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadSnapshot reads the obligation, the reserves it and targets touch, and the presence of
// accounts. Independent reads run concurrently.
func LoadSnapshot(ctx context.Context, reader sol.AccountReader, obligation solana.PublicKey, targets, accounts []solana.PublicKey) (*Snapshot, error) {
	snap := &Snapshot{
		Reserves: make(map[solana.PublicKey]*lending.Reserve),
		existing: make(map[solana.PublicKey]bool),
	}

	var targetReserves []*lending.Reserve
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := readObligation(gctx, reader, obligation)
		if err != nil {
			return err
		}
		snap.Obligation = o
		return nil
	})
	g.Go(func() error {
		exists, err := sol.Exists(gctx, reader, accounts...)
		if err != nil {
			return fmt.Errorf("failed to check user accounts: %w", err)
		}
		for k, ok := range exists {
			snap.existing[k] = ok
		}
		return nil
	})
	g.Go(func() error {
		rs, err := readReserves(gctx, reader, targets)
		if err != nil {
			return err
		}
		targetReserves = rs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range targetReserves {
		snap.Reserves[r.Address] = r
	}
	if snap.Obligation != nil {
		snap.existing[obligation] = true
	}

	var missing []solana.PublicKey
	for _, k := range snap.Obligation.DistinctReserves() {
		if _, ok := snap.Reserves[k]; !ok {
			missing = append(missing, k)
		}
	}
	rest, err := readReserves(ctx, reader, missing)
	if err != nil {
		return nil, err
	}
	for _, r := range rest {
		snap.Reserves[r.Address] = r
	}
	return snap, nil
}

func readObligation(ctx context.Context, reader sol.AccountReader, address solana.PublicKey) (*lending.Obligation, error) {
	accounts, err := reader.GetAccounts(ctx, []solana.PublicKey{address})
	if err != nil {
		return nil, &lending.StateReadError{Account: address, Err: err}
	}
	data := sol.AccountData(accounts[0])
	if data == nil {
		return nil, nil
	}
	o := &lending.Obligation{Address: address}
	if err := o.Decode(data); err != nil {
		return nil, &lending.StateReadError{Account: address, Err: fmt.Errorf("%w: %v", lending.ErrInvalidAccountData, err)}
	}
	return o, nil
}

func readReserves(ctx context.Context, reader sol.AccountReader, keys []solana.PublicKey) ([]*lending.Reserve, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	accounts, err := reader.GetAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reserves: %w", err)
	}
	out := make([]*lending.Reserve, 0, len(keys))
	for i, k := range keys {
		data := sol.AccountData(accounts[i])
		if data == nil {
			return nil, &lending.StateReadError{Account: k, Err: lending.ErrAccountNotFound}
		}
		r := &lending.Reserve{Address: k}
		if err := r.Decode(data); err != nil {
			return nil, &lending.StateReadError{Account: k, Err: fmt.Errorf("%w: %v", lending.ErrInvalidAccountData, err)}
		}
		out = append(out, r)
	}
	return out, nil
}
