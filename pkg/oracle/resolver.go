package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"sollend/pkg/lending"
	"sollend/pkg/sol"
)

// Resolver reads current prices for reserves. Prices are never cached between calls.
type Resolver struct {
	reader   sol.AccountReader
	decoders Decoders
}

func NewResolver(reader sol.AccountReader, decoders Decoders) *Resolver {
	return &Resolver{reader: reader, decoders: decoders}
}

// Prices resolves each reserve's price from its oracles in order, primary first.
// Reserves with no resolvable oracle are reported in unresolved rather than failing the batch.
func (r *Resolver) Prices(ctx context.Context, reserves []*lending.Reserve) (prices map[solana.PublicKey]Price, unresolved []error, err error) {
	var keys []solana.PublicKey
	index := make(map[solana.PublicKey]int)
	for _, res := range reserves {
		for _, k := range res.Oracles() {
			if _, ok := index[k]; ok {
				continue
			}
			index[k] = len(keys)
			keys = append(keys, k)
		}
	}

	var accounts []*rpc.Account
	if len(keys) > 0 {
		if accounts, err = r.reader.GetAccounts(ctx, keys); err != nil {
			return nil, nil, fmt.Errorf("failed to fetch oracle accounts: %w", err)
		}
	}

	prices = make(map[solana.PublicKey]Price, len(reserves))
	for _, res := range reserves {
		var errs []error
		for _, k := range res.Oracles() {
			acc := accounts[index[k]]
			if acc == nil {
				errs = append(errs, fmt.Errorf("oracle %s: %w", k, lending.ErrAccountNotFound))
				continue
			}
			p, err := r.decoders.Decode(acc.Owner, sol.AccountData(acc))
			if err != nil {
				errs = append(errs, fmt.Errorf("oracle %s: %w", k, err))
				continue
			}
			prices[res.Address] = p
			break
		}
		if _, ok := prices[res.Address]; !ok {
			if len(errs) == 0 {
				errs = append(errs, errors.New("reserve has no oracle configured"))
			}
			unresolved = append(unresolved, &lending.OracleResolutionError{Reserve: res.Address, Err: errors.Join(errs...)})
		}
	}
	return prices, unresolved, nil
}

// Price resolves a single reserve
func (r *Resolver) Price(ctx context.Context, reserve *lending.Reserve) (Price, error) {
	prices, unresolved, err := r.Prices(ctx, []*lending.Reserve{reserve})
	if err != nil {
		return Price{}, err
	}
	if len(unresolved) > 0 {
		return Price{}, unresolved[0]
	}
	return prices[reserve.Address], nil
}
