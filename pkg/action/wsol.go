package action

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"sollend/pkg/lending"
	"sollend/pkg/sol"
)

// NativeFeeReserve is the lamport balance left in the wallet when wrapping its whole balance
const NativeFeeReserve uint64 = 50_000_000

func isNative(r *lending.Reserve) bool {
	return r != nil && r.Liquidity.Mint.Equals(lending.NativeMint)
}

func resolveWSOL(ctx context.Context, r *resolution) error {
	if r.req.Action == Liquidate {
		if isNative(r.repay) {
			if err := r.fundNative(ctx, r.repayToken, r.req.Amount); err != nil {
				return err
			}
		}
		if isNative(r.req.Reserve) {
			return r.drainNative(ctx, r.user.Liquidity)
		}
		return nil
	}

	if !isNative(r.req.Reserve) {
		return nil
	}
	if !r.req.Action.Funding() {
		return r.drainNative(ctx, r.user.Liquidity)
	}

	amount := r.req.Amount
	if r.req.Action == Repay && amount == lending.U64Max {
		safe, err := r.safeRepayAmount(ctx)
		if err != nil {
			return err
		}
		amount = safe
	}
	return r.fundNative(ctx, r.user.Liquidity, amount)
}

// safeRepayAmount re-derives the outstanding debt against the latest reserve state
// plus padding for interest accrued before execution.
func (r *resolution) safeRepayAmount(ctx context.Context) (uint64, error) {
	if r.snap.Obligation == nil {
		return 0, lending.NewPreconditionError(lending.ErrNoDebt, "obligation %s does not exist", r.obligation)
	}
	borrow, ok := r.snap.Obligation.Borrow(r.req.Reserve.Address)
	if !ok {
		return 0, lending.NewPreconditionError(lending.ErrNoDebt, "reserve %s", r.req.Reserve.Address)
	}
	latest, err := readReserves(ctx, r.builder.reader, []solana.PublicKey{r.req.Reserve.Address})
	if err != nil {
		return 0, err
	}
	amount, err := lending.SafeRepayAmount(
		borrow.BorrowedAmountWads,
		borrow.CumulativeBorrowRateWads,
		latest[0].Liquidity.CumulativeBorrowRateWads,
		lending.RepayPadding,
	)
	if err != nil {
		return 0, &lending.StateReadError{Account: r.req.Reserve.Address, Err: err}
	}
	return amount, nil
}

// spendableLamports is the wallet balance available for wrapping
func (r *resolution) spendableLamports(ctx context.Context) (uint64, error) {
	balance, err := r.builder.reader.Lamports(ctx, r.req.Owner)
	if err != nil {
		return 0, fmt.Errorf("failed to read wallet balance: %w", err)
	}
	if balance <= NativeFeeReserve {
		return 0, lending.NewPreconditionError(lending.ErrInsufficientFunds, "%d lamports", balance)
	}
	return balance - NativeFeeReserve, nil
}

// fundNative moves amount lamports into the wrapped SOL account ahead of the lending instruction
func (r *resolution) fundNative(ctx context.Context, account solana.PublicKey, amount uint64) error {
	if amount == lending.U64Max {
		spendable, err := r.spendableLamports(ctx)
		if err != nil {
			return err
		}
		amount = spendable
	}
	existed := r.exists(account)

	lamports := amount
	if !existed {
		rent, err := r.builder.reader.RentExemptBalance(ctx, lending.TokenAccountSize)
		if err != nil {
			return fmt.Errorf("failed to get token account rent: %w", err)
		}
		lamports += rent
	}

	b := r.creationBucket()
	r.plan.add(b, sol.Transfer(r.req.Owner, account, lamports))
	if existed {
		r.plan.add(b, sol.SyncNative(account))
		return nil
	}
	ix, err := sol.CreateATAIdempotent(r.req.Owner, r.req.Owner, lending.NativeMint)
	if err != nil {
		return err
	}
	r.plan.add(b, ix)
	r.planned[account] = true
	// a wrapped account created for this action is temporary
	r.closeNative(account)
	return nil
}

func (r *resolution) closeNative(account solana.PublicKey) {
	if r.closed[account] {
		return
	}
	r.plan.add(r.teardownBucket(), sol.CloseAccount(account, r.req.Owner, r.req.Owner))
	r.closed[account] = true
}

// drainNative makes sure the wrapped SOL account exists for the action and closes it afterwards
func (r *resolution) drainNative(ctx context.Context, account solana.PublicKey) error {
	if !r.exists(account) {
		rent, err := r.builder.reader.RentExemptBalance(ctx, lending.TokenAccountSize)
		if err != nil {
			return fmt.Errorf("failed to get token account rent: %w", err)
		}
		ix, err := sol.CreateATAIdempotent(r.req.Owner, r.req.Owner, lending.NativeMint)
		if err != nil {
			return err
		}
		r.plan.add(r.creationBucket(), sol.Transfer(r.req.Owner, account, rent), ix)
		r.planned[account] = true
	}
	r.closeNative(account)
	return nil
}
