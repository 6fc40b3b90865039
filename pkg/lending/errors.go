package lending

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrPositionLimit       = errors.New("obligation position limit exceeded")
	ErrMissingRepayReserve = errors.New("liquidation requires a distinct repay reserve")
	ErrWrapperState        = errors.New("wrapped token accounts are not initialized")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAccountData  = errors.New("unexpected account data")
	ErrNoDebt              = errors.New("obligation has no borrow in reserve")
	ErrInsufficientFunds   = errors.New("wallet balance too low")
	ErrNoPrice             = errors.New("no usable price for reserve")
)

// PreconditionError reports an action that cannot be built from the given input.
// Nothing has been emitted when it is returned.
type PreconditionError struct {
	Err    error
	Detail string
}

func (e *PreconditionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("precondition failed: %v", e.Err)
	}
	return fmt.Sprintf("precondition failed: %v: %s", e.Err, e.Detail)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// StateReadError reports an account that could not be fetched or decoded.
type StateReadError struct {
	Account solana.PublicKey
	Err     error
}

func (e *StateReadError) Error() string {
	return fmt.Sprintf("failed to read account %s: %v", e.Account, e.Err)
}

func (e *StateReadError) Unwrap() error { return e.Err }

// OracleResolutionError reports a reserve whose price could not be resolved.
type OracleResolutionError struct {
	Reserve solana.PublicKey
	Err     error
}

func (e *OracleResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve oracle for reserve %s: %v", e.Reserve, e.Err)
}

func (e *OracleResolutionError) Unwrap() error { return e.Err }

// SubmissionError reports a transaction that was rejected or never confirmed.
type SubmissionError struct {
	Signature solana.Signature
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Signature == (solana.Signature{}) {
		return fmt.Sprintf("submission failed: %v", e.Err)
	}
	return fmt.Sprintf("submission of %s failed: %v", e.Signature, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func NewPreconditionError(err error, format string, args ...any) error {
	return &PreconditionError{Err: err, Detail: fmt.Sprintf(format, args...)}
}
