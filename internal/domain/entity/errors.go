package entity

import (
	"errors"
	"fmt"
)

// Per-cycle failure taxonomy. Every aborted cycle is recorded with the code
// returned by ErrorCode so the execution log explains why no progress was made.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCredentialExpired   = errors.New("credential expired")
	ErrCredentialScope     = errors.New("call outside credential scope")
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrUnauthorizedTarget  = errors.New("unauthorized target")
	ErrSuspiciousQuote     = errors.New("suspicious quote")
	ErrSubmissionTimeout   = errors.New("submission timeout")
	ErrChainRevert         = errors.New("chain revert")
	ErrBelowMinimumAmount  = errors.New("below minimum amount")
	ErrTransactionDropped  = errors.New("transaction dropped")
)

// Repository and state machine errors.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrClaimLost         = errors.New("order claim lost")
	ErrConcurrentUpdate  = errors.New("order changed since it was read")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrNotOwner          = errors.New("caller does not own order")
)

// Error codes persisted with execution records.
const (
	CodeInsufficientBalance = "insufficient_balance"
	CodeCredentialExpired   = "credential_expired"
	CodeCredentialScope     = "credential_scope"
	CodeQuoteUnavailable    = "quote_unavailable"
	CodeUnauthorizedTarget  = "unauthorized_target"
	CodeSuspiciousQuote     = "suspicious_quote"
	CodeSubmissionTimeout   = "submission_timeout"
	CodeChainRevert         = "chain_revert"
	CodeBelowMinimum        = "below_minimum"
	CodeDropped             = "dropped"
	CodeInternal            = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrCredentialExpired, CodeCredentialExpired},
	{ErrCredentialScope, CodeCredentialScope},
	{ErrQuoteUnavailable, CodeQuoteUnavailable},
	{ErrUnauthorizedTarget, CodeUnauthorizedTarget},
	{ErrSuspiciousQuote, CodeSuspiciousQuote},
	{ErrSubmissionTimeout, CodeSubmissionTimeout},
	{ErrChainRevert, CodeChainRevert},
	{ErrBelowMinimumAmount, CodeBelowMinimum},
	{ErrTransactionDropped, CodeDropped},
}

// ErrorCode maps an error onto its stable execution-log code.
// Unknown errors map to CodeInternal; nil maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// IsRetryable reports whether the next cycle may retry after err without any
// owner action. Security aborts are retried too, but always with a fresh quote.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrCredentialExpired), errors.Is(err, ErrCredentialScope):
		return false
	case err == nil:
		return false
	}
	return true
}

// IsSecurityAbort reports whether err is a hard allow-list or quote sanity failure.
func IsSecurityAbort(err error) bool {
	return errors.Is(err, ErrUnauthorizedTarget) || errors.Is(err, ErrSuspiciousQuote)
}

// StorageError marks failures of the persistence layer. A StorageError aborts
// the whole sweep, unlike per-order failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err as a StorageError. It returns nil for a nil err.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
