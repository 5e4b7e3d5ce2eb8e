package entity

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrapped: %w", ErrInsufficientBalance), CodeInsufficientBalance},
		{fmt.Errorf("x: %w", ErrCredentialExpired), CodeCredentialExpired},
		{ErrQuoteUnavailable, CodeQuoteUnavailable},
		{fmt.Errorf("gate: %w", ErrUnauthorizedTarget), CodeUnauthorizedTarget},
		{ErrSubmissionTimeout, CodeSubmissionTimeout},
		{ErrChainRevert, CodeChainRevert},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(ErrCredentialExpired) {
		t.Error("expired credential must not be retryable")
	}
	for _, err := range []error{ErrInsufficientBalance, ErrQuoteUnavailable, ErrSubmissionTimeout, ErrChainRevert} {
		if !IsRetryable(err) {
			t.Errorf("%v should be retryable", err)
		}
	}
}

func TestStorageError(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("sweep: %w", NewStorageError("get due orders", base))

	if !IsStorageError(err) {
		t.Error("expected IsStorageError to be true")
	}
	if !errors.Is(err, base) {
		t.Error("expected storage error to unwrap to base error")
	}
	if NewStorageError("noop", nil) != nil {
		t.Error("expected nil for nil error")
	}
	if IsStorageError(ErrQuoteUnavailable) {
		t.Error("domain errors are not storage errors")
	}
}
