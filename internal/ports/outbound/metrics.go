package outbound

import (
	"context"
	"time"
)

// ExecutionMetrics records pipeline and scheduler measurements.
type ExecutionMetrics interface {
	// RecordCycle records one finished cycle with its outcome code ("ok", "skipped" or an error code).
	RecordCycle(ctx context.Context, outcome string, duration time.Duration)

	// RecordSweep records a finished sweep.
	RecordSweep(ctx context.Context, due, claimed int, duration time.Duration, err error)

	// RecordQuote records one quote source response.
	RecordQuote(ctx context.Context, source string, duration time.Duration, err error)
}
