// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"
	"time"
)

// SweepResult summarises one scheduler sweep.
type SweepResult struct {
	StartedAt     time.Time `json:"startedAt"`
	Due           int       `json:"due"`
	Claimed       []string  `json:"claimed"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	Expired       int       `json:"expired"`
	ReleasedStale int       `json:"releasedStale"`
}

// Sweeper runs one scheduling sweep.
// Inbound adapters (HTTP trigger, queue worker, ticker) call it.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*SweepResult, error)
}

// HealthChecker defines the interface for services that can report readiness and liveness.
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	// For the scheduler this means a sweep finished recently.
	IsHealthy() bool
}
