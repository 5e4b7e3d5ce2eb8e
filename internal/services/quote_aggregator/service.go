// Package quote_aggregator fans a swap request out to every configured quote
// source and picks the best structurally valid, allow-listed answer.
package quote_aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/allowlist"
	"github.com/archon-research/dca/internal/pkg/amount"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Config holds configuration for the aggregator.
type Config struct {
	// PerSourceTimeout bounds every individual source request.
	PerSourceTimeout time.Duration

	// SlippageBps derives MinAmountOut for sources that do not provide one.
	SlippageBps int64
}

func configDefaults() Config {
	return Config{
		PerSourceTimeout: 3 * time.Second,
		SlippageBps:      50,
	}
}

// Service aggregates quotes across providers.
type Service struct {
	providers []outbound.QuoteProvider
	metrics   outbound.ExecutionMetrics
	config    Config
	logger    *slog.Logger
}

// NewService creates an aggregator. metrics may be nil.
func NewService(providers []outbound.QuoteProvider, metrics outbound.ExecutionMetrics, config Config, logger *slog.Logger) (*Service, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one quote provider is required")
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("quote provider %d cannot be nil", i)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := configDefaults()
	if config.PerSourceTimeout == 0 {
		config.PerSourceTimeout = defaults.PerSourceTimeout
	}
	if config.SlippageBps == 0 {
		config.SlippageBps = defaults.SlippageBps
	}

	return &Service{
		providers: providers,
		metrics:   metrics,
		config:    config,
		logger:    logger.With("component", "quote-aggregator"),
	}, nil
}

type sourceResult struct {
	quote *entity.Quote
	err   error

	// rejected is set when the answer touched an address the gate does not
	// allow. It aborts the whole request, even if the answer was malformed.
	rejected error
}

// BestQuote queries every provider concurrently and returns the quote with
// the largest AmountOut. Failed, timed-out and malformed answers are excluded.
// If any answer names a target or embeds an address the gate does not allow,
// the whole request fails with entity.ErrUnauthorizedTarget, whatever its
// amounts or structure.
func (s *Service) BestQuote(ctx context.Context, req entity.QuoteRequest, gate *allowlist.Gate) (*entity.Quote, error) {
	if gate == nil {
		return nil, fmt.Errorf("allow-list gate cannot be nil")
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount in must be positive", entity.ErrQuoteUnavailable)
	}

	results := make([]sourceResult, len(s.providers))
	var wg sync.WaitGroup
	for i, p := range s.providers {
		wg.Add(1)
		go func(i int, p outbound.QuoteProvider) {
			defer wg.Done()
			results[i] = s.query(ctx, p, req, gate)
		}(i, p)
	}
	wg.Wait()

	for _, r := range results {
		if r.rejected != nil {
			return nil, r.rejected
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrQuoteUnavailable, err)
	}

	var (
		best     *entity.Quote
		failures []error
	)
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, r.err)
			continue
		}
		if best == nil || r.quote.AmountOut.Cmp(best.AmountOut) > 0 {
			best = r.quote
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no source returned a usable quote: %w", entity.ErrQuoteUnavailable, errors.Join(failures...))
	}

	s.logger.Debug("selected quote",
		"source", best.Source,
		"amountIn", best.AmountIn,
		"amountOut", best.AmountOut,
		"sources", len(s.providers),
		"excluded", len(failures),
	)
	return best, nil
}

func (s *Service) query(ctx context.Context, p outbound.QuoteProvider, req entity.QuoteRequest, gate *allowlist.Gate) sourceResult {
	ctx, cancel := context.WithTimeout(ctx, s.config.PerSourceTimeout)
	defer cancel()

	start := time.Now()
	q, err := p.Quote(ctx, req)
	if err == nil && q == nil {
		err = fmt.Errorf("%w: empty response", entity.ErrSuspiciousQuote)
	}
	if err == nil {
		if q.Source == "" {
			q.Source = p.Name()
		}
		if q.TargetContract != (common.Address{}) || len(q.CallData) > 0 {
			if gateErr := gate.CheckQuote(q); gateErr != nil {
				if s.metrics != nil {
					s.metrics.RecordQuote(ctx, p.Name(), time.Since(start), gateErr)
				}
				s.logger.Warn("rejecting cycle: quote references unknown address",
					"source", q.Source,
					"target", q.TargetContract.Hex(),
					"error", gateErr,
				)
				return sourceResult{rejected: fmt.Errorf("quote from %s: %w", q.Source, gateErr)}
			}
		}
		if q.MinAmountOut == nil && q.AmountOut != nil {
			q.MinAmountOut = amount.ApplyBps(q.AmountOut, s.config.SlippageBps)
		}
		err = q.ValidateStructure(req)
	}

	if s.metrics != nil {
		s.metrics.RecordQuote(ctx, p.Name(), time.Since(start), err)
	}
	if err != nil {
		s.logger.Info("excluding quote source", "source", p.Name(), "error", err)
		return sourceResult{err: fmt.Errorf("%s: %w", p.Name(), err)}
	}
	return sourceResult{quote: q}
}
