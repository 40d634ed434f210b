package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/retry"
)

// ResilientGenerator wraps a Generator with retry, a per-call deadline and stats
type ResilientGenerator struct {
	next        Generator
	retryConfig retry.RetryConfig
	timeout     time.Duration
	logger      zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats counts generation outcomes since startup
type Stats struct {
	Requests   int           `json:"requests"`
	Successful int           `json:"successful"`
	Retries    int           `json:"retries"`
	Timeouts   int           `json:"timeouts"`
	TotalTime  time.Duration `json:"total_time"`
}

// NewResilientGenerator wraps next. A zero timeout leaves the caller's deadline in charge.
func NewResilientGenerator(next Generator, config retry.RetryConfig, timeout time.Duration) *ResilientGenerator {
	return &ResilientGenerator{
		next:        next,
		retryConfig: config,
		timeout:     timeout,
		logger:      log.With().Str("component", "llm").Logger(),
	}
}

// NewResilientGeneratorWithDefaults uses the LLM retry profile
func NewResilientGeneratorWithDefaults(next Generator, timeout time.Duration) *ResilientGenerator {
	return NewResilientGenerator(next, retry.LLMRetryConfig(), timeout)
}

// Generate implements Generator. Only transient failures are retried.
func (rg *ResilientGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if rg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rg.timeout)
		defer cancel()
	}

	rg.mu.Lock()
	cfg := rg.retryConfig
	rg.mu.Unlock()

	var out string
	result := retry.RetryWithBackoffAndReason(ctx, cfg, func() (error, string) {
		text, err := rg.next.Generate(ctx, systemPrompt, userPrompt, maxTokens)
		if err != nil {
			if !retry.IsRetryableError(err) {
				return retry.Permanent(err), "non_retryable"
			}
			return err, err.Error()
		}
		out = text
		return nil, "success"
	}, &rg.logger)

	rg.record(result, ctx.Err())

	if result.Success {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", apperr.E(apperr.KindTimeout, "llm.generate", ctx.Err())
	}
	if apperr.KindOf(result.LastError) == apperr.KindExternal {
		return "", result.LastError
	}
	return "", apperr.External("llm.generate", result.LastError)
}

func (rg *ResilientGenerator) record(r retry.RetryResult, ctxErr error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.stats.Requests++
	rg.stats.Retries += r.Attempts - 1
	rg.stats.TotalTime += r.TotalDuration
	if r.Success {
		rg.stats.Successful++
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		rg.stats.Timeouts++
	}
}

// Stats returns a snapshot of the counters
func (rg *ResilientGenerator) Stats() Stats {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.stats
}

// UpdateRetryConfig updates the retry configuration
func (rg *ResilientGenerator) UpdateRetryConfig(config retry.RetryConfig) {
	rg.mu.Lock()
	rg.retryConfig = config
	rg.mu.Unlock()
	rg.logger.Info().
		Int("max_retries", config.MaxRetries).
		Dur("base_delay", config.BaseDelay).
		Dur("max_delay", config.MaxDelay).
		Msg("updated retry configuration")
}
