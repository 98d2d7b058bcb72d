package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig tunes [Retry]'s single-retry jittered backoff.
type RetryConfig struct {
	// BaseDelay is the nominal wait before the retry attempt. Default: 200ms.
	BaseDelay time.Duration

	// JitterFraction randomizes BaseDelay by +/- this fraction (e.g. 0.5 means
	// the actual delay is uniformly drawn from [0.5, 1.5] * BaseDelay).
	// Default: 0.5.
	JitterFraction float64
}

// Retry calls fn once; if it returns a non-nil error, it waits a jittered
// backoff and calls fn exactly one more time, returning that second
// attempt's result. It never retries more than once — spec §7's policy
// is "retry idempotent upstream calls once", never a retry storm.
//
// The caller is responsible for only passing fn values that are safe to
// call twice (idempotent reads: embed, classify, verify). Synthesis is
// never wrapped in Retry since resubmitting it could duplicate citations
// drawn from a non-deterministic LLM response.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.5
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}

	delay := jitteredDelay(cfg.BaseDelay, cfg.JitterFraction)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	case <-timer.C:
	}

	return fn(ctx)
}

func jitteredDelay(base time.Duration, jitterFraction float64) time.Duration {
	lo := 1 - jitterFraction
	span := 2 * jitterFraction
	factor := lo + rand.Float64()*span
	return time.Duration(float64(base) * factor)
}
