// Package retry runs remote operations under a bounded exponential backoff
// with additive jitter. Every attempt gets its own deadline and every wait
// goes through the injected clock.
package retry

import (
	"consentsync/internal/apperr"
	"consentsync/internal/clock"
	"consentsync/internal/providers"
	"consentsync/internal/structures"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxRetries counts retries after the first attempt.
	MaxRetries     int
	BackoffFactor  float64
	MaxJitter      time.Duration
	AttemptTimeout time.Duration

	// RetryIf decides whether a failed attempt may be retried. Nil retries everything.
	RetryIf func(err error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func PolicyFromConfig(c structures.RetryPolicy) Policy {
	return Policy{
		InitialDelay:   c.InitialDelay,
		MaxDelay:       c.MaxDelay,
		MaxRetries:     c.MaxRetries,
		BackoffFactor:  c.BackoffFactor,
		MaxJitter:      c.MaxJitter,
		AttemptTimeout: c.AttemptTimeout,
	}
}

// BaseDelay is the backoff before jitter: min(initial*factor^attempt, max).
func (p Policy) BaseDelay(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.InitialDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type SchedulerInterface interface {
	Delay(p Policy, attempt int) time.Duration
	Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error
}

type Scheduler struct {
	clock   clock.Clock
	logger  providers.Logger
	metrics providers.MetricsProviderInterface
	jitter  func(limit time.Duration) time.Duration
}

func NewScheduler(clk clock.Clock, logger providers.Logger, metrics providers.MetricsProviderInterface) *Scheduler {
	return &Scheduler{
		clock:   clk,
		logger:  logger,
		metrics: metrics,
		jitter: func(limit time.Duration) time.Duration {
			//nolint:gosec // jitter is not security sensitive
			return rand.N(limit)
		},
	}
}

// Delay returns the wait before retry number attempt+1. The result lies in
// [BaseDelay(attempt), BaseDelay(attempt)+MaxJitter).
func (s *Scheduler) Delay(p Policy, attempt int) time.Duration {
	d := p.BaseDelay(attempt)
	if p.MaxJitter > 0 {
		d += s.jitter(p.MaxJitter)
	}
	return d
}

func (s *Scheduler) Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, s, op, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue runs fn until it succeeds, the policy refuses a retry, the budget
// is spent, or ctx is done. The last failure is returned with its kind intact.
func DoValue[T any](ctx context.Context, s *Scheduler, op string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := p.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, apperr.FromContext(op, err)
		}

		v, err := runAttempt(ctx, op, p, fn)
		if err == nil {
			if attempt > 0 {
				s.logger.Infof(providers.TypeSync, "%s succeeded after %d attempts", op, attempt+1)
			}
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, apperr.FromContext(op, ctx.Err())
		}
		if p.RetryIf != nil && !p.RetryIf(err) {
			s.logger.Debugf(providers.TypeSync, "%s failed with non-retryable error: %v", op, err)
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := s.Delay(p, attempt)
		s.logger.Debugf(providers.TypeSync, "%s attempt %d/%d failed: %v, retrying in %v", op, attempt+1, attempts, err, delay)
		s.metrics.IncRetryAttempts(op)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		if err := s.clock.Sleep(ctx, delay); err != nil {
			return zero, apperr.FromContext(op, err)
		}
	}

	s.logger.Warnf(providers.TypeSync, "%s gave up after %d attempts: %v", op, attempts, lastErr)
	return zero, fmt.Errorf("%s: %d attempts exhausted: %w", op, attempts, lastErr)
}

// runAttempt bounds one call by AttemptTimeout. A call cut short by that
// deadline is reported as Timeout whatever error fn returned.
func runAttempt[T any](ctx context.Context, op string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		v, err := fn(ctx)
		return v, apperr.FromContext(op, err)
	}

	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	v, err := fn(actx)
	if err == nil {
		return v, nil
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !apperr.Is(err, apperr.Timeout) {
		return v, &apperr.Error{Kind: apperr.Timeout, Op: op, Message: "timed out", Err: err}
	}
	return v, apperr.FromContext(op, err)
}
