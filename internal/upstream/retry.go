package upstream

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	backoff "github.com/cenkalti/backoff/v4"

	"github.com/shivazshu/evo2-vep/internal/metrics"
)

// Policy shapes the retry executor. Rate-limited failures get their own
// steeper schedule: a 429 means the shared quota is already exhausted, so
// probing again quickly only digs the hole deeper.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	Multiplier        float64
	MaxJitter         time.Duration
	RateLimitedBase   time.Duration
	RateLimitedFactor float64
	RateLimitedJitter time.Duration
}

// DefaultPolicy mirrors the documented defaults: three attempts, doubling
// delays for generic transients, tripling after explicit rate limiting.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		Multiplier:        2,
		MaxJitter:         time.Second,
		RateLimitedBase:   2 * time.Second,
		RateLimitedFactor: 3,
		RateLimitedJitter: 3 * time.Second,
	}
}

// Executor wraps a single upstream attempt with bounded, class-aware retries.
// Fatal failures short-circuit without consuming the remaining attempts.
type Executor struct {
	service string
	policy  Policy
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder
	jitter  func(max time.Duration) time.Duration
}

// NewExecutor builds the retry wrapper for one upstream service. clk may be a
// mock in tests; everything time-related flows through it.
func NewExecutor(service string, policy Policy, clk clock.Clock, logger *slog.Logger, rec *metrics.Recorder) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		service: service,
		policy:  policy,
		clock:   clk,
		logger:  logger.With(slog.String("service", service)),
		metrics: rec,
		jitter:  randomJitter,
	}
}

// Execute runs attempt until it succeeds, fails fatally, or the attempt
// budget is spent. The terminal error carries the classification and the
// number of attempts consumed.
func (e *Executor) Execute(ctx context.Context, attempt func(ctx context.Context) error) error {
	generic := e.newSchedule(e.policy.BaseDelay, e.policy.Multiplier)
	limited := e.newSchedule(e.policy.RateLimitedBase, e.policy.RateLimitedFactor)

	var last *Error
	for i := 1; i <= e.policy.MaxAttempts; i++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}

		ue := AsError(e.service, err)
		ue.Attempts = i
		if !ue.Transient() {
			e.logger.Debug("fatal upstream failure, not retrying",
				slog.Int("status", ue.Status), slog.Any("error", ue.Err))
			return ue
		}
		last = ue
		if i == e.policy.MaxAttempts {
			break
		}

		var delay time.Duration
		retryClass := "transient"
		if ue.RateLimited {
			retryClass = "rate_limited"
			delay = limited.NextBackOff() + e.jitter(e.policy.RateLimitedJitter)
		} else {
			delay = generic.NextBackOff() + e.jitter(e.policy.MaxJitter)
		}
		// An explicit Retry-After hint from the upstream beats the computed schedule.
		if ue.RetryAfter > 0 {
			delay = ue.RetryAfter
		}

		e.metrics.ObserveRetry(e.service, retryClass)
		e.logger.Warn("upstream attempt failed, retrying",
			slog.Int("attempt", i),
			slog.Int("max_attempts", e.policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Bool("rate_limited", ue.RateLimited),
			slog.Any("error", ue.Err))

		if err := e.sleep(ctx, delay); err != nil {
			return last
		}
	}
	return last
}

func (e *Executor) newSchedule(base time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	if base <= 0 {
		base = time.Second
	}
	if multiplier < 1 {
		multiplier = 2
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         5 * time.Minute,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               e.clock,
	}
	b.Reset()
	return b
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := e.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
