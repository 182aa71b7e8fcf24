package genome

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shivazshu/evo2-vep/internal/cache"
	"github.com/shivazshu/evo2-vep/internal/metrics"
	"github.com/shivazshu/evo2-vep/internal/upstream"
)

// pipeline is the shared plumbing behind every gateway operation: consult the
// tiered cache, otherwise submit one network operation to the service's queue
// and cache the result on success.
type pipeline struct {
	service string
	cache   *cache.Tiered
	queue   *upstream.Queue
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// fetch runs one cached, queued, retried operation. The fallback closure is
// consulted only when the terminal failure is transient-class; fallback data
// is served directly and never written to the cache, so a later successful
// fetch is not shadowed by it. A nil fallback means the category has no
// substitute dataset and the terminal error propagates.
func fetch[T any](ctx context.Context, p *pipeline, key string, ttl time.Duration, tag upstream.Tag, call func(context.Context) (T, error), fallback func() (T, bool)) (T, error) {
	var cached T
	if p.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	start := time.Now()
	var result T
	done, err := p.queue.Submit(tag, func(opCtx context.Context) error {
		v, err := call(opCtx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		// The operation keeps running on the queue's own context; only this
		// caller gives up on the result.
		var zero T
		return zero, ctx.Err()
	}

	if err == nil {
		p.metrics.ObserveUpstream(p.service, tag.Category, "success", time.Since(start))
		p.cache.Set(ctx, key, result, ttl)
		return result, nil
	}

	var zero T
	if !upstream.IsTransient(err) {
		p.metrics.ObserveUpstream(p.service, tag.Category, "fatal", time.Since(start))
		return zero, err
	}
	if fallback != nil {
		if v, ok := fallback(); ok {
			p.metrics.ObserveUpstream(p.service, tag.Category, "fallback", time.Since(start))
			p.logger.Warn("serving fallback data after upstream failure",
				slog.String("category", tag.Category), slog.Any("error", err))
			return v, nil
		}
	}
	p.metrics.ObserveUpstream(p.service, tag.Category, "unavailable", time.Since(start))
	return zero, errors.Join(upstream.ErrUnavailable, err)
}
