package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shivazshu/evo2-vep/internal/metrics"
)

// Tiered composes the fast in-process tier with an optional durable tier.
// Lookups try fast first, then durable with promotion on hit; stores write
// through to both. Durable-tier failures are absorbed: they degrade to a miss
// or a skipped write, never to a caller-visible error.
type Tiered struct {
	fast    Store
	durable Store
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewTiered wires the two tiers together. durable may be nil when the service
// runs with the memory backend only.
func NewTiered(fast, durable Store, logger *slog.Logger, rec *metrics.Recorder) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{fast: fast, durable: durable, logger: logger, metrics: rec}
}

// Get unmarshals the cached payload for key into out, reporting whether a
// fresh entry was found.
func (t *Tiered) Get(ctx context.Context, key string, out any) bool {
	entry, ok, err := t.fast.Lookup(ctx, key)
	if err != nil {
		t.logger.Warn("fast tier lookup failed", slog.String("key", key), slog.Any("error", err))
		t.metrics.ObserveCacheLookup("memory", metrics.CacheLookupError)
	}
	if ok {
		t.metrics.ObserveCacheLookup("memory", metrics.CacheLookupHit)
		return decodePayload(t.logger, key, entry, out)
	}
	t.metrics.ObserveCacheLookup("memory", metrics.CacheLookupMiss)

	if t.durable == nil {
		return false
	}
	entry, ok, err = t.durable.Lookup(ctx, key)
	if err != nil {
		// A broken durable tier must read as a miss; the request proceeds to
		// the network instead of failing.
		t.logger.Warn("durable tier lookup failed", slog.String("key", key), slog.Any("error", err))
		t.metrics.ObserveCacheLookup("redis", metrics.CacheLookupError)
		return false
	}
	if !ok {
		t.metrics.ObserveCacheLookup("redis", metrics.CacheLookupMiss)
		return false
	}
	t.metrics.ObserveCacheLookup("redis", metrics.CacheLookupHit)
	if err := t.fast.Store(ctx, key, entry); err != nil {
		t.logger.Warn("fast tier promotion failed", slog.String("key", key), slog.Any("error", err))
	}
	return decodePayload(t.logger, key, entry, out)
}

// Set writes value through both tiers with the given freshness window.
func (t *Tiered) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("cache marshal failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	now := time.Now().UTC()
	entry := Entry{Payload: payload, StoredAt: now, ExpiresAt: now.Add(ttl)}

	err = t.fast.Store(ctx, key, entry)
	t.metrics.ObserveCacheStore("memory", err)
	if err != nil {
		t.logger.Warn("fast tier store failed", slog.String("key", key), slog.Any("error", err))
	}
	if t.durable == nil {
		return
	}
	err = t.durable.Store(ctx, key, entry)
	t.metrics.ObserveCacheStore("redis", err)
	if err != nil {
		t.logger.Warn("durable tier store failed", slog.String("key", key), slog.Any("error", err))
	}
}

// ClearAll drops every namespaced entry from both tiers.
func (t *Tiered) ClearAll(ctx context.Context) error {
	prefix := Namespace + ":"
	if err := t.fast.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("cache: clear fast tier: %w", err)
	}
	if t.durable != nil {
		if err := t.durable.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("cache: clear durable tier: %w", err)
		}
	}
	return nil
}

// ClearPrefix drops the namespaced entries under one category prefix from
// both tiers. A trailing * wildcard from the admin surface is tolerated.
func (t *Tiered) ClearPrefix(ctx context.Context, pattern string) error {
	prefix := Namespace + ":" + strings.TrimSuffix(pattern, "*")
	if err := t.fast.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("cache: clear fast tier: %w", err)
	}
	if t.durable != nil {
		if err := t.durable.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("cache: clear durable tier: %w", err)
		}
	}
	return nil
}

// ConnectionInfo reports which backends are wired and whether the durable
// tier currently answers.
func (t *Tiered) ConnectionInfo(ctx context.Context) map[string]any {
	info := map[string]any{"backend": "memory", "connected": true}
	if t.durable == nil {
		return info
	}
	info["backend"] = "redis"
	if _, err := t.durable.Size(ctx); err != nil {
		info["connected"] = false
		info["error"] = err.Error()
	}
	return info
}

// Stats reports entry counts per tier for the admin surface.
func (t *Tiered) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{"backend": "memory"}
	if size, err := t.fast.Size(ctx); err == nil {
		stats["memory_entries"] = size
	}
	if t.durable != nil {
		stats["backend"] = "redis"
		if size, err := t.durable.Size(ctx); err == nil {
			stats["redis_entries"] = size
		} else {
			stats["redis_error"] = err.Error()
		}
	}
	return stats
}

// Close releases both tiers.
func (t *Tiered) Close(ctx context.Context) error {
	if err := t.fast.Close(ctx); err != nil {
		return err
	}
	if t.durable != nil {
		return t.durable.Close(ctx)
	}
	return nil
}

func decodePayload(logger *slog.Logger, key string, entry Entry, out any) bool {
	if out == nil {
		return true
	}
	if err := json.Unmarshal(entry.Payload, out); err != nil {
		logger.Warn("cache payload decode failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}
