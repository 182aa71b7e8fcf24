package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one timestamped, TTL-tagged cached payload. The payload stays as
// raw JSON so both tiers share a single wire representation.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Valid reports whether the entry is still fresh at the given instant.
func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store is the contract each cache tier satisfies. Expired entries behave as
// absent on Lookup.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
