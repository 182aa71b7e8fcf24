package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	entry := Entry{Payload: json.RawMessage(`{"ok":true}`), StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(time.Minute)

	if err := store.Store(ctx, "evo2:genomes", entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := store.Lookup(ctx, "evo2:genomes")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if string(got.Payload) != `{"ok":true}` {
		t.Fatalf("unexpected payload: %s", got.Payload)
	}

	// A second read without an intervening write returns the identical value.
	again, ok, err := store.Lookup(ctx, "evo2:genomes")
	if err != nil || !ok {
		t.Fatalf("second lookup: ok=%v err=%v", ok, err)
	}
	if string(again.Payload) != string(got.Payload) {
		t.Fatalf("lookup not idempotent: %s vs %s", again.Payload, got.Payload)
	}

	size, err := store.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}

	if err := store.DeletePrefix(ctx, "evo2:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	_, ok, err = store.Lookup(ctx, "evo2:genomes")
	if err != nil {
		t.Fatalf("lookup after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected delete to remove key")
	}

	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	entry := Entry{Payload: json.RawMessage(`1`), StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(10 * time.Millisecond)
	if err := store.Store(ctx, "evo2:sequence:chr1", entry); err != nil {
		t.Fatalf("store: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	_, ok, err := store.Lookup(ctx, "evo2:sequence:chr1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestEntryValidityWindow(t *testing.T) {
	storedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 30 * time.Minute
	entry := Entry{StoredAt: storedAt, ExpiresAt: storedAt.Add(ttl)}

	if !entry.Valid(storedAt.Add(ttl - time.Millisecond)) {
		t.Fatalf("entry should be fresh just inside the window")
	}
	if entry.Valid(storedAt.Add(ttl + time.Millisecond)) {
		t.Fatalf("entry should be stale just outside the window")
	}
}

func TestRedisStoreLookup(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	ctx := context.Background()
	entry := Entry{Payload: json.RawMessage(`{"dna":"ACGT"}`), StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(500 * time.Millisecond)

	if err := store.Store(ctx, "evo2:sequence:chr17", entry); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := store.Lookup(ctx, "evo2:sequence:chr17")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected redis cache hit")
	}
	if string(got.Payload) != `{"dna":"ACGT"}` {
		t.Fatalf("unexpected payload: %s", got.Payload)
	}

	server.FastForward(time.Second)
	_, ok, err = store.Lookup(ctx, "evo2:sequence:chr17")
	if err != nil {
		t.Fatalf("lookup after ttl: %v", err)
	}
	if ok {
		t.Fatalf("expected redis entry to expire")
	}

	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRedisStoreDeletePrefix(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewRedis(RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()
	for _, key := range []string{"evo2:genomes", "evo2:chromosomes:hg38", "other:key"} {
		entry := Entry{Payload: json.RawMessage(`1`), StoredAt: now, ExpiresAt: now.Add(time.Minute)}
		if err := store.Store(ctx, key, entry); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}

	if err := store.DeletePrefix(ctx, "evo2:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	for _, key := range []string{"evo2:genomes", "evo2:chromosomes:hg38"} {
		if _, ok, _ := store.Lookup(ctx, key); ok {
			t.Fatalf("expected %s to be deleted", key)
		}
	}
	if _, ok, _ := store.Lookup(ctx, "other:key"); !ok {
		t.Fatalf("expected unrelated key to survive")
	}
}

func TestKeyDeterminism(t *testing.T) {
	a := Key("sequence", "chr17", "43119628-43119628", "hg38")
	b := Key("sequence", "chr17", "43119628-43119628", "hg38")
	if a != b {
		t.Fatalf("same parameters must map to the same key: %s vs %s", a, b)
	}
	if a != "evo2:sequence:chr17:43119628-43119628:hg38" {
		t.Fatalf("unexpected key shape: %s", a)
	}
	if Key("sequence", "chr17", "1-2", "hg19") == a {
		t.Fatalf("different parameters must not collide")
	}
}
