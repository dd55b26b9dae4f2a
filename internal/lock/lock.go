// Package lock provides best-effort distributed mutual exclusion over NATS
// JetStream KV. Locks reduce wasted work between concurrent workers; they are
// not the correctness mechanism. The store's uniqueness checks must hold on
// their own, so an unreachable lock backend degrades to "always acquire"
// rather than failing the crawl.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket is the JetStream KV bucket holding lock entries.
const Bucket = "crawl-locks"

// bucketTTL is the backstop expiry for abandoned entries. Individual locks
// carry their own (shorter) deadline inside the value.
const bucketTTL = 30 * time.Minute

// Coordinator is the mutual-exclusion primitive the crawl workers use.
type Coordinator interface {
	// TryAcquire attempts an atomic set-if-absent with expiry. It reports
	// whether the caller now holds the lock. Backend unavailability reports
	// true (best-effort degradation).
	TryAcquire(ctx context.Context, key string, ttl time.Duration) bool
	// Release deletes the lock entry. Safe to call unconditionally.
	Release(ctx context.Context, key string)
}

// NodeKey returns the lock key guarding all processing of one node.
func NodeKey(runID, nodeID string) string {
	return sanitize("node." + runID + "." + nodeID)
}

// CompletionKey returns the debounce key guarding duplicate scheduling of a
// completion check at the given horizon.
func CompletionKey(runID, horizon string) string {
	return sanitize("completion." + runID + "." + horizon)
}

// sanitize maps characters NATS KV keys reject onto safe ones.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
}

// entry is the JSON value stored under a lock key.
type entry struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KVCoordinator implements Coordinator over a JetStream KV bucket.
type KVCoordinator struct {
	kv    jetstream.KeyValue
	owner string
}

var _ Coordinator = (*KVCoordinator)(nil)

// New opens (or creates) the lock bucket on the given NATS connection.
// The owner string identifies this process in lock entries, for debugging.
func New(ctx context.Context, nc *nats.Conn, owner string) (*KVCoordinator, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: Bucket,
		TTL:    bucketTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create lock bucket: %w", err)
	}
	return &KVCoordinator{kv: kv, owner: owner}, nil
}

func (c *KVCoordinator) TryAcquire(ctx context.Context, key string, ttl time.Duration) bool {
	val, err := json.Marshal(entry{Owner: c.owner, ExpiresAt: time.Now().UTC().Add(ttl)})
	if err != nil {
		return true
	}

	_, err = c.kv.Create(ctx, key, val)
	if err == nil {
		return true
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		// Backend trouble, not contention. Proceed without the lock;
		// the store's uniqueness checks are the real guard.
		slog.Warn("lock backend unavailable, proceeding unlocked", "key", key, "error", err)
		return true
	}

	// Contended. Steal only if the holder's deadline has passed.
	cur, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			// Holder released between our Create and Get; retry once.
			_, err = c.kv.Create(ctx, key, val)
			return err == nil
		}
		slog.Warn("lock backend unavailable, proceeding unlocked", "key", key, "error", err)
		return true
	}

	var held entry
	if err := json.Unmarshal(cur.Value(), &held); err == nil && time.Now().UTC().Before(held.ExpiresAt) {
		return false
	}

	// Stale entry: replace it with a revision CAS so two stealers cannot
	// both win.
	_, err = c.kv.Update(ctx, key, val, cur.Revision())
	return err == nil
}

func (c *KVCoordinator) Release(ctx context.Context, key string) {
	if err := c.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		slog.Warn("failed to release lock", "key", key, "error", err)
	}
}

// Noop is a Coordinator that always grants. Used when no NATS URL is
// configured; correctness then rests entirely on the store.
type Noop struct{}

var _ Coordinator = Noop{}

func (Noop) TryAcquire(context.Context, string, time.Duration) bool { return true }
func (Noop) Release(context.Context, string)                        {}
