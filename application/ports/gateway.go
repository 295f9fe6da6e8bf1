package ports

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"pulsedesk-sync/domain/entities"
)

// Gateway is the pull contract to the backend. Implementations classify
// failures into the pkg/errors taxonomy; the sync layer never inspects
// transport details.
type Gateway interface {
	// Fetch returns the raw entity payload for kind/id. For list kinds the
	// id is the canonical query fingerprint and params carries the query.
	Fetch(ctx context.Context, kind entities.Kind, id string, params url.Values) (json.RawMessage, error)

	// Mutate sends a partial or full new value and returns the
	// authoritative post-mutation payload.
	Mutate(ctx context.Context, kind entities.Kind, id string, payload interface{}) (json.RawMessage, error)
}

// CacheEntry is the unit of durable caching: the raw payload plus the
// moment it was accepted. FetchedAt is stamped exactly once per successful
// write and never adjusted afterwards.
type CacheEntry struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// IsFresh reports whether the entry is younger than threshold at now.
func (e CacheEntry) IsFresh(now time.Time, threshold time.Duration) bool {
	return now.Sub(e.FetchedAt) < threshold
}

// Cache is the durable key-value store backing the sync layer. It is
// advisory only: Read fails soft (corrupt or unreadable entries behave as
// misses) and Write is best-effort, so every caller must function with a
// cache that is absent or externally cleared.
type Cache interface {
	Read(key string) (CacheEntry, bool)
	Write(key string, entry CacheEntry)
	Remove(key string)
}

// QueuedMutation is a write captured for offline replay.
type QueuedMutation struct {
	ID         string          `json:"id"`
	Kind       entities.Kind   `json:"kind"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ReplayQueue durably stores mutations that could not reach the backend.
// Unlike Cache, the queue is a system of record: its operations surface
// errors.
type ReplayQueue interface {
	Enqueue(ctx context.Context, m QueuedMutation) error
	Pending(ctx context.Context, limit int) ([]QueuedMutation, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// PushSubscription is a live interest registration on the push channel.
type PushSubscription interface {
	Unsubscribe()
}

// PushChannel delivers server-originated change notifications, one
// subscription per watched entity. Delivery is at-most-once and unordered
// relative to concurrent pulls.
type PushChannel interface {
	Subscribe(kind entities.Kind, id string) (PushSubscription, error)
	Close() error
}
