package datasync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

// fakeGateway scripts backend responses and records call counts.
type fakeGateway struct {
	mu          sync.Mutex
	fetchCalls  int
	mutateCalls int
	fetch       func(kind entities.Kind, id string, params url.Values) (json.RawMessage, error)
	mutate      func(kind entities.Kind, id string, payload interface{}) (json.RawMessage, error)
}

func (g *fakeGateway) Fetch(_ context.Context, kind entities.Kind, id string, params url.Values) (json.RawMessage, error) {
	g.mu.Lock()
	g.fetchCalls++
	fn := g.fetch
	g.mu.Unlock()
	if fn == nil {
		return nil, pkgerrors.NewInternalError("no fetch scripted")
	}
	return fn(kind, id, params)
}

func (g *fakeGateway) Mutate(_ context.Context, kind entities.Kind, id string, payload interface{}) (json.RawMessage, error) {
	g.mu.Lock()
	g.mutateCalls++
	fn := g.mutate
	g.mu.Unlock()
	if fn == nil {
		return nil, pkgerrors.NewInternalError("no mutate scripted")
	}
	return fn(kind, id, payload)
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchCalls
}

func (g *fakeGateway) mutateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mutateCalls
}

func (g *fakeGateway) setFetch(fn func(kind entities.Kind, id string, params url.Values) (json.RawMessage, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetch = fn
}

// memCache is an in-memory ports.Cache that tracks removals.
type memCache struct {
	mu      sync.Mutex
	entries map[string]ports.CacheEntry
	removed []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]ports.CacheEntry)}
}

func (m *memCache) Read(key string) (ports.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

func (m *memCache) Write(key string, entry ports.CacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
}

func (m *memCache) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	m.removed = append(m.removed, key)
}

func (m *memCache) removedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.removed...)
}

// memQueue is an in-memory ports.ReplayQueue.
type memQueue struct {
	mu    sync.Mutex
	items map[string]ports.QueuedMutation
	order []string
}

func newMemQueue() *memQueue {
	return &memQueue{items: make(map[string]ports.QueuedMutation)}
}

func (q *memQueue) Enqueue(_ context.Context, m ports.QueuedMutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[m.ID]; !ok {
		q.order = append(q.order, m.ID)
	}
	q.items[m.ID] = m
	return nil
}

func (q *memQueue) Pending(_ context.Context, limit int) ([]ports.QueuedMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ports.QueuedMutation, 0, limit)
	for _, id := range q.order {
		if m, ok := q.items[id]; ok {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (q *memQueue) MarkDone(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m, ok := q.items[id]; ok {
		m.Attempts++
		q.items[id] = m
	}
	return nil
}

func (q *memQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// instantSleep returns immediately so retry schedules run without timers.
func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// --- fixture payloads ---

func customerJSON(id, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"name":%q,"tier":"growth","status":"active","arr":120000}`, id, name))
}

func healthScoreJSON(customerID string, score int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":"hs-%s","customer_id":%q,"score":%d,"trend":"steady"}`, customerID, customerID, score))
}

func riskAssessmentJSON(id, customerID string, score int, level string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"customer_id":%q,"score":%d,"level":%q}`, id, customerID, score, level))
}

func interactionJSON(id, customerID string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"customer_id":%q,"channel":"call","summary":"quarterly review"}`, id, customerID))
}

func interactionListJSON(customerID string, ids ...string) json.RawMessage {
	items := ""
	for i, id := range ids {
		if i > 0 {
			items += ","
		}
		items += string(interactionJSON(id, customerID))
	}
	return json.RawMessage(fmt.Sprintf(`{"customer_id":%q,"items":[%s]}`, customerID, items))
}
