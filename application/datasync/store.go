package datasync

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsedesk-sync/domain/entities"
)

// Update is the consumer-facing view of one entity slot. A slot may carry
// data and be loading at the same time (stale-while-revalidate), and an
// error never clears previously known-good data.
type Update struct {
	Kind      entities.Kind
	ID        string
	Value     entities.Entity // nil until the first successful fetch or optimistic write
	FetchedAt time.Time
	Loading   bool
	Err       error
}

// Snapshot captures a slot for optimistic rollback. Restoring a snapshot
// is a verbatim value replacement, never a diff or merge.
type Snapshot struct {
	Value     entities.Entity
	FetchedAt time.Time
	Exists    bool
}

type record struct {
	value     entities.Entity
	fetchedAt time.Time
	hasValue  bool
	loading   bool
	err       error
}

// Store is the in-memory holder of the current known value per entity,
// independent of how the value was last obtained. It never performs I/O
// and never fails; it only records state reported by the fetch and
// mutation paths.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*record
	watchers map[string]map[string]chan Update
	logger   *zap.Logger
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		records:  make(map[string]*record),
		watchers: make(map[string]map[string]chan Update),
		logger:   logger,
	}
}

// Get returns the current value and its fetch timestamp. It is always
// synchronous and never triggers a fetch.
func (s *Store) Get(kind entities.Kind, id string) (entities.Entity, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[Key(kind, id)]
	if !ok || !rec.hasValue {
		return nil, time.Time{}, false
	}
	return rec.value, rec.fetchedAt, true
}

// Status returns the loading flag and error slot for an entity,
// independent of data presence.
func (s *Store) Status(kind entities.Kind, id string) (loading bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[Key(kind, id)]
	if !ok {
		return false, nil
	}
	return rec.loading, rec.err
}

// Snapshot captures the current slot for later rollback.
func (s *Store) Snapshot(kind entities.Kind, id string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[Key(kind, id)]
	if !ok || !rec.hasValue {
		return Snapshot{}
	}
	return Snapshot{Value: rec.value, FetchedAt: rec.fetchedAt, Exists: true}
}

// Set replaces the entity, stamps it with fetchedAt and clears the error
// slot. Every watcher of the id observes the new value.
func (s *Store) Set(kind entities.Kind, id string, value entities.Entity, fetchedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(kind, id)
	rec.value = value
	rec.fetchedAt = fetchedAt
	rec.hasValue = true
	rec.err = nil
	s.notify(kind, id, rec)
}

// Restore puts a slot back to a previously captured snapshot, keeping the
// snapshot's original fetch timestamp.
func (s *Store) Restore(kind entities.Kind, id string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !snap.Exists {
		key := Key(kind, id)
		if rec, ok := s.records[key]; ok {
			rec.value = nil
			rec.hasValue = false
			rec.fetchedAt = time.Time{}
			s.notify(kind, id, rec)
		}
		return
	}

	rec := s.record(kind, id)
	rec.value = snap.Value
	rec.fetchedAt = snap.FetchedAt
	rec.hasValue = true
	s.notify(kind, id, rec)
}

// SetLoading flips the loading flag without touching data.
func (s *Store) SetLoading(kind entities.Kind, id string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(kind, id)
	rec.loading = loading
	s.notify(kind, id, rec)
}

// SetError records a fetch failure. Previously known-good data stays in
// place; pass nil to clear the slot.
func (s *Store) SetError(kind entities.Kind, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(kind, id)
	rec.err = err
	s.notify(kind, id, rec)
}

// Remove drops a slot entirely (explicit cache-key removal, e.g.
// interaction list eviction).
func (s *Store) Remove(kind entities.Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(kind, id)
	if rec, ok := s.records[key]; ok {
		rec.value = nil
		rec.hasValue = false
		rec.fetchedAt = time.Time{}
		rec.err = nil
		s.notify(kind, id, rec)
		delete(s.records, key)
	}
}

// Watch registers a consumer for an id. The returned channel is buffered;
// a slow consumer loses intermediate updates, never blocks the store.
func (s *Store) Watch(kind entities.Kind, id string) (string, <-chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(kind, id)
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[string]chan Update)
	}
	watcherID := uuid.New().String()
	ch := make(chan Update, 16)
	s.watchers[key][watcherID] = ch

	// Replay current state so new watchers do not start blank.
	if rec, ok := s.records[key]; ok {
		ch <- s.update(kind, id, rec)
	}
	return watcherID, ch
}

// Unwatch removes a watcher and closes its channel.
func (s *Store) Unwatch(kind entities.Kind, id string, watcherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(kind, id)
	if ch, ok := s.watchers[key][watcherID]; ok {
		delete(s.watchers[key], watcherID)
		close(ch)
		if len(s.watchers[key]) == 0 {
			delete(s.watchers, key)
		}
	}
}

func (s *Store) record(kind entities.Kind, id string) *record {
	key := Key(kind, id)
	rec, ok := s.records[key]
	if !ok {
		rec = &record{}
		s.records[key] = rec
	}
	return rec
}

func (s *Store) update(kind entities.Kind, id string, rec *record) Update {
	u := Update{Kind: kind, ID: id, Loading: rec.loading, Err: rec.err}
	if rec.hasValue {
		u.Value = rec.value
		u.FetchedAt = rec.fetchedAt
	}
	return u
}

// notify fans the current state out to watchers. Callers hold s.mu.
func (s *Store) notify(kind entities.Kind, id string, rec *record) {
	key := Key(kind, id)
	for watcherID, ch := range s.watchers[key] {
		select {
		case ch <- s.update(kind, id, rec):
		default:
			if s.logger != nil {
				s.logger.Debug("dropping update for slow watcher",
					zap.String("key", key),
					zap.String("watcherID", watcherID),
				)
			}
		}
	}
}

// Key builds the canonical slot key for an entity.
func Key(kind entities.Kind, id string) string {
	return string(kind) + "/" + id
}
