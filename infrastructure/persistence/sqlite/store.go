// Package sqlite provides the durable side of the sync layer: the
// advisory TTL cache and the offline replay queue, sharing one
// WAL-mode SQLite database so state survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS replay_queue (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	payload     TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	enqueued_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replay_enqueued ON replay_queue(enqueued_at);
`

// Store implements ports.Cache and ports.ReplayQueue on one database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ ports.Cache       = (*Store)(nil)
	_ ports.ReplayQueue = (*Store)(nil)
)

// Open creates or opens the database at path. ":memory:" is accepted for
// tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating cache directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// One writer at a time; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- ports.Cache ---

// Read returns the entry for key. It fails soft: any read or decode
// problem behaves as a miss, and a corrupt row is discarded on the spot.
func (s *Store) Read(key string) (ports.CacheEntry, bool) {
	var (
		data      []byte
		fetchedAt int64
	)
	err := s.db.QueryRow(
		"SELECT data, fetched_at FROM cache_entries WHERE key = ?", key,
	).Scan(&data, &fetchedAt)
	if err == sql.ErrNoRows {
		return ports.CacheEntry{}, false
	}
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return ports.CacheEntry{}, false
	}

	if !json.Valid(data) {
		s.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
		s.Remove(key)
		return ports.CacheEntry{}, false
	}

	return ports.CacheEntry{
		Data:      json.RawMessage(data),
		FetchedAt: time.UnixMilli(fetchedAt),
	}, true
}

// Write stores an entry best-effort. The cache is an optimization, not a
// system of record: failures are logged and swallowed.
func (s *Store) Write(key string, entry ports.CacheEntry) {
	_, err := s.db.Exec(
		"INSERT INTO cache_entries (key, data, fetched_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET data = excluded.data, fetched_at = excluded.fetched_at",
		key, []byte(entry.Data), entry.FetchedAt.UnixMilli(),
	)
	if err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes an entry; removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		s.logger.Warn("cache remove failed", zap.String("key", key), zap.Error(err))
	}
}

// --- ports.ReplayQueue ---

// Enqueue durably records a mutation for later delivery.
func (s *Store) Enqueue(ctx context.Context, m ports.QueuedMutation) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO replay_queue (id, kind, entity_id, payload, attempts, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, string(m.Kind), m.EntityID, []byte(m.Payload), m.Attempts, m.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueueing mutation %s: %w", m.ID, err)
	}
	return nil
}

// Pending returns queued mutations oldest-first, up to limit.
func (s *Store) Pending(ctx context.Context, limit int) ([]ports.QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, entity_id, payload, attempts, enqueued_at FROM replay_queue ORDER BY enqueued_at ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading replay queue: %w", err)
	}
	defer rows.Close()

	var out []ports.QueuedMutation
	for rows.Next() {
		var (
			m          ports.QueuedMutation
			kind       string
			payload    []byte
			enqueuedAt int64
		)
		if err := rows.Scan(&m.ID, &kind, &m.EntityID, &payload, &m.Attempts, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scanning replay row: %w", err)
		}
		m.Kind = entities.Kind(kind)
		m.Payload = json.RawMessage(payload)
		m.EnqueuedAt = time.UnixMilli(enqueuedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDone removes a delivered (or abandoned) mutation.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM replay_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("removing replayed mutation %s: %w", id, err)
	}
	return nil
}

// MarkFailed counts one failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE replay_queue SET attempts = attempts + 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("recording failed attempt for %s: %w", id, err)
	}
	return nil
}
