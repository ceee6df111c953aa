// Package store is the persistent knowledge store: articles, link edges,
// chunks, embeddings, crawl sessions, and interest profiles in a single
// SQLite database file.
//
// The store is the only shared mutable state in the system. Every
// committed write bumps a monotonic mutation timestamp and notifies
// registered listeners; the graph cache subscribes to these to schedule
// invalidation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// Store wraps the SQLite database. Safe for concurrent use; SQLite
// writes are serialized through a single connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	flk    *flock.Flock

	mutationTS atomic.Int64

	mu        sync.RWMutex
	listeners []func()
	closed    bool
}

// Open opens (creating if needed) the database at path and acquires an
// advisory lock beside it so two processes never share one store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, terrors.Config("database path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, terrors.Storage(fmt.Sprintf("create database directory for %s", path), err)
	}

	flk := flock.New(path + ".lock")
	held, err := flk.TryLock()
	if err != nil {
		return nil, terrors.Storage(fmt.Sprintf("acquire lock %s", flk.Path()), err)
	}
	if !held {
		return nil, terrors.Storage(fmt.Sprintf("database %s is locked by another process", path), nil)
	}

	// Pragmas ride in the DSN so every pooled connection gets them;
	// a plain Exec would only configure whichever connection ran it.
	dsn := path + "?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = flk.Unlock()
		return nil, terrors.Storage(fmt.Sprintf("open database %s", path), err)
	}

	// Single writer lane: serializes all access through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, flk: flk}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = flk.Unlock()
		return nil, err
	}

	s.mutationTS.Store(s.loadMutationTS())
	logger.Info("store_opened", slog.String("path", path))
	return s, nil
}

// Close releases the database and the advisory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.db.Close()
	if s.flk != nil {
		if uerr := s.flk.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

// MutationTS returns the monotonic mutation timestamp: the logical time
// of the latest committed write to articles or links.
func (s *Store) MutationTS() int64 {
	return s.mutationTS.Load()
}

// OnMutate registers a callback invoked after every committed write.
// Callbacks run on the writer's goroutine and must not call back into
// the store.
func (s *Store) OnMutate(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// bumpMutation advances the mutation timestamp and fires listeners.
func (s *Store) bumpMutation() {
	now := time.Now().Unix()
	for {
		prev := s.mutationTS.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if s.mutationTS.CompareAndSwap(prev, next) {
			break
		}
	}

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// loadMutationTS seeds the timestamp from the latest persisted write so
// cache keys stay meaningful across restarts.
func (s *Store) loadMutationTS() int64 {
	var ts sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MAX(t) FROM (
			SELECT MAX(updated_at) AS t FROM articles
			UNION ALL
			SELECT MAX(created_at) AS t FROM links
		)`).Scan(&ts)
	if err != nil || !ts.Valid {
		return 0
	}
	return ts.Int64
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return terrors.Storage("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return terrors.Storage("commit transaction", err)
	}
	return nil
}

// Stats summarizes the store's contents.
type Stats struct {
	Articles   int64 `json:"articles"`
	Links      int64 `json:"links"`
	Chunks     int64 `json:"chunks"`
	Embeddings int64 `json:"embeddings"`
	Sessions   int64 `json:"sessions"`
}

// Summary returns row counts for the operator-facing stats view.
func (s *Store) Summary(ctx context.Context) (*Stats, error) {
	var st Stats
	queries := []struct {
		dst *int64
		sql string
	}{
		{&st.Articles, "SELECT COUNT(*) FROM articles"},
		{&st.Links, "SELECT COUNT(*) FROM links"},
		{&st.Chunks, "SELECT COUNT(*) FROM article_chunks"},
		{&st.Embeddings, "SELECT COUNT(*) FROM chunk_embeddings"},
		{&st.Sessions, "SELECT COUNT(*) FROM crawl_sessions"},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return nil, terrors.Storage("count rows", err)
		}
	}
	return &st, nil
}
