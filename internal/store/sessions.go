package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// Crawl session statuses.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionStopped   = "stopped"
	SessionError     = "error"
)

// Session is one crawl invocation's persisted record.
type Session struct {
	ID              int64
	SeedURL         string
	MaxDepth        int
	MaxArticles     int
	ArticlesCrawled int
	Status          string
	StartedAt       int64
	CompletedAt     int64 // zero while running
}

// CreateSession records the start of a crawl and returns its id.
func (s *Store) CreateSession(ctx context.Context, seedURL string, maxDepth, maxArticles int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_sessions (seed_url, max_depth, max_articles, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		seedURL, maxDepth, maxArticles, SessionRunning, time.Now().Unix())
	if err != nil {
		return 0, terrors.Storage("create crawl session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, terrors.Storage("read session id", err)
	}
	return id, nil
}

// UpdateSessionProgress stores the running article counter.
func (s *Store) UpdateSessionProgress(ctx context.Context, id int64, articlesCrawled int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE crawl_sessions SET articles_crawled = ? WHERE id = ?`,
		articlesCrawled, id)
	if err != nil {
		return terrors.Storage(fmt.Sprintf("update session %d", id), err)
	}
	return nil
}

// FinishSession stamps the terminal status and completion time.
func (s *Store) FinishSession(ctx context.Context, id int64, status string, articlesCrawled int) error {
	switch status {
	case SessionCompleted, SessionStopped, SessionError:
	default:
		return terrors.Validation(fmt.Sprintf("invalid terminal session status %q", status))
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE crawl_sessions
		SET status = ?, articles_crawled = ?, completed_at = ?
		WHERE id = ?`,
		status, articlesCrawled, time.Now().Unix(), id)
	if err != nil {
		return terrors.Storage(fmt.Sprintf("finish session %d", id), err)
	}
	return nil
}

// GetSession fetches one session. Returns nil when absent.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seed_url, max_depth, max_articles, articles_crawled,
		       status, started_at, completed_at
		FROM crawl_sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, terrors.Storage("read session", err)
	}
	return sess, nil
}

// RecentSessions lists the latest sessions first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed_url, max_depth, max_articles, articles_crawled,
		       status, started_at, completed_at
		FROM crawl_sessions
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, terrors.Storage("query sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, terrors.Storage("scan session", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var completed sql.NullInt64
	err := row.Scan(&sess.ID, &sess.SeedURL, &sess.MaxDepth, &sess.MaxArticles,
		&sess.ArticlesCrawled, &sess.Status, &sess.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		sess.CompletedAt = completed.Int64
	}
	return &sess, nil
}

// ProfileRecord is a named interest profile persisted alongside the
// corpus, so a crawl can resume with the terms it last ran with.
type ProfileRecord struct {
	Name            string
	Interests       []string
	BoostTerms      []string
	FollowThreshold float64
	UpdatedAt       int64
}

// SaveProfile upserts a named profile snapshot.
func (s *Store) SaveProfile(ctx context.Context, rec *ProfileRecord) error {
	if rec.Name == "" {
		return terrors.Validation("profile name is empty")
	}
	interests, err := jsonText(rec.Interests, "[]")
	if err != nil {
		return err
	}
	boosts, err := jsonText(rec.BoostTerms, "[]")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interest_profiles (name, interests, boost_terms, follow_threshold, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name)
		DO UPDATE SET interests = excluded.interests,
		              boost_terms = excluded.boost_terms,
		              follow_threshold = excluded.follow_threshold,
		              updated_at = excluded.updated_at`,
		rec.Name, interests, boosts, rec.FollowThreshold, time.Now().Unix())
	if err != nil {
		return terrors.Storage(fmt.Sprintf("save profile %q", rec.Name), err)
	}
	return nil
}

// LoadProfile fetches a named profile snapshot. Returns nil when absent.
func (s *Store) LoadProfile(ctx context.Context, name string) (*ProfileRecord, error) {
	var rec ProfileRecord
	var interests, boosts string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, interests, boost_terms, follow_threshold, updated_at
		FROM interest_profiles WHERE name = ?`, name).
		Scan(&rec.Name, &interests, &boosts, &rec.FollowThreshold, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, terrors.Storage(fmt.Sprintf("load profile %q", name), err)
	}

	if err := json.Unmarshal([]byte(interests), &rec.Interests); err != nil {
		return nil, terrors.Storage("decode profile interests", err)
	}
	if err := json.Unmarshal([]byte(boosts), &rec.BoostTerms); err != nil {
		return nil, terrors.Storage("decode profile boost terms", err)
	}
	return &rec, nil
}
