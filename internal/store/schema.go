package store

import "github.com/tessera-kg/tessera/internal/terrors"

// migrate applies the schema. All statements are idempotent.
func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return terrors.Storage("apply schema", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS articles (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		title       TEXT NOT NULL,
		url         TEXT NOT NULL,
		summary     TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		categories  TEXT NOT NULL DEFAULT '[]',
		sections    TEXT NOT NULL DEFAULT '[]',
		infobox     TEXT NOT NULL DEFAULT '{}',
		images      TEXT NOT NULL DEFAULT '[]',
		coordinates TEXT,
		fetched_at  INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_title ON articles(title)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_fetched ON articles(fetched_at)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_created ON articles(created_at)`,

	`CREATE TABLE IF NOT EXISTS links (
		from_article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		to_article_id   INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		anchor_text     TEXT NOT NULL DEFAULT '',
		relevance_score REAL NOT NULL,
		created_at      INTEGER NOT NULL,
		PRIMARY KEY (from_article_id, to_article_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_article_id, relevance_score)`,
	`CREATE INDEX IF NOT EXISTS idx_links_from ON links(from_article_id, relevance_score)`,

	`CREATE TABLE IF NOT EXISTS article_chunks (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		article_id      INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		chunk_type      TEXT NOT NULL,
		section_name    TEXT NOT NULL DEFAULT '',
		content         TEXT NOT NULL,
		char_count      INTEGER NOT NULL,
		token_count     INTEGER NOT NULL,
		content_hash    TEXT NOT NULL,
		position        INTEGER NOT NULL,
		needs_embedding INTEGER NOT NULL DEFAULT 1,
		created_at      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_article ON article_chunks(article_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_pending ON article_chunks(needs_embedding, id)`,

	`CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id   INTEGER NOT NULL REFERENCES article_chunks(id) ON DELETE CASCADE,
		model_name TEXT NOT NULL,
		dim        INTEGER NOT NULL,
		vector     BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (chunk_id, model_name)
	)`,

	`CREATE TABLE IF NOT EXISTS crawl_sessions (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		seed_url         TEXT NOT NULL,
		max_depth        INTEGER NOT NULL,
		max_articles     INTEGER NOT NULL,
		articles_crawled INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		started_at       INTEGER NOT NULL,
		completed_at     INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS interest_profiles (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		name             TEXT NOT NULL UNIQUE,
		interests        TEXT NOT NULL DEFAULT '[]',
		boost_terms      TEXT NOT NULL DEFAULT '[]',
		follow_threshold REAL NOT NULL DEFAULT 0.3,
		updated_at       INTEGER NOT NULL
	)`,

	// Full-text index over chunk content for the keyword fallback path.
	`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content='article_chunks',
		content_rowid='id',
		tokenize='porter unicode61'
	)`,
	`CREATE TRIGGER IF NOT EXISTS chunks_fts_insert AFTER INSERT ON article_chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS chunks_fts_delete AFTER DELETE ON article_chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
}
