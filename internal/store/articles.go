package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera-kg/tessera/internal/chunk"
	"github.com/tessera-kg/tessera/internal/terrors"
	"github.com/tessera-kg/tessera/internal/wiki"
)

// Article is the persisted form of one page.
type Article struct {
	ID          int64
	Title       string
	URL         string
	Summary     string
	Content     string
	Categories  []string
	Sections    []wiki.Section
	Infobox     map[string]string
	Images      []string
	Coordinates *wiki.Coordinates
	FetchedAt   int64
	CreatedAt   int64
	UpdatedAt   int64
}

// Link is one directed edge between stored articles.
type Link struct {
	FromID    int64
	ToID      int64
	FromTitle string
	ToTitle   string
	Anchor    string
	Score     float64
	CreatedAt int64
}

// SearchResult is one row of a keyword article search.
type SearchResult struct {
	ID      int64
	Title   string
	URL     string
	Summary string
}

// FromParsed converts a parsed article into its persisted form.
func FromParsed(art *wiki.Article) *Article {
	return &Article{
		Title:       art.Title,
		URL:         art.URL,
		Summary:     art.Summary,
		Content:     art.Content,
		Categories:  art.Categories,
		Sections:    art.Sections,
		Infobox:     art.Infobox,
		Images:      art.Images,
		Coordinates: art.Coordinates,
		FetchedAt:   art.FetchedAt,
	}
}

// UpsertArticle inserts the article or, when the title exists, replaces
// all scalar fields and advances updated_at while keeping the id. When
// chunks is non-nil the article's chunks are replaced in the same
// transaction. Returns the article id.
func (s *Store) UpsertArticle(ctx context.Context, art *Article, chunks []chunk.Chunk) (int64, error) {
	return s.upsertArticle(ctx, art, chunks, 0, "", 0)
}

// UpsertArticleWithLink stores the article (and chunks) and records the
// inbound edge from parentID, all in one transaction with one mutation
// timestamp bump. Readers keyed on the timestamp see the article and
// the edge that discovered it together, or neither.
func (s *Store) UpsertArticleWithLink(ctx context.Context, art *Article, chunks []chunk.Chunk, parentID int64, anchor string, score float64) (int64, error) {
	if parentID <= 0 {
		return 0, terrors.Validation("link parent id must be positive")
	}
	if score < 0 || score > 1 {
		return 0, terrors.Validation(fmt.Sprintf("relevance score %v outside [0,1]", score))
	}
	return s.upsertArticle(ctx, art, chunks, parentID, anchor, score)
}

func (s *Store) upsertArticle(ctx context.Context, art *Article, chunks []chunk.Chunk, parentID int64, anchor string, score float64) (int64, error) {
	if art.Title == "" {
		return 0, terrors.Validation("article title is empty")
	}

	cats, err := jsonText(art.Categories, "[]")
	if err != nil {
		return 0, err
	}
	secs, err := jsonText(art.Sections, "[]")
	if err != nil {
		return 0, err
	}
	info, err := jsonText(art.Infobox, "{}")
	if err != nil {
		return 0, err
	}
	imgs, err := jsonText(art.Images, "[]")
	if err != nil {
		return 0, err
	}
	var coords sql.NullString
	if art.Coordinates != nil {
		raw, err := json.Marshal(art.Coordinates)
		if err != nil {
			return 0, terrors.Storage("encode coordinates", err)
		}
		coords = sql.NullString{String: string(raw), Valid: true}
	}

	now := time.Now().Unix()
	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var createdAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM articles WHERE title = ?`, art.Title).
			Scan(&id, &createdAt)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.ExecContext(ctx, `
				INSERT INTO articles
					(title, url, summary, content, categories, sections,
					 infobox, images, coordinates, fetched_at, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				art.Title, art.URL, art.Summary, art.Content, cats, secs,
				info, imgs, coords, art.FetchedAt, now, now)
			if err != nil {
				return terrors.Storage(fmt.Sprintf("insert article %q", art.Title), err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return terrors.Storage("read inserted article id", err)
			}
		case err != nil:
			return terrors.Storage(fmt.Sprintf("look up article %q", art.Title), err)
		default:
			updatedAt := now
			if updatedAt < createdAt {
				updatedAt = createdAt
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE articles SET
					url = ?, summary = ?, content = ?, categories = ?,
					sections = ?, infobox = ?, images = ?, coordinates = ?,
					fetched_at = ?, updated_at = ?
				WHERE id = ?`,
				art.URL, art.Summary, art.Content, cats,
				secs, info, imgs, coords,
				art.FetchedAt, updatedAt, id); err != nil {
				return terrors.Storage(fmt.Sprintf("update article %q", art.Title), err)
			}
		}

		if chunks != nil {
			if err := replaceChunksTx(ctx, tx, id, chunks); err != nil {
				return err
			}
		}
		// A seed that links back to itself resolves to the same id;
		// self-loops are never stored.
		if parentID != 0 && parentID != id {
			if err := insertLink(ctx, tx, parentID, id, anchor, score, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	art.ID = id
	s.bumpMutation()
	s.logger.Debug("article_upserted",
		slog.Int64("article_id", id),
		slog.String("title", art.Title),
		slog.Int("chunks", len(chunks)))
	return id, nil
}

// UpsertLink records a directed edge, replacing anchor and score on
// conflict. Self-loops are rejected; scores live in [0,1].
func (s *Store) UpsertLink(ctx context.Context, fromID, toID int64, anchor string, score float64) error {
	if fromID == toID {
		return terrors.Validation("link endpoints are the same article")
	}
	if score < 0 || score > 1 {
		return terrors.Validation(fmt.Sprintf("relevance score %v outside [0,1]", score))
	}

	if err := insertLink(ctx, s.db, fromID, toID, anchor, score, time.Now().Unix()); err != nil {
		return err
	}

	s.bumpMutation()
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertLink(ctx context.Context, db execer, fromID, toID int64, anchor string, score float64, now int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO links (from_article_id, to_article_id, anchor_text, relevance_score, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (from_article_id, to_article_id)
		DO UPDATE SET anchor_text = excluded.anchor_text,
		              relevance_score = excluded.relevance_score`,
		fromID, toID, anchor, score, now)
	if err != nil {
		return terrors.Storage(fmt.Sprintf("upsert link %d -> %d", fromID, toID), err)
	}
	return nil
}

// GetArticle fetches by id. Returns nil when absent.
func (s *Store) GetArticle(ctx context.Context, id int64) (*Article, error) {
	return s.getArticle(ctx, `WHERE id = ?`, id)
}

// GetArticleByTitle fetches by exact title. Returns nil when absent.
func (s *Store) GetArticleByTitle(ctx context.Context, title string) (*Article, error) {
	return s.getArticle(ctx, `WHERE title = ?`, title)
}

const articleColumns = `id, title, url, summary, content, categories,
	sections, infobox, images, coordinates, fetched_at, created_at, updated_at`

func (s *Store) getArticle(ctx context.Context, where string, arg any) (*Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles `+where, arg)

	art, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, terrors.Storage("read article", err)
	}
	return art, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var cats, secs, info, imgs string
	var coords sql.NullString
	err := row.Scan(&a.ID, &a.Title, &a.URL, &a.Summary, &a.Content,
		&cats, &secs, &info, &imgs, &coords,
		&a.FetchedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(cats), &a.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal([]byte(secs), &a.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	if err := json.Unmarshal([]byte(info), &a.Infobox); err != nil {
		return nil, fmt.Errorf("decode infobox: %w", err)
	}
	if err := json.Unmarshal([]byte(imgs), &a.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	if coords.Valid {
		var c wiki.Coordinates
		if err := json.Unmarshal([]byte(coords.String), &c); err != nil {
			return nil, fmt.Errorf("decode coordinates: %w", err)
		}
		a.Coordinates = &c
	}
	return &a, nil
}

// ArticleMeta is the slice of an article the graph builder needs;
// content and chunks stay on disk.
type ArticleMeta struct {
	ID          int64
	Title       string
	URL         string
	Categories  []string
	Coordinates *wiki.Coordinates
}

// AllArticleMetas lists metadata for every stored article.
func (s *Store) AllArticleMetas(ctx context.Context) ([]ArticleMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, url, categories, coordinates FROM articles ORDER BY id ASC`)
	if err != nil {
		return nil, terrors.Storage("query article metas", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArticleMeta
	for rows.Next() {
		m, err := scanArticleMeta(rows)
		if err != nil {
			return nil, terrors.Storage("scan article meta", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ArticleMetaByID fetches one article's metadata. Returns nil when absent.
func (s *Store) ArticleMetaByID(ctx context.Context, id int64) (*ArticleMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, url, categories, coordinates FROM articles WHERE id = ?`, id)
	m, err := scanArticleMeta(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, terrors.Storage("read article meta", err)
	}
	return m, nil
}

func scanArticleMeta(row rowScanner) (*ArticleMeta, error) {
	var m ArticleMeta
	var cats string
	var coords sql.NullString
	if err := row.Scan(&m.ID, &m.Title, &m.URL, &cats, &coords); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cats), &m.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if coords.Valid {
		var c wiki.Coordinates
		if err := json.Unmarshal([]byte(coords.String), &c); err != nil {
			return nil, fmt.Errorf("decode coordinates: %w", err)
		}
		m.Coordinates = &c
	}
	return &m, nil
}

// OutboundLinks returns edges leaving an article with score >= minScore,
// ordered by score descending.
func (s *Store) OutboundLinks(ctx context.Context, id int64, minScore float64) ([]Link, error) {
	return s.queryLinks(ctx, `
		SELECT l.from_article_id, l.to_article_id, f.title, t.title,
		       l.anchor_text, l.relevance_score, l.created_at
		FROM links l
		JOIN articles f ON f.id = l.from_article_id
		JOIN articles t ON t.id = l.to_article_id
		WHERE l.from_article_id = ? AND l.relevance_score >= ?
		ORDER BY l.relevance_score DESC, l.to_article_id ASC`, id, minScore)
}

// InboundLinks returns edges arriving at an article with score >=
// minScore, ordered by score descending.
func (s *Store) InboundLinks(ctx context.Context, id int64, minScore float64) ([]Link, error) {
	return s.queryLinks(ctx, `
		SELECT l.from_article_id, l.to_article_id, f.title, t.title,
		       l.anchor_text, l.relevance_score, l.created_at
		FROM links l
		JOIN articles f ON f.id = l.from_article_id
		JOIN articles t ON t.id = l.to_article_id
		WHERE l.to_article_id = ? AND l.relevance_score >= ?
		ORDER BY l.relevance_score DESC, l.from_article_id ASC`, id, minScore)
}

// AllLinks returns every edge with score >= minScore.
func (s *Store) AllLinks(ctx context.Context, minScore float64) ([]Link, error) {
	return s.queryLinks(ctx, `
		SELECT l.from_article_id, l.to_article_id, f.title, t.title,
		       l.anchor_text, l.relevance_score, l.created_at
		FROM links l
		JOIN articles f ON f.id = l.from_article_id
		JOIN articles t ON t.id = l.to_article_id
		WHERE l.relevance_score >= ?
		ORDER BY l.from_article_id ASC, l.to_article_id ASC`, minScore)
}

func (s *Store) queryLinks(ctx context.Context, query string, args ...any) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, terrors.Storage("query links", err)
	}
	defer func() { _ = rows.Close() }()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.FromID, &l.ToID, &l.FromTitle, &l.ToTitle,
			&l.Anchor, &l.Score, &l.CreatedAt); err != nil {
			return nil, terrors.Storage("scan link", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// SearchArticles ranks keyword matches: title hits first, then summary
// hits, then content hits; ties sort by title ascending.
func (s *Store) SearchArticles(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, url, summary
		FROM articles
		WHERE title LIKE ?1 OR summary LIKE ?1 OR content LIKE ?1
		ORDER BY
			CASE
				WHEN title LIKE ?1 THEN 0
				WHEN summary LIKE ?1 THEN 1
				ELSE 2
			END,
			title ASC
		LIMIT ?2`, pattern, limit)
	if err != nil {
		return nil, terrors.Storage("search articles", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Title, &r.URL, &r.Summary); err != nil {
			return nil, terrors.Storage("scan search result", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Discovery is one row of the recent-discoveries view.
type Discovery struct {
	ID        int64
	Title     string
	URL       string
	CreatedAt int64
}

// RecentDiscoveries lists the newest articles first.
func (s *Store) RecentDiscoveries(ctx context.Context, limit int) ([]Discovery, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, url, created_at
		FROM articles
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, terrors.Storage("query recent discoveries", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Discovery
	for rows.Next() {
		var d Discovery
		if err := rows.Scan(&d.ID, &d.Title, &d.URL, &d.CreatedAt); err != nil {
			return nil, terrors.Storage("scan discovery", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Hub is one row of the knowledge-hubs view: an article ranked by how
// many edges point at it.
type Hub struct {
	ID       int64
	Title    string
	URL      string
	Inbound  int64
	Outbound int64
}

// KnowledgeHubs lists the most linked-to articles.
func (s *Store) KnowledgeHubs(ctx context.Context, limit int) ([]Hub, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.url,
		       COUNT(li.from_article_id) AS inbound,
		       (SELECT COUNT(*) FROM links lo WHERE lo.from_article_id = a.id) AS outbound
		FROM articles a
		JOIN links li ON li.to_article_id = a.id
		GROUP BY a.id
		ORDER BY inbound DESC, a.title ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, terrors.Storage("query knowledge hubs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Hub
	for rows.Next() {
		var h Hub
		if err := rows.Scan(&h.ID, &h.Title, &h.URL, &h.Inbound, &h.Outbound); err != nil {
			return nil, terrors.Storage("scan hub", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RetentionSweep deletes articles fetched before the cutoff, cascading
// through chunks and embeddings. Returns the number of articles removed.
func (s *Store) RetentionSweep(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, terrors.Validation("keep_days must be positive")
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays).Unix()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM articles WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, terrors.Storage("retention sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, terrors.Storage("count swept rows", err)
	}
	if n > 0 {
		s.bumpMutation()
		s.logger.Info("retention_sweep_completed",
			slog.Int64("deleted", n),
			slog.Int("keep_days", keepDays))
	}
	return n, nil
}

// jsonText marshals v, substituting empty for nil.
func jsonText(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", terrors.Storage("encode json column", err)
	}
	if string(raw) == "null" {
		return empty, nil
	}
	return string(raw), nil
}
