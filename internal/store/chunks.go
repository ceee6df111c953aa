package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tessera-kg/tessera/internal/chunk"
	"github.com/tessera-kg/tessera/internal/terrors"
)

// StoredChunk is a persisted chunk row.
type StoredChunk struct {
	ID             int64
	ArticleID      int64
	Type           string
	SectionName    string
	Content        string
	CharCount      int
	TokenCount     int
	ContentHash    string
	Position       int
	NeedsEmbedding bool
}

// Embedding pairs a chunk with its vector for a batch write.
type Embedding struct {
	ChunkID int64
	Vector  []float32
}

// EmbeddingRow is one streamed row of ScanEmbeddings.
type EmbeddingRow struct {
	ChunkID      int64
	ArticleID    int64
	ArticleTitle string
	SectionName  string
	ChunkType    string
	Content      string
	Vector       []float32
}

// ReplaceChunks swaps the full chunk set of an article in one
// transaction. Old chunks disappear along with their embeddings.
func (s *Store) ReplaceChunks(ctx context.Context, articleID int64, chunks []chunk.Chunk) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return replaceChunksTx(ctx, tx, articleID, chunks)
	})
	if err != nil {
		return err
	}
	s.bumpMutation()
	return nil
}

func replaceChunksTx(ctx context.Context, tx *sql.Tx, articleID int64, chunks []chunk.Chunk) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM article_chunks WHERE article_id = ?`, articleID); err != nil {
		return terrors.Storage(fmt.Sprintf("delete chunks of article %d", articleID), err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO article_chunks
			(article_id, chunk_type, section_name, content, char_count,
			 token_count, content_hash, position, needs_embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`)
	if err != nil {
		return terrors.Storage("prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().Unix()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			articleID, c.Type, c.Name, c.Text, len(c.Text),
			c.TokenCount, c.ContentHash, c.Position, now); err != nil {
			return terrors.Storage(fmt.Sprintf("insert chunk %d of article %d", c.Position, articleID), err)
		}
	}
	return nil
}

// ChunksForArticle returns an article's chunks in stored order.
func (s *Store) ChunksForArticle(ctx context.Context, articleID int64) ([]StoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, article_id, chunk_type, section_name, content,
		       char_count, token_count, content_hash, position, needs_embedding
		FROM article_chunks
		WHERE article_id = ?
		ORDER BY position ASC`, articleID)
	if err != nil {
		return nil, terrors.Storage("query chunks", err)
	}
	defer func() { _ = rows.Close() }()
	return scanChunks(rows)
}

// PendingEmbeddingChunks returns chunks flagged for embedding that have
// no vector for the given model yet, oldest first.
func (s *Store) PendingEmbeddingChunks(ctx context.Context, model string, limit int) ([]StoredChunk, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.article_id, c.chunk_type, c.section_name, c.content,
		       c.char_count, c.token_count, c.content_hash, c.position, c.needs_embedding
		FROM article_chunks c
		WHERE c.needs_embedding = 1
		  AND NOT EXISTS (
			SELECT 1 FROM chunk_embeddings e
			WHERE e.chunk_id = c.id AND e.model_name = ?
		  )
		ORDER BY c.id ASC
		LIMIT ?`, model, limit)
	if err != nil {
		return nil, terrors.Storage("query pending chunks", err)
	}
	defer func() { _ = rows.Close() }()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]StoredChunk, error) {
	var out []StoredChunk
	for rows.Next() {
		var c StoredChunk
		var needs int
		if err := rows.Scan(&c.ID, &c.ArticleID, &c.Type, &c.SectionName,
			&c.Content, &c.CharCount, &c.TokenCount, &c.ContentHash,
			&c.Position, &needs); err != nil {
			return nil, terrors.Storage("scan chunk", err)
		}
		c.NeedsEmbedding = needs != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// WriteEmbeddings upserts a batch of vectors and clears the pending flag
// on their chunks, all in one transaction.
func (s *Store) WriteEmbeddings(ctx context.Context, batch []Embedding, model string) error {
	if len(batch) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		up, err := tx.PrepareContext(ctx, `
			INSERT INTO chunk_embeddings (chunk_id, model_name, dim, vector, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (chunk_id, model_name)
			DO UPDATE SET dim = excluded.dim,
			              vector = excluded.vector,
			              created_at = excluded.created_at`)
		if err != nil {
			return terrors.Storage("prepare embedding upsert", err)
		}
		defer func() { _ = up.Close() }()

		mark, err := tx.PrepareContext(ctx,
			`UPDATE article_chunks SET needs_embedding = 0 WHERE id = ?`)
		if err != nil {
			return terrors.Storage("prepare pending clear", err)
		}
		defer func() { _ = mark.Close() }()

		now := time.Now().Unix()
		for _, e := range batch {
			if len(e.Vector) == 0 {
				return terrors.Validation(fmt.Sprintf("empty vector for chunk %d", e.ChunkID))
			}
			if _, err := up.ExecContext(ctx, e.ChunkID, model,
				len(e.Vector), encodeVector(e.Vector), now); err != nil {
				return terrors.Storage(fmt.Sprintf("write embedding for chunk %d", e.ChunkID), err)
			}
			if _, err := mark.ExecContext(ctx, e.ChunkID); err != nil {
				return terrors.Storage(fmt.Sprintf("clear pending flag on chunk %d", e.ChunkID), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.bumpMutation()
	return nil
}

// ScanEmbeddings streams every stored vector for a model to fn in
// chunk-id order. Returning an error from fn stops the scan.
func (s *Store) ScanEmbeddings(ctx context.Context, model string, fn func(EmbeddingRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.chunk_id, c.article_id, a.title, c.section_name,
		       c.chunk_type, c.content, e.dim, e.vector
		FROM chunk_embeddings e
		JOIN article_chunks c ON c.id = e.chunk_id
		JOIN articles a ON a.id = c.article_id
		WHERE e.model_name = ?
		ORDER BY e.chunk_id ASC`, model)
	if err != nil {
		return terrors.Storage("scan embeddings", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r EmbeddingRow
		var dim int
		var blob []byte
		if err := rows.Scan(&r.ChunkID, &r.ArticleID, &r.ArticleTitle,
			&r.SectionName, &r.ChunkType, &r.Content, &dim, &blob); err != nil {
			return terrors.Storage("scan embedding row", err)
		}
		vec, err := decodeVector(blob, dim)
		if err != nil {
			return terrors.Storage(fmt.Sprintf("decode vector for chunk %d", r.ChunkID), err)
		}
		r.Vector = vec
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ChunkMatch is one row of the keyword chunk search.
type ChunkMatch struct {
	ChunkID      int64
	ArticleID    int64
	ArticleTitle string
	SectionName  string
	ChunkType    string
	Content      string
	Rank         float64
}

// SearchChunks runs a full-text query over chunk content. Rank is the
// negated bm25 score, higher is better.
func (s *Store) SearchChunks(ctx context.Context, query string, limit int) ([]ChunkMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.article_id, a.title, c.section_name, c.chunk_type,
		       c.content, -bm25(chunks_fts) AS rank
		FROM chunks_fts f
		JOIN article_chunks c ON c.id = f.rowid
		JOIN articles a ON a.id = c.article_id
		WHERE chunks_fts MATCH ?
		ORDER BY rank DESC, c.id ASC
		LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		return nil, terrors.Storage("full-text chunk search", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.ArticleID, &m.ArticleTitle,
			&m.SectionName, &m.ChunkType, &m.Content, &m.Rank); err != nil {
			return nil, terrors.Storage("scan chunk match", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ftsQuery quotes each term so user input cannot inject FTS5 operators.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, "")+`"`)
	}
	return strings.Join(quoted, " ")
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("vector blob is %d bytes, want %d", len(blob), 4*dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
