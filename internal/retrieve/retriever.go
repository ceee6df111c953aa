// Package retrieve answers semantic queries over stored chunk
// embeddings, degrading to keyword search when the embedding service
// is unavailable.
package retrieve

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tessera-kg/tessera/internal/fingerprint"
	"github.com/tessera-kg/tessera/internal/store"
	"github.com/tessera-kg/tessera/internal/terrors"
)

// Defaults applied by New when options are zero.
const (
	DefaultTopK          = 10
	DefaultMinSimilarity = 0.3
	defaultCacheSize     = 128
	defaultCacheTTL      = 10 * time.Minute
)

// Result sources.
const (
	SourceSemantic = "semantic"
	SourceKeyword  = "keyword"
)

// QueryEmbedder embeds a query string.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Result is one retrieval hit.
type Result struct {
	ChunkID      int64   `json:"chunk_id"`
	ArticleID    int64   `json:"article_id"`
	ArticleTitle string  `json:"article_title"`
	SectionName  string  `json:"section_name"`
	ChunkKind    string  `json:"chunk_kind"`
	Content      string  `json:"content"`
	Similarity   float64 `json:"similarity"`
	// Source is "semantic" or "keyword" (the degraded path).
	Source string `json:"source"`
}

// Options tunes the retriever.
type Options struct {
	// TopK is the default result count.
	TopK int
	// MinSimilarity is the default cosine floor.
	MinSimilarity float64
	// ANN routes searches through an in-memory HNSW index instead of
	// the exact scan. Worth it for large corpora.
	ANN bool
	// CacheSize bounds the query result cache.
	CacheSize int
	// CacheTTL bounds the age of cached query results.
	CacheTTL time.Duration
}

// Retriever serves top-k semantic retrieval over the store.
type Retriever struct {
	store    *store.Store
	embedder QueryEmbedder
	opts     Options
	logger   *slog.Logger

	cache *expirable.LRU[string, []Result]
	ann   *annIndex
}

// New creates a Retriever. The query cache is keyed on the store
// mutation timestamp, so stale entries can never be served.
func New(st *store.Store, embedder QueryEmbedder, opts Options, logger *slog.Logger) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MinSimilarity == 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retriever{
		store:    st,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		cache:    expirable.NewLRU[string, []Result](opts.CacheSize, nil, opts.CacheTTL),
	}
	if opts.ANN {
		r.ann = newANNIndex()
	}
	return r
}

// queryKey ties a query to the store state it was answered from.
type queryKey struct {
	Query         string  `json:"query"`
	K             int     `json:"k"`
	MinSimilarity float64 `json:"min_similarity"`
	Model         string  `json:"model"`
	MutationTS    int64   `json:"mutation_ts"`
}

// Search returns the top k chunks by cosine similarity to the query,
// at or above minSimilarity. Zero or negative k falls back to the
// configured top-k; a negative minSimilarity falls back to the
// configured floor, while zero is honored as an unfiltered scan. When
// the embedding service fails, results come from keyword search
// instead, marked with Source "keyword".
func (r *Retriever) Search(ctx context.Context, query string, k int, minSimilarity float64) ([]Result, error) {
	if query == "" {
		return nil, terrors.Validation("query is empty")
	}
	if k <= 0 {
		k = r.opts.TopK
	}
	if minSimilarity < 0 {
		minSimilarity = r.opts.MinSimilarity
	}

	key, err := fingerprint.CacheKey(queryKey{
		Query:         query,
		K:             k,
		MinSimilarity: minSimilarity,
		Model:         r.embedder.Model(),
		MutationTS:    r.store.MutationTS(),
	})
	if err == nil {
		if cached, ok := r.cache.Get(key); ok {
			r.logger.Debug("retrieve_cache_hit", slog.String("query", query))
			return cached, nil
		}
	}

	results, err := r.semantic(ctx, query, k, minSimilarity)
	if err != nil {
		if !terrors.IsKind(err, terrors.KindService) {
			return nil, err
		}
		r.logger.Warn("retrieve_degraded_to_keyword",
			slog.String("query", query),
			slog.String("error", err.Error()))
		results, err = r.keyword(ctx, query, k)
		if err != nil {
			return nil, err
		}
	}

	if key != "" {
		r.cache.Add(key, results)
	}
	return results, nil
}

// semantic embeds the query and ranks stored vectors against it.
func (r *Retriever) semantic(ctx context.Context, query string, k int, minSimilarity float64) ([]Result, error) {
	q, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	if r.ann != nil {
		return r.annSearch(ctx, q, k, minSimilarity)
	}
	return r.exactSearch(ctx, q, k, minSimilarity)
}

// exactSearch scans every stored embedding and keeps the top k.
func (r *Retriever) exactSearch(ctx context.Context, q []float32, k int, minSimilarity float64) ([]Result, error) {
	var hits []Result
	err := r.store.ScanEmbeddings(ctx, r.embedder.Model(), func(row store.EmbeddingRow) error {
		sim := Cosine(q, row.Vector)
		if sim < minSimilarity {
			return nil
		}
		hits = append(hits, Result{
			ChunkID:      row.ChunkID,
			ArticleID:    row.ArticleID,
			ArticleTitle: row.ArticleTitle,
			SectionName:  row.SectionName,
			ChunkKind:    row.ChunkType,
			Content:      row.Content,
			Similarity:   sim,
			Source:       SourceSemantic,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rank(hits, k), nil
}

// keyword is the degraded path over the full-text index. Rank scores
// are reported as similarity 0; ordering carries the relevance.
func (r *Retriever) keyword(ctx context.Context, query string, k int) ([]Result, error) {
	matches, err := r.store.SearchChunks(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{
			ChunkID:      m.ChunkID,
			ArticleID:    m.ArticleID,
			ArticleTitle: m.ArticleTitle,
			SectionName:  m.SectionName,
			ChunkKind:    m.ChunkType,
			Content:      m.Content,
			Source:       SourceKeyword,
		}
	}
	return out, nil
}

// rank orders hits by similarity descending, ties by chunk id
// ascending, and truncates to k.
func rank(hits []Result, k int) []Result {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Cosine computes cosine similarity. Either zero norm yields 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
