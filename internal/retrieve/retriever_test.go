package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kg/tessera/internal/chunk"
	"github.com/tessera-kg/tessera/internal/store"
	"github.com/tessera-kg/tessera/internal/terrors"
)

const testModel = "nomic-embed-text"

// fakeQueryEmbedder returns a fixed query vector or a service error.
type fakeQueryEmbedder struct {
	vec   []float32
	calls int
	fail  bool
}

func (f *fakeQueryEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	f.calls++
	if f.fail {
		return nil, terrors.Service("embedding service down", nil)
	}
	return f.vec, nil
}

func (f *fakeQueryEmbedder) Model() string { return testModel }

// newSeededStore stores three embedded chunks with known directions:
// chunk "alpha" aligned with the x axis, "beta" diagonal, "gamma"
// orthogonal.
func newSeededStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tessera.db"),
		slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	id, err := st.UpsertArticle(ctx, &store.Article{
		Title:     "Ada Lovelace",
		URL:       "https://en.wikipedia.org/wiki/Ada_Lovelace",
		Summary:   "English mathematician and writer.",
		Content:   "Ada Lovelace worked on the Analytical Engine.",
		FetchedAt: time.Now().Unix(),
	}, []chunk.Chunk{
		{Type: chunk.TypeSummary, Name: "Summary", Text: "alpha text about engines",
			ContentHash: "ha", TokenCount: 5, Position: 0},
		{Type: chunk.TypeSection, Name: "Work", Text: "beta text about mathematics",
			ContentHash: "hb", TokenCount: 5, Position: 1},
		{Type: chunk.TypeSection, Name: "Legacy", Text: "gamma text about poetry",
			ContentHash: "hc", TokenCount: 5, Position: 2},
	})
	require.NoError(t, err)

	chunks, err := st.ChunksForArticle(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{1, 1, 0, 0},
		{0, 0, 1, 0},
	}
	batch := make([]store.Embedding, 3)
	for i, c := range chunks {
		batch[i] = store.Embedding{ChunkID: c.ID, Vector: vectors[i]}
	}
	require.NoError(t, st.WriteEmbeddings(ctx, batch, testModel))
	return st
}

func TestSemanticSearchRanksBySimilarity(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{vec: []float32{1, 0, 0, 0}}
	r := New(st, emb, Options{}, nil)

	results, err := r.Search(context.Background(), "engines", 10, 0.3)
	require.NoError(t, err)

	// alpha at similarity 1, beta at ~0.707, gamma filtered at 0.
	require.Len(t, results, 2)
	assert.Equal(t, "alpha text about engines", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "beta text about mathematics", results[1].Content)
	assert.InDelta(t, 0.7071, results[1].Similarity, 1e-3)
	assert.Equal(t, SourceSemantic, results[0].Source)
	assert.Equal(t, "Ada Lovelace", results[0].ArticleTitle)
}

func TestZeroSimilarityFloorKeepsOrthogonalChunks(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{vec: []float32{1, 0, 0, 0}}
	r := New(st, emb, Options{}, nil)
	ctx := context.Background()

	// An explicit 0 floor is an unfiltered scan; gamma comes back at
	// similarity 0.
	results, err := r.Search(ctx, "engines", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "gamma text about poetry", results[2].Content)
	assert.InDelta(t, 0.0, results[2].Similarity, 1e-6)

	// A negative floor means unset, so the configured default applies
	// and gamma is filtered again.
	results, err = r.Search(ctx, "engines", 10, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSemanticSearchTopKBound(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{vec: []float32{1, 0, 0, 0}}
	r := New(st, emb, Options{}, nil)

	results, err := r.Search(context.Background(), "engines", 1, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha text about engines", results[0].Content)
}

func TestEqualSimilarityTiesBreakByChunkID(t *testing.T) {
	hits := []Result{
		{ChunkID: 9, Similarity: 0.5},
		{ChunkID: 2, Similarity: 0.5},
		{ChunkID: 5, Similarity: 0.9},
	}
	ranked := rank(hits, 10)
	assert.Equal(t, []int64{5, 2, 9}, []int64{ranked[0].ChunkID, ranked[1].ChunkID, ranked[2].ChunkID})
}

func TestServiceErrorFallsBackToKeyword(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{fail: true}
	r := New(st, emb, Options{}, nil)

	results, err := r.Search(context.Background(), "mathematics", 10, 0.3)
	require.NoError(t, err, "degraded path answers instead of failing")
	require.NotEmpty(t, results)
	assert.Equal(t, SourceKeyword, results[0].Source)
	assert.Contains(t, results[0].Content, "mathematics")
}

func TestStorageErrorsAreNotMasked(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{vec: []float32{1, 0, 0, 0}}
	r := New(st, emb, Options{}, nil)
	require.NoError(t, st.Close())

	_, err := r.Search(context.Background(), "engines", 10, 0.3)
	require.Error(t, err)
	assert.False(t, terrors.IsKind(err, terrors.KindService))
}

func TestQueryCacheHit(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{vec: []float32{1, 0, 0, 0}}
	r := New(st, emb, Options{}, nil)
	ctx := context.Background()

	first, err := r.Search(ctx, "engines", 10, 0.3)
	require.NoError(t, err)
	second, err := r.Search(ctx, "engines", 10, 0.3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, emb.calls, "second call answers from cache")
}

func TestQueryCacheKeyedOnMutation(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{vec: []float32{1, 0, 0, 0}}
	r := New(st, emb, Options{}, nil)
	ctx := context.Background()

	_, err := r.Search(ctx, "engines", 10, 0.3)
	require.NoError(t, err)

	// A write moves the mutation timestamp; the cache key changes.
	_, err = st.UpsertArticle(ctx, &store.Article{
		Title: "Charles Babbage", URL: "https://en.wikipedia.org/wiki/Charles_Babbage",
		FetchedAt: time.Now().Unix(),
	}, nil)
	require.NoError(t, err)

	_, err = r.Search(ctx, "engines", 10, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls, "store write forces a fresh search")
}

func TestEmptyQueryRejected(t *testing.T) {
	st := newSeededStore(t)
	r := New(st, &fakeQueryEmbedder{}, Options{}, nil)

	_, err := r.Search(context.Background(), "", 10, 0.3)
	require.Error(t, err)
	assert.True(t, terrors.IsKind(err, terrors.KindValidation))
}

func TestANNPathMatchesExactTopHit(t *testing.T) {
	st := newSeededStore(t)
	q := []float32{1, 0, 0, 0}

	exact := New(st, &fakeQueryEmbedder{vec: q}, Options{}, nil)
	ann := New(st, &fakeQueryEmbedder{vec: q}, Options{ANN: true}, nil)
	ctx := context.Background()

	want, err := exact.Search(ctx, "engines", 2, 0.3)
	require.NoError(t, err)
	got, err := ann.Search(ctx, "engines", 2, 0.3)
	require.NoError(t, err)

	require.NotEmpty(t, got)
	assert.Equal(t, want[0].ChunkID, got[0].ChunkID)
	assert.InDelta(t, want[0].Similarity, got[0].Similarity, 1e-6)
}

func TestANNIndexRebuildsAfterWrite(t *testing.T) {
	st := newSeededStore(t)
	emb := &fakeQueryEmbedder{vec: []float32{0, 0, 0, 1}}
	r := New(st, emb, Options{ANN: true}, nil)
	ctx := context.Background()

	results, err := r.Search(ctx, "delta", 10, 0.3)
	require.NoError(t, err)
	assert.Empty(t, results, "nothing points along the w axis yet")

	id, err := st.UpsertArticle(ctx, &store.Article{
		Title: "Delta", URL: "https://en.wikipedia.org/wiki/Delta",
		FetchedAt: time.Now().Unix(),
	}, []chunk.Chunk{
		{Type: chunk.TypeSummary, Name: "Summary", Text: "delta text",
			ContentHash: "hd", TokenCount: 3, Position: 0},
	})
	require.NoError(t, err)
	chunks, err := st.ChunksForArticle(ctx, id)
	require.NoError(t, err)
	require.NoError(t, st.WriteEmbeddings(ctx,
		[]store.Embedding{{ChunkID: chunks[0].ID, Vector: []float32{0, 0, 0, 1}}}, testModel))

	results, err = r.Search(ctx, "delta", 10, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "delta text", results[0].Content)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero norm left", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero norm right", []float32{1, 1}, []float32{0, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestExactScanScalesPastTopK(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tessera.db"),
		slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	// 20 chunks with descending alignment to the query axis.
	id, err := st.UpsertArticle(ctx, &store.Article{
		Title: "Scale", URL: "https://en.wikipedia.org/wiki/Scale",
		FetchedAt: time.Now().Unix(),
	}, nil)
	require.NoError(t, err)
	var chunks []chunk.Chunk
	for i := 0; i < 20; i++ {
		chunks = append(chunks, chunk.Chunk{
			Type: chunk.TypeParagraph, Name: "Body",
			Text:        fmt.Sprintf("paragraph %02d", i),
			ContentHash: fmt.Sprintf("h%02d", i), TokenCount: 3, Position: i,
		})
	}
	require.NoError(t, st.ReplaceChunks(ctx, id, chunks))
	stored, err := st.ChunksForArticle(ctx, id)
	require.NoError(t, err)

	batch := make([]store.Embedding, len(stored))
	for i, c := range stored {
		batch[i] = store.Embedding{ChunkID: c.ID, Vector: []float32{1, float32(i), 0, 0}}
	}
	require.NoError(t, st.WriteEmbeddings(ctx, batch, testModel))

	r := New(st, &fakeQueryEmbedder{vec: []float32{1, 0, 0, 0}}, Options{}, nil)
	results, err := r.Search(ctx, "paragraph", 5, 0.01)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, "paragraph 00", results[0].Content, "best-aligned chunk wins")
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}
