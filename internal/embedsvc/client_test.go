package embedsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kg/tessera/internal/terrors"
)

func embedServer(t *testing.T, dim int, failures *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/embed":
			if failures != nil && failures.Add(-1) >= 0 {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
				return
			}
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			vecs := make([][]float32, len(req.Texts))
			for i := range vecs {
				vec := make([]float32, dim)
				vec[0] = float32(i + 1)
				vecs[i] = vec
			}
			_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: vecs, Model: req.Model, Dim: dim})
		case "/search":
			_ = json.NewEncoder(w).Encode(searchResponse{Chunks: []SearchChunk{
				{ChunkID: 7, ArticleID: 3, ArticleTitle: "Ada Lovelace", Similarity: 0.91},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string, dim int) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:    baseURL,
		Model:      "nomic-embed-text",
		Dim:        dim,
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEmbedBatch(t *testing.T) {
	srv := embedServer(t, 4, nil)
	c := newTestClient(t, srv.URL, 4)

	vecs, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
}

func TestEmbedBlankTextsSkipService(t *testing.T) {
	srv := embedServer(t, 4, nil)
	c := newTestClient(t, srv.URL, 4)

	vecs, err := c.Embed(context.Background(), []string{"", "alpha", "  "})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, make([]float32, 4), vecs[0], "blank input gets a zero vector")
	assert.Equal(t, float32(1), vecs[1][0], "service vectors land on the right index")
	assert.Equal(t, make([]float32, 4), vecs[2])
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	srv := embedServer(t, 4, &failures)
	c := newTestClient(t, srv.URL, 4)

	vecs, err := c.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err, "third attempt succeeds")
	require.Len(t, vecs, 1)
}

func TestEmbedExhaustedRetriesIsServiceError(t *testing.T) {
	var failures atomic.Int32
	failures.Store(100)
	srv := embedServer(t, 4, &failures)
	c := newTestClient(t, srv.URL, 4)

	_, err := c.Embed(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.True(t, terrors.IsKind(err, terrors.KindService))
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embedServer(t, 4, nil)
	c := newTestClient(t, srv.URL, 8)

	_, err := c.Embed(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.True(t, terrors.IsKind(err, terrors.KindService))
}

func TestSearchDelegation(t *testing.T) {
	srv := embedServer(t, 4, nil)
	c := newTestClient(t, srv.URL, 4)

	chunks, err := c.Search(context.Background(), "analytical engine", 5, 0.3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(7), chunks[0].ChunkID)
	assert.InDelta(t, 0.91, chunks[0].Similarity, 1e-9)
}

func TestAvailable(t *testing.T) {
	srv := embedServer(t, 4, nil)
	c := newTestClient(t, srv.URL, 4)
	assert.True(t, c.Available(context.Background()))

	down := newTestClient(t, "http://127.0.0.1:1", 4)
	assert.False(t, down.Available(context.Background()))
}

func TestClosedClientRefusesCalls(t *testing.T) {
	srv := embedServer(t, 4, nil)
	c := newTestClient(t, srv.URL, 4)
	require.NoError(t, c.Close())

	_, err := c.Embed(context.Background(), []string{"alpha"})
	assert.True(t, terrors.IsKind(err, terrors.KindService))
	assert.False(t, c.Available(context.Background()))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, terrors.IsKind(err, terrors.KindConfig))
}
