package retrieve

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/hnsw"

	"github.com/tessera-kg/tessera/internal/store"
)

// HNSW parameters; M and EfSearch follow the library's recommendations.
const (
	annM        = 16
	annEfSearch = 20
	annMl       = 0.25
	// annOverfetch widens the graph search so minimum-similarity
	// filtering still leaves k candidates.
	annOverfetch = 4
)

// annIndex is an in-memory HNSW graph over stored embeddings, rebuilt
// whenever the store mutation timestamp moves.
type annIndex struct {
	mu      sync.Mutex
	graph   *hnsw.Graph[uint64]
	rows    map[uint64]store.EmbeddingRow
	builtAt int64
}

func newANNIndex() *annIndex {
	return &annIndex{builtAt: -1}
}

// annSearch answers from the HNSW graph, rebuilding it first when the
// store has moved on.
func (r *Retriever) annSearch(ctx context.Context, q []float32, k int, minSimilarity float64) ([]Result, error) {
	if err := r.ann.sync(ctx, r.store, r.embedder.Model(), r.logger); err != nil {
		return nil, err
	}

	r.ann.mu.Lock()
	defer r.ann.mu.Unlock()

	if r.ann.graph.Len() == 0 {
		return nil, nil
	}

	nodes := r.ann.graph.Search(q, k*annOverfetch)
	var hits []Result
	for _, node := range nodes {
		row, ok := r.ann.rows[node.Key]
		if !ok {
			continue
		}
		sim := Cosine(q, row.Vector)
		if sim < minSimilarity {
			continue
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
	}
	return rank(hits, k), nil
}

// sync rebuilds the graph when the stored embeddings changed since the
// last build. Rebuilding wholesale sidesteps HNSW deletion issues.
func (a *annIndex) sync(ctx context.Context, st *store.Store, model string, logger *slog.Logger) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := st.MutationTS()
	if a.graph != nil && a.builtAt == ts {
		return nil
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = annM
	graph.EfSearch = annEfSearch
	graph.Ml = annMl

	rows := make(map[uint64]store.EmbeddingRow)
	err := st.ScanEmbeddings(ctx, model, func(row store.EmbeddingRow) error {
		key := uint64(row.ChunkID)
		graph.Add(hnsw.MakeNode(key, row.Vector))
		rows[key] = row
		return nil
	})
	if err != nil {
		return err
	}

	a.graph = graph
	a.rows = rows
	a.builtAt = ts
	logger.Debug("ann_index_rebuilt", slog.Int("vectors", len(rows)))
	return nil
}
