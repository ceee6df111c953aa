package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tessera-kg/tessera/internal/fingerprint"
	"github.com/tessera-kg/tessera/internal/store"
	"github.com/tessera-kg/tessera/internal/terrors"
)

// Source is the slice of the knowledge store the builder reads.
type Source interface {
	AllArticleMetas(ctx context.Context) ([]store.ArticleMeta, error)
	ArticleMetaByID(ctx context.Context, id int64) (*store.ArticleMeta, error)
	AllLinks(ctx context.Context, minScore float64) ([]store.Link, error)
	OutboundLinks(ctx context.Context, id int64, minScore float64) ([]store.Link, error)
	MutationTS() int64
}

// Builder materializes graph views, memoized through the cache.
type Builder struct {
	src    Source
	cache  *Cache
	logger *slog.Logger
}

// NewBuilder creates a Builder. cache may be nil to disable memoization.
func NewBuilder(src Source, cache *Cache, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{src: src, cache: cache, logger: logger}
}

// cacheKeyInput ties view parameters to the store state they were
// computed from.
type cacheKeyInput struct {
	Params     Params `json:"params"`
	MutationTS int64  `json:"mutation_ts"`
}

// Complete builds the view over every article, with edges at or above
// minRelevance.
func (b *Builder) Complete(ctx context.Context, minRelevance float64) (*Graph, error) {
	params := Params{MinRelevance: minRelevance, Center: "all"}
	return b.build(ctx, params, func(g *Graph) error {
		metas, err := b.src.AllArticleMetas(ctx)
		if err != nil {
			return err
		}
		for i := range metas {
			g.Nodes[metas[i].ID] = nodeFromMeta(&metas[i], 0)
		}

		links, err := b.src.AllLinks(ctx, minRelevance)
		if err != nil {
			return err
		}
		for _, l := range links {
			g.Edges = append(g.Edges, Edge{
				From: l.FromID, To: l.ToID, Weight: l.Score, Anchor: l.Anchor,
			})
		}
		return nil
	})
}

// Centered builds a BFS-bounded view rooted at centerID, following
// outbound links at or above minRelevance up to maxDepth hops. Nodes
// carry their BFS distance from the center.
func (b *Builder) Centered(ctx context.Context, centerID int64, maxDepth int, minRelevance float64) (*Graph, error) {
	params := Params{
		MinRelevance: minRelevance,
		MaxDepth:     maxDepth,
		Center:       strconv.FormatInt(centerID, 10),
	}
	return b.build(ctx, params, func(g *Graph) error {
		center, err := b.src.ArticleMetaByID(ctx, centerID)
		if err != nil {
			return err
		}
		if center == nil {
			return terrors.Validation(fmt.Sprintf("center article %d does not exist", centerID))
		}

		g.Nodes[center.ID] = nodeFromMeta(center, 0)
		queue := []int64{center.ID}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			depth := g.Nodes[cur].Depth
			if depth >= maxDepth {
				continue
			}

			links, err := b.src.OutboundLinks(ctx, cur, minRelevance)
			if err != nil {
				return err
			}
			for _, l := range links {
				if _, ok := g.Nodes[l.ToID]; !ok {
					meta, err := b.src.ArticleMetaByID(ctx, l.ToID)
					if err != nil {
						return err
					}
					if meta == nil {
						continue
					}
					g.Nodes[l.ToID] = nodeFromMeta(meta, depth+1)
					queue = append(queue, l.ToID)
				}
				g.Edges = append(g.Edges, Edge{
					From: l.FromID, To: l.ToID, Weight: l.Score, Anchor: l.Anchor,
				})
			}
		}
		return nil
	})
}

// build answers from the cache when possible, otherwise runs fill and
// finalizes and caches the result.
func (b *Builder) build(ctx context.Context, params Params, fill func(*Graph) error) (*Graph, error) {
	key, err := fingerprint.CacheKey(cacheKeyInput{
		Params:     params,
		MutationTS: b.src.MutationTS(),
	})
	if err != nil {
		return nil, terrors.Storage("compute graph cache key", err)
	}

	if b.cache != nil {
		if g, ok := b.cache.Get(key); ok {
			b.logger.Debug("graph_cache_hit", slog.String("key", key))
			return g, nil
		}
	}

	start := time.Now()
	g := &Graph{Nodes: make(map[int64]*Node), Params: params}
	if err := fill(g); err != nil {
		return nil, err
	}
	g.finalize()

	if b.cache != nil {
		b.cache.Put(key, g)
	}
	b.logger.Info("graph_built",
		slog.String("center", params.Center),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)),
		slog.Duration("elapsed", time.Since(start)))
	return g, nil
}
