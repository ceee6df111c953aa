package embedsvc

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tessera-kg/tessera/internal/store"
	"github.com/tessera-kg/tessera/internal/terrors"
)

// Sweeper defaults.
const (
	DefaultBatchSize    = 32
	DefaultPollInterval = 5 * time.Second
	maxErrorBackoff     = 2 * time.Minute
)

// Embedder is the slice of the client the sweeper needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// SweeperOptions tunes the background embedding worker.
type SweeperOptions struct {
	// BatchSize bounds chunks per service call.
	BatchSize int
	// PollInterval is the sleep between drain passes when the backlog
	// is empty.
	PollInterval time.Duration
}

// Sweeper drains chunks that still need embeddings. It runs beside a
// crawl without blocking it; service outages back off and retry.
type Sweeper struct {
	store    *store.Store
	embedder Embedder
	logger   *slog.Logger
	opts     SweeperOptions

	eg     *errgroup.Group
	cancel context.CancelFunc
}

// NewSweeper creates a Sweeper over the store and embedding client.
func NewSweeper(st *store.Store, embedder Embedder, opts SweeperOptions, logger *slog.Logger) *Sweeper {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: st, embedder: embedder, logger: logger, opts: opts}
}

// Start launches the background worker. Call Stop to drain and wait.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.eg, ctx = errgroup.WithContext(ctx)
	s.eg.Go(func() error {
		s.run(ctx)
		return nil
	})
}

// Stop cancels the worker and waits for the in-flight batch.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.eg.Wait()
}

// run loops drain passes until the context ends. Service errors grow
// the sleep up to maxErrorBackoff; success resets it.
func (s *Sweeper) run(ctx context.Context) {
	backoff := s.opts.PollInterval
	for {
		n, err := s.DrainOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			s.logger.Warn("embed_sweep_failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff))
			if backoff < maxErrorBackoff {
				backoff *= 2
				if backoff > maxErrorBackoff {
					backoff = maxErrorBackoff
				}
			}
		case n > 0:
			backoff = s.opts.PollInterval
			// Backlog remains; keep draining without sleeping.
			continue
		default:
			backoff = s.opts.PollInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// DrainOnce embeds and persists at most one batch of pending chunks.
// It returns the number of chunks embedded.
func (s *Sweeper) DrainOnce(ctx context.Context) (int, error) {
	pending, err := s.store.PendingEmbeddingChunks(ctx, s.embedder.Model(), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		if terrors.IsKind(err, terrors.KindCancelled) {
			return 0, ctx.Err()
		}
		return 0, err
	}

	batch := make([]store.Embedding, len(pending))
	for i, c := range pending {
		batch[i] = store.Embedding{ChunkID: c.ID, Vector: vectors[i]}
	}
	if err := s.store.WriteEmbeddings(ctx, batch, s.embedder.Model()); err != nil {
		return 0, err
	}

	s.logger.Debug("embed_sweep_batch",
		slog.Int("chunks", len(batch)),
		slog.String("model", s.embedder.Model()))
	return len(batch), nil
}

// Drain runs passes until the backlog is empty or the context ends.
// It returns the total number of chunks embedded.
func (s *Sweeper) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.DrainOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}
