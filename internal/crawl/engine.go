// Package crawl drives a bounded, interest-scored BFS over Wikipedia:
// frontier scheduling, fetching, parsing, scoring, and persistence.
package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tessera-kg/tessera/internal/analyze"
	"github.com/tessera-kg/tessera/internal/chunk"
	"github.com/tessera-kg/tessera/internal/fetch"
	"github.com/tessera-kg/tessera/internal/fingerprint"
	"github.com/tessera-kg/tessera/internal/profile"
	"github.com/tessera-kg/tessera/internal/store"
	"github.com/tessera-kg/tessera/internal/terrors"
	"github.com/tessera-kg/tessera/internal/wiki"
)

// Options bound one crawl session.
type Options struct {
	MaxDepth    int
	MaxArticles int
	// FanOut caps followed links per article; zero means unlimited.
	FanOut int
	// AdaptiveInterests lets crawled articles extend the interest list.
	AdaptiveInterests bool
}

// Result summarizes a finished session.
type Result struct {
	SessionID         int64
	ArticlesCrawled   int
	ArticlesProcessed int
	Duration          time.Duration
	Status            string
}

// Flusher is notified when a session ends so pending cache invalidation
// can be forced; the graph cache implements it.
type Flusher interface {
	Flush()
}

// Engine coordinates one crawl at a time. Safe to reuse sequentially;
// the seen-set is per session.
type Engine struct {
	fetcher  *fetch.Fetcher
	store    *store.Store
	analyzer *analyze.Analyzer
	profile  *profile.Profile
	flusher  Flusher
	logger   *slog.Logger

	// overridable in tests, which cannot serve from wikipedia.org
	validateURL func(string) bool
}

// New creates an Engine. flusher may be nil.
func New(f *fetch.Fetcher, s *store.Store, p *profile.Profile, flusher Flusher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		fetcher:     f,
		store:       s,
		analyzer:    analyze.New(p),
		profile:     p,
		flusher:     flusher,
		logger:      logger,
		validateURL: IsArticleURL,
	}
}

// Crawl runs one session from seedURL. Per-article failures are logged
// and skipped; cancellation between iterations ends the session with
// status "stopped" and preserves partial state.
func (e *Engine) Crawl(ctx context.Context, seedURL string, opts Options) (*Result, error) {
	start := time.Now()
	if opts.MaxArticles <= 0 {
		opts.MaxArticles = 50
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}

	// Cancellation is cooperative: the loop stops between iterations,
	// but bookkeeping and in-progress article writes still land.
	storeCtx := context.WithoutCancel(ctx)

	sessionID, err := e.store.CreateSession(storeCtx, seedURL, opts.MaxDepth, opts.MaxArticles)
	if err != nil {
		return nil, err
	}

	if !e.validateURL(seedURL) {
		_ = e.store.FinishSession(storeCtx, sessionID, store.SessionError, 0)
		return &Result{
				SessionID: sessionID,
				Duration:  time.Since(start),
				Status:    store.SessionError,
			}, terrors.Validation(
				fmt.Sprintf("seed %q is not a Wikipedia article URL", seedURL))
	}

	e.logger.Info("crawl_started",
		slog.Int64("session_id", sessionID),
		slog.String("seed", seedURL),
		slog.Int("max_depth", opts.MaxDepth),
		slog.Int("max_articles", opts.MaxArticles))

	fr := newFrontier()
	fr.push(&frontierEntry{url: seedURL})
	seen := map[string]bool{fingerprint.HashURL(seedURL): true}

	crawled, processed := 0, 0
	status := store.SessionCompleted

loop:
	for fr.len() > 0 && crawled < opts.MaxArticles {
		select {
		case <-ctx.Done():
			status = store.SessionStopped
			break loop
		default:
		}

		entry := fr.pop()
		processed++

		if !e.validateURL(entry.url) {
			e.logger.Debug("crawl_entry_dropped", slog.String("url", entry.url))
			continue
		}

		art, ok := e.fetchAndParse(ctx, entry.url)
		if !ok {
			if ctx.Err() != nil {
				status = store.SessionStopped
				break loop
			}
			continue
		}

		// Article and discovering edge commit atomically so graph reads
		// never see one without the other.
		var artID int64
		var err error
		if entry.parentID != 0 {
			artID, err = e.store.UpsertArticleWithLink(storeCtx, store.FromParsed(art), chunk.Split(art), entry.parentID, entry.anchor, entry.parentRel)
		} else {
			artID, err = e.store.UpsertArticle(storeCtx, store.FromParsed(art), chunk.Split(art))
		}
		if err != nil {
			e.logger.Warn("crawl_store_failed",
				slog.String("url", entry.url),
				slog.String("error", err.Error()))
			continue
		}
		crawled++
		_ = e.store.UpdateSessionProgress(storeCtx, sessionID, crawled)

		if opts.AdaptiveInterests {
			if added := e.profile.AddInterests(e.analyzer.AdaptiveTerms(art)...); added > 0 {
				e.logger.Debug("interests_extended", slog.Int("added", added))
			}
		}

		if entry.depth < opts.MaxDepth {
			e.expand(fr, seen, entry.depth, artID, art, opts.FanOut)
		}

		e.logger.Info("article_crawled",
			slog.Int64("article_id", artID),
			slog.String("title", art.Title),
			slog.Int("depth", entry.depth),
			slog.Int("crawled", crawled))
	}

	if err := e.store.FinishSession(storeCtx, sessionID, status, crawled); err != nil {
		e.logger.Warn("crawl_session_finish_failed", slog.String("error", err.Error()))
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}

	res := &Result{
		SessionID:         sessionID,
		ArticlesCrawled:   crawled,
		ArticlesProcessed: processed,
		Duration:          time.Since(start),
		Status:            status,
	}
	e.logger.Info("crawl_finished",
		slog.Int64("session_id", sessionID),
		slog.String("status", status),
		slog.Int("articles_crawled", crawled),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// fetchAndParse retrieves and parses one page; failures are soft.
func (e *Engine) fetchAndParse(ctx context.Context, pageURL string) (*wiki.Article, bool) {
	resp, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		e.logger.Warn("crawl_fetch_failed",
			slog.String("url", pageURL),
			slog.String("error", err.Error()))
		return nil, false
	}
	if !resp.OK() {
		e.logger.Warn("crawl_fetch_status",
			slog.String("url", pageURL),
			slog.Int("status", resp.Status))
		return nil, false
	}

	art, err := wiki.Parse(resp.Body, pageURL)
	if err != nil {
		e.logger.Warn("crawl_parse_failed",
			slog.String("url", pageURL),
			slog.String("error", err.Error()))
		return nil, false
	}
	if art.Title == "" {
		e.logger.Debug("crawl_untitled_page", slog.String("url", pageURL))
		return nil, false
	}
	return art, true
}

// scoredLink pairs an outbound link with its relevance.
type scoredLink struct {
	link  wiki.Link
	score float64
}

// expand scores outbound links and pushes the ones worth following.
func (e *Engine) expand(fr *frontier, seen map[string]bool, depth int, artID int64, art *wiki.Article, fanOut int) {
	var kept []scoredLink
	for _, l := range art.Links {
		score := e.analyzer.Score(l.Title, l.Anchor, art)
		if !e.analyzer.Follow(score) {
			continue
		}
		kept = append(kept, scoredLink{link: l, score: score})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})
	if fanOut > 0 && len(kept) > fanOut {
		kept = kept[:fanOut]
	}

	pushed := 0
	for _, sl := range kept {
		h := fingerprint.HashURL(sl.link.URL)
		if seen[h] {
			continue
		}
		seen[h] = true
		fr.push(&frontierEntry{
			url:       sl.link.URL,
			depth:     depth + 1,
			parentID:  artID,
			parentRel: sl.score,
			anchor:    sl.link.Anchor,
		})
		pushed++
	}
	if pushed > 0 {
		e.logger.Debug("frontier_expanded",
			slog.Int64("article_id", artID),
			slog.Int("pushed", pushed))
	}
}

// IsArticleURL reports whether raw points at a Wikipedia article:
// a wikipedia.org host and a /wiki/<title> path with no namespace colon.
func IsArticleURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "wikipedia.org" && !strings.HasSuffix(host, ".wikipedia.org") {
		return false
	}
	title := strings.TrimPrefix(u.Path, "/wiki/")
	if title == u.Path || title == "" {
		return false
	}
	return !strings.Contains(title, ":")
}
