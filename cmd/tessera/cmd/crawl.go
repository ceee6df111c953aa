package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tessera-kg/tessera/internal/config"
	"github.com/tessera-kg/tessera/internal/crawl"
	"github.com/tessera-kg/tessera/internal/embedsvc"
	"github.com/tessera-kg/tessera/internal/fetch"
	"github.com/tessera-kg/tessera/internal/graph"
	"github.com/tessera-kg/tessera/internal/profile"
	"github.com/tessera-kg/tessera/internal/store"
)

// crawlOptions holds CLI flags for crawl.
type crawlOptions struct {
	seed         string
	depth        int
	maxArticles  int
	interests    string
	minRelevance float64
	fanOut       int
	adaptive     bool
	noEmbed      bool
}

func newCrawlCmd() *cobra.Command {
	var opts crawlOptions

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl Wikipedia from a seed article",
		Long: `Crawl Wikipedia breadth-first from a seed article, following only
links that score above the relevance threshold against your interest
profile. Articles, links, and chunks land in the knowledge store.

Examples:
  tessera crawl --seed https://en.wikipedia.org/wiki/Ada_Lovelace --interests "mathematics,computing"
  tessera crawl --seed https://en.wikipedia.org/wiki/Go_(programming_language) --depth 3 --max-articles 100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.seed, "seed", "", "Seed article URL (required)")
	cmd.Flags().IntVar(&opts.depth, "depth", 0, "Maximum link depth from the seed")
	cmd.Flags().IntVar(&opts.maxArticles, "max-articles", 0, "Maximum articles to store this session")
	cmd.Flags().StringVar(&opts.interests, "interests", "", "Comma-separated interest terms added to the profile")
	cmd.Flags().Float64Var(&opts.minRelevance, "min-relevance", 0, "Relevance threshold for following links (0..1)")
	cmd.Flags().IntVar(&opts.fanOut, "fan-out", 0, "Cap on followed links per article (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.adaptive, "adaptive", false, "Grow the interest list from crawled articles")
	cmd.Flags().BoolVar(&opts.noEmbed, "no-embed", false, "Skip background embedding of new chunks")
	_ = cmd.MarkFlagRequired("seed")

	return cmd
}

func runCrawl(ctx context.Context, cmd *cobra.Command, opts crawlOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	st, err := store.Open(cfg.DBPath(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	prof, err := profile.Load(cfg.ProfilePath())
	if err != nil {
		return err
	}
	if opts.interests != "" {
		added := prof.AddInterests(splitTerms(opts.interests)...)
		if added > 0 {
			if err := prof.Save(cfg.ProfilePath()); err != nil {
				logger.Warn("profile_save_failed", slog.String("error", err.Error()))
			}
		}
	}
	// Changed distinguishes an explicit zero from an unset flag, so
	// --min-relevance 0 really does follow every link.
	if cmd.Flags().Changed("min-relevance") {
		prof.SetThreshold(opts.minRelevance)
	}
	if watcher, err := profile.Watch(prof, cfg.ProfilePath(), logger); err == nil {
		defer func() { _ = watcher.Close() }()
	}

	fetcher := fetch.New(fetch.Options{
		MinDelay:     cfg.Fetcher.MinDelay.Std(),
		MaxPerMinute: cfg.Fetcher.MaxPerMinute,
		Timeout:      cfg.Fetcher.Timeout.Std(),
		UserAgent:    cfg.Fetcher.UserAgent,
	})

	cache := graph.NewCache(cfg.CacheDir(), cfg.Graph.CacheTTL.Std(), logger)
	invalidator := graph.NewInvalidator(cache)
	st.OnMutate(invalidator.Trigger)

	// The embedding sweeper drains new chunks while the crawl runs.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if sweeper := startSweeper(ctx, cfg, st, logger, opts.noEmbed); sweeper != nil {
		defer sweeper.Stop()
	}

	engine := crawl.New(fetcher, st, prof, invalidator, logger)
	result, err := engine.Crawl(ctx, opts.seed, engineOptions(cmd.Flags(), opts, cfg))
	if result != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %d: %s\n", result.SessionID, result.Status)
		fmt.Fprintf(out, "  articles stored:    %d\n", result.ArticlesCrawled)
		fmt.Fprintf(out, "  articles processed: %d\n", result.ArticlesProcessed)
		fmt.Fprintf(out, "  duration:           %s\n", result.Duration.Round(time.Millisecond))
	}
	return err
}

// startSweeper launches the background embedder when the service is
// reachable. A dead service is fine; search degrades to keywords.
func startSweeper(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger, disabled bool) *embedsvc.Sweeper {
	if disabled {
		return nil
	}
	client, err := embedsvc.New(embedsvc.Options{
		BaseURL: cfg.Services.EmbeddingURL,
		Model:   cfg.Services.EmbeddingModel,
		Dim:     cfg.Services.EmbeddingDim,
	})
	if err != nil {
		return nil
	}
	if !client.Available(ctx) {
		logger.Info("embedding_service_unreachable",
			slog.String("url", cfg.Services.EmbeddingURL))
		_ = client.Close()
		return nil
	}
	sweeper := embedsvc.NewSweeper(st, client, embedsvc.SweeperOptions{}, logger)
	sweeper.Start(ctx)
	return sweeper
}

// splitTerms parses a comma-separated term list.
func splitTerms(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// engineOptions resolves crawl flags against configured defaults. A
// flag set on the command line wins even at zero, so --depth 0 runs a
// seed-only crawl instead of falling back to the configured depth.
func engineOptions(flags *pflag.FlagSet, opts crawlOptions, cfg *config.Config) crawl.Options {
	return crawl.Options{
		MaxDepth:          resolveInt(flags.Changed("depth"), opts.depth, cfg.Crawler.MaxDepth),
		MaxArticles:       resolveInt(flags.Changed("max-articles"), opts.maxArticles, cfg.Crawler.MaxArticles),
		FanOut:            resolveInt(flags.Changed("fan-out"), opts.fanOut, cfg.Crawler.FanOut),
		AdaptiveInterests: opts.adaptive || cfg.Crawler.AdaptiveInterests,
	}
}

func resolveInt(set bool, flag, fallback int) int {
	if set {
		return flag
	}
	return fallback
}
