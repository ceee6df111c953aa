package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tessera-kg/tessera/internal/embedsvc"
	"github.com/tessera-kg/tessera/internal/retrieve"
	"github.com/tessera-kg/tessera/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit         int
	minSimilarity float64
	format        string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Search stored article chunks semantically. When the embedding service
is unreachable, results come from keyword search instead.

Examples:
  tessera search "analytical engine"
  tessera search "theory of computation" --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	// -1 means unset; an explicit 0 is a valid floor that keeps every
	// match, so it cannot double as the sentinel.
	cmd.Flags().Float64Var(&opts.minSimilarity, "min-similarity", -1, "Similarity floor for semantic results (0 keeps all matches)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
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

	embedder, err := embedsvc.New(embedsvc.Options{
		BaseURL: cfg.Services.EmbeddingURL,
		Model:   cfg.Services.EmbeddingModel,
		Dim:     cfg.Services.EmbeddingDim,
	})
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	retriever := retrieve.New(st, embedder, retrieve.Options{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		ANN:           cfg.Retrieval.ANN,
	}, logger)

	results, err := retriever.Search(ctx, query, opts.limit, opts.minSimilarity)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, r := range results {
		section := r.SectionName
		if section == "" {
			section = r.ChunkKind
		}
		if r.Source == retrieve.SourceKeyword {
			fmt.Fprintf(out, "%2d. %s / %s (keyword)\n", i+1, r.ArticleTitle, section)
		} else {
			fmt.Fprintf(out, "%2d. %s / %s (%.2f)\n", i+1, r.ArticleTitle, section, r.Similarity)
		}
		fmt.Fprintf(out, "    %s\n", snippet(r.Content, 200))
	}
	fmt.Fprintf(out, "%d results\n", len(results))
	return nil
}

// snippet trims content to one display line.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes) + "…"
}
