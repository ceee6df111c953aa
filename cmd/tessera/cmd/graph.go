package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/renameio"
	"github.com/spf13/cobra"

	"github.com/tessera-kg/tessera/internal/graph"
	"github.com/tessera-kg/tessera/internal/store"
)

// graphOptions holds CLI flags for graph.
type graphOptions struct {
	center       int64
	depth        int
	minRelevance float64
	export       string
	out          string
}

func newGraphCmd() *cobra.Command {
	var opts graphOptions

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and inspect the knowledge graph",
		Long: `Build a view of the knowledge graph: the complete graph by default,
or a neighborhood around one article with --center.

Examples:
  tessera graph
  tessera graph --center 42 --depth 2
  tessera graph --export graphml --out knowledge.graphml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGraph(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.center, "center", 0, "Center article id (0 = complete graph)")
	cmd.Flags().IntVar(&opts.depth, "depth", 2, "Hop bound for centered views")
	cmd.Flags().Float64Var(&opts.minRelevance, "min-relevance", 0, "Edge score floor")
	cmd.Flags().StringVar(&opts.export, "export", "", "Export format: json, graphml, dot")
	cmd.Flags().StringVar(&opts.out, "out", "", "Export destination file (default stdout)")

	return cmd
}

func runGraph(ctx context.Context, cmd *cobra.Command, opts graphOptions) error {
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

	// An explicit --min-relevance 0 keeps every edge; only an unset
	// flag falls back to the configured floor.
	minRelevance := opts.minRelevance
	if !cmd.Flags().Changed("min-relevance") {
		minRelevance = cfg.Graph.MinRelevance
	}

	cache := graph.NewCache(cfg.CacheDir(), cfg.Graph.CacheTTL.Std(), logger)
	builder := graph.NewBuilder(st, cache, logger)

	var g *graph.Graph
	if opts.center > 0 {
		g, err = builder.Centered(ctx, opts.center, opts.depth, minRelevance)
	} else {
		g, err = builder.Complete(ctx, minRelevance)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.export != "" {
		data, err := g.Export(opts.export)
		if err != nil {
			return err
		}
		if opts.out == "" {
			_, err = out.Write(data)
			return err
		}
		if err := renameio.WriteFile(opts.out, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(out, "wrote %s (%d nodes, %d edges)\n", opts.out, g.Metrics.Nodes, g.Metrics.Edges)
		return nil
	}

	printGraphSummary(cmd, g)
	return nil
}

func printGraphSummary(cmd *cobra.Command, g *graph.Graph) {
	out := cmd.OutOrStdout()
	m := g.Metrics
	fmt.Fprintf(out, "nodes:        %d\n", m.Nodes)
	fmt.Fprintf(out, "edges:        %d\n", m.Edges)
	fmt.Fprintf(out, "density:      %.4f\n", m.Density)
	fmt.Fprintf(out, "components:   %d\n", m.Components)
	fmt.Fprintf(out, "avg weight:   %.3f\n", m.AvgEdgeWeight)
	fmt.Fprintf(out, "max degree:   %d in / %d out\n", m.MaxInDegree, m.MaxOutDegree)

	if len(m.TypeHistogram) > 0 {
		types := make([]string, 0, len(m.TypeHistogram))
		for t := range m.TypeHistogram {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Fprintln(out, "node types:")
		for _, t := range types {
			fmt.Fprintf(out, "  %-14s %d\n", t, m.TypeHistogram[t])
		}
	}

	// The most important nodes, highest first.
	type ranked struct {
		title      string
		importance float64
	}
	nodes := make([]ranked, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, ranked{n.Title, n.Importance})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].importance != nodes[j].importance {
			return nodes[i].importance > nodes[j].importance
		}
		return nodes[i].title < nodes[j].title
	})
	if len(nodes) > 10 {
		nodes = nodes[:10]
	}
	if len(nodes) > 0 {
		fmt.Fprintln(out, "top nodes:")
		for _, n := range nodes {
			fmt.Fprintf(out, "  %.2f  %s\n", n.importance, n.title)
		}
	}
}
