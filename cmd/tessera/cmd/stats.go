package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessera-kg/tessera/internal/store"
)

func newStatsCmd() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, recent)
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 5, "How many recent sessions, hubs, and discoveries to show")
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, recent int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath(), slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	out := cmd.OutOrStdout()

	stats, err := st.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "articles:   %d\n", stats.Articles)
	fmt.Fprintf(out, "links:      %d\n", stats.Links)
	fmt.Fprintf(out, "chunks:     %d (%d embedded)\n", stats.Chunks, stats.Embeddings)
	fmt.Fprintf(out, "sessions:   %d\n", stats.Sessions)

	sessions, err := st.RecentSessions(ctx, recent)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		fmt.Fprintln(out, "\nrecent sessions:")
		for _, s := range sessions {
			started := time.Unix(s.StartedAt, 0).Format("2006-01-02 15:04")
			fmt.Fprintf(out, "  #%d %s  %s  depth %d  %d articles  %s\n",
				s.ID, started, s.Status, s.MaxDepth, s.ArticlesCrawled, s.SeedURL)
		}
	}

	hubs, err := st.KnowledgeHubs(ctx, recent)
	if err != nil {
		return err
	}
	if len(hubs) > 0 {
		fmt.Fprintln(out, "\nknowledge hubs:")
		for _, h := range hubs {
			fmt.Fprintf(out, "  %3d in / %3d out  %s\n", h.Inbound, h.Outbound, h.Title)
		}
	}

	discoveries, err := st.RecentDiscoveries(ctx, recent)
	if err != nil {
		return err
	}
	if len(discoveries) > 0 {
		fmt.Fprintln(out, "\nrecent discoveries:")
		for _, d := range discoveries {
			fmt.Fprintf(out, "  %s  %s\n",
				time.Unix(d.CreatedAt, 0).Format("2006-01-02 15:04"), d.Title)
		}
	}
	return nil
}
