package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tessera-kg/tessera/internal/graph"
	"github.com/tessera-kg/tessera/internal/store"
)

func newCleanupCmd() *cobra.Command {
	var keepDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete articles not updated within the retention window",
		Long: `Delete articles whose last update is older than --keep-days. Links,
chunks, and embeddings of deleted articles go with them, and cached
graph views are invalidated.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd.Context(), cmd, keepDays)
		},
	}
	cmd.Flags().IntVar(&keepDays, "keep-days", 90, "Retention window in days")
	return cmd
}

func runCleanup(ctx context.Context, cmd *cobra.Command, keepDays int) error {
	if keepDays <= 0 {
		return fmt.Errorf("--keep-days must be positive, got %d", keepDays)
	}
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

	removed, err := st.RetentionSweep(ctx, keepDays)
	if err != nil {
		return err
	}
	if removed > 0 {
		graph.NewCache(cfg.CacheDir(), cfg.Graph.CacheTTL.Std(), logger).Invalidate()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d articles older than %d days\n", removed, keepDays)
	return nil
}
