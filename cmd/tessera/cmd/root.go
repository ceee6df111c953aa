// Package cmd provides the CLI commands for Tessera.
package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tessera-kg/tessera/internal/config"
	"github.com/tessera-kg/tessera/internal/logging"
	"github.com/tessera-kg/tessera/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the tessera CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tessera",
		Short: "Personal knowledge-graph builder over Wikipedia",
		Long: `Tessera crawls Wikipedia politely, keeps the articles that match your
interests, and grows a queryable knowledge graph out of them.

Start with a crawl, then explore:

  tessera crawl --seed https://en.wikipedia.org/wiki/Ada_Lovelace --interests "mathematics,computing"
  tessera search "analytical engine"
  tessera graph --export dot --out graph.dot`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("tessera version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging installs the process-wide logger. CLI output goes to
// stdout; logs go to the log file, plus stderr in debug mode.
func setupLogging(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = debugMode
	if debugMode {
		cfg.Level = "debug"
	} else if lv := os.Getenv("TESSERA_LOG_LEVEL"); lv != "" {
		cfg.Level = lv
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// loadConfig reads .env, then the layered YAML/env configuration.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return config.Load(wd)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
