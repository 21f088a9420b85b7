// Package main provides the reel_agent command: the HTTP API server and
// command-line access to runs, variations, renders and the run history.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/config"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "reel_agent",
	Short: "Product photo to short-form video agent",
	Long: `reel_agent turns a single product photo into a short-form video plan:
product analysis, script, shot list and posting metadata, produced by four
chained agents. Plans can be fanned out into seeded creative variations and
their shots rendered by an external video service.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./reel_agent.yaml)")
	pf.String("store", "", "History store driver (memory|postgres|sqlite)")
	pf.String("database-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL)")
	pf.String("sqlite-path", "", "SQLite database file")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log format (text|json)")
}

// loadConfig resolves the layered configuration and the logger for every command
func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}

	var err error
	cfg, err = config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cfg.File != "" {
		logger.Debug("using config file", "path", cfg.File)
	}
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
