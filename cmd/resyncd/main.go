// resyncd mirrors directories of YAML/Markdown resource files into a
// queryable SQLite cache and serves them to MCP clients.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/resyncd/resyncd/internal/config"
	"github.com/resyncd/resyncd/internal/engine"
	"github.com/resyncd/resyncd/internal/logging"
	"github.com/resyncd/resyncd/internal/store"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "resyncd",
	Short: "Resource cache sync engine for MCP resource files",
	Long: `resyncd keeps directories of YAML/Markdown resource files mirrored
into cached document tables backed by SQLite.

Scan configs come from resyncd.yaml (or --config). Each config binds a
directory to glob patterns, a parser, and a cache table; 'resyncd sync'
reconciles the tables with the filesystem and 'resyncd serve' exposes
them to MCP clients, optionally keeping them live via file watching.`,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default resyncd.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, opens the store, and builds a fully
// registered engine. The caller owns the returned engine and must
// Close() it.
func setup() (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	var logger *logging.Logger
	if cfg.LogFile != "" {
		logger = logging.NewFile(cfg.LogFile, level)
	} else {
		logger = logging.New(os.Stderr, level)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	eng := engine.New(st, logger)
	cfg.Apply(eng)
	return eng, cfg, nil
}
