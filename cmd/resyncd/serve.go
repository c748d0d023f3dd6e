package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/resyncd/resyncd/internal/mcpserver"
)

var flagServeWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve cached resources to MCP clients over stdio",
	Long: `Start the MCP server on stdin/stdout.

On startup every registered scan config is synced to establish a
baseline. With --watch, configs marked watchable are then kept live
via filesystem notifications for the lifetime of the server.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Baseline before serving so the first query sees a full cache.
		eng.SyncAll(ctx)

		if flagServeWatch {
			eng.StartWatching()
		}

		srv := mcpserver.New(eng, nil)
		if err := srv.ServeStdio(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Server stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagServeWatch, "watch", false, "keep watchable configs live while serving")
	rootCmd.AddCommand(serveCmd)
}
