package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [config]",
	Short: "Reconcile cache tables with the filesystem",
	Long: `Run a sync pass for one scan config, or for every registered config
when no name is given.

Each pass scans the config's directory, hashes matching files, and
applies the add/update/delete mutations needed to make the cache table
match the filesystem.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		ctx := context.Background()
		start := time.Now()

		if len(args) == 1 {
			stats, err := eng.SyncConfig(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s: +%d ~%d -%d =%d\n",
				args[0], stats.Added, stats.Updated, stats.Deleted, stats.Unchanged)
		} else {
			for name, stats := range eng.SyncAll(ctx) {
				fmt.Printf("%s: +%d ~%d -%d =%d\n",
					name, stats.Added, stats.Updated, stats.Deleted, stats.Unchanged)
			}
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status",
	Long: `Display the configured scan configs and the record count of each
cache table.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, cfg, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		ctx := context.Background()

		info, err := os.Stat(cfg.Store)
		if err != nil {
			fmt.Printf("Store: %s (not created yet)\n", cfg.Store)
		} else {
			fmt.Printf("Store: %s (%d bytes, modified %s)\n",
				cfg.Store, info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
		}

		configs := eng.Registry().All()
		if len(configs) == 0 {
			fmt.Println("No scan configs registered")
			return
		}

		for _, sc := range configs {
			count, err := eng.Store().CountRecords(ctx, sc.TableName())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", sc.TableName(), err)
				continue
			}
			watchFlag := ""
			if sc.Watch {
				watchFlag = " [watch]"
			}
			fmt.Printf("%-16s %s -> %s: %d records%s\n",
				sc.Name, sc.Root, sc.TableName(), count, watchFlag)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
