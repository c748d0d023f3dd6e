package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <config> [field=value ...]",
	Short: "Query a config's cached records",
	Long: `Print the cached records of a scan config as JSON, optionally
filtered by field=value pairs (exact equality, ANDed). Fields may be
record metadata (file_name, config_name, ...) or keys inside the
parsed content.

Examples:
  resyncd query models
  resyncd query models file_name=model1.yaml
  resyncd query prompts category=assistant`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.Close()

		filters := map[string]any{}
		for _, arg := range args[1:] {
			field, value, ok := strings.Cut(arg, "=")
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: filter %q is not field=value\n", arg)
				os.Exit(1)
			}
			filters[field] = value
		}

		records, err := eng.GetCachedData(context.Background(), args[0], filters)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding records: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
