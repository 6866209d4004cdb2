package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := newComponents(cmd.Context(), getConfig(), nil)
			if err != nil {
				return exitWith(1, err)
			}
			defer components.Shutdown()

			stats := components.Graph.Stats()
			stats.UpdaterStats = components.Updater.Stats().Snapshot()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Printf("Nodes: %d (%d active)\n", stats.Nodes, stats.ActiveNodes)
			fmt.Printf("Edges: %d (%d active)\n", stats.Edges, stats.ActiveEdges)
			fmt.Println("Active nodes by kind:")
			printCountMap(stats.NodesByKind)
			fmt.Println("Active edges by kind:")
			printCountMap(stats.EdgesByKind)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func printCountMap(m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, m[k])
	}
}
