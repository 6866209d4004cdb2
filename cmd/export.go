package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/unigraph-cli/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		formatFlag string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export --format (json|csv|dot) --output F",
		Short: "Dump the dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

			components, err := newComponents(cmd.Context(), getConfig(), nil)
			if err != nil {
				return exitWith(1, err)
			}
			defer components.Shutdown()

			out := os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return exitWith(1, fmt.Errorf("failed to create output file: %w", err))
				}
				defer f.Close()
				out = f
			}

			snapshot := components.Graph.Export()
			if err := export.WriteGraph(out, snapshot, format); err != nil {
				return exitWith(1, err)
			}
			fmt.Fprintf(os.Stderr, "exported %d nodes, %d edges\n", snapshot.NodeCount, snapshot.EdgeCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&formatFlag, "format", "json", "output format: json, csv or dot")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	return cmd
}
