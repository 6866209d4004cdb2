package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/unigraph-cli/internal/export"
)

func newDetectCircularCmd() *cobra.Command {
	var (
		reportFile  string
		format      string
		failOnCycle bool
	)

	cmd := &cobra.Command{
		Use:   "detect-circular [--report FILE]",
		Short: "Enumerate and classify dependency cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := newComponents(cmd.Context(), getConfig(), nil)
			if err != nil {
				return exitWith(1, err)
			}
			defer components.Shutdown()

			report := components.Analyzer.Analyze()

			out := os.Stdout
			if reportFile != "" {
				f, err := os.Create(reportFile)
				if err != nil {
					return exitWith(1, fmt.Errorf("failed to create report file: %w", err))
				}
				defer f.Close()
				out = f
			}
			if err := export.WriteCycleReport(out, report, format); err != nil {
				return exitWith(1, err)
			}

			if failOnCycle && len(report.Cycles) > 0 {
				return exitWith(5, fmt.Errorf("%d cycle(s) detected", len(report.Cycles)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reportFile, "report", "", "write the report to a file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "text", "report format: json, text or markdown")
	cmd.Flags().BoolVar(&failOnCycle, "fail-on-cycle", false, "exit 5 when any cycle exists")
	return cmd
}
