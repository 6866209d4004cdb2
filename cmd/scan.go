package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
	"github.com/xkilldash9x/unigraph-cli/internal/observability"
)

func loggerOrNop() *zap.Logger {
	return observability.GetLogger()
}

func newScanCmd() *cobra.Command {
	var (
		fullScan    bool
		incremental bool
		paths       []string
	)

	cmd := &cobra.Command{
		Use:   "scan [--full|--incremental] [--path P]...",
		Short: "Run the scan pipeline and update the dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fullScan && incremental {
				return fmt.Errorf("--full and --incremental are mutually exclusive")
			}
			scanType := schemas.ScanIncremental
			if fullScan {
				scanType = schemas.ScanFull
			}

			components, err := newComponents(cmd.Context(), getConfig(), stderrProgress())
			if err != nil {
				return exitWith(1, err)
			}
			defer components.Shutdown()

			report, err := components.Scanner.Run(cmd.Context(), scanType, paths)
			printScanSummary(report)

			if err != nil {
				var parseErr *schemas.ParseError
				if errors.As(err, &parseErr) {
					return exitWith(3, err)
				}
				return exitWith(1, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fullScan, "full", false, "reparse every candidate file")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "reparse only changed files (default)")
	cmd.Flags().StringArrayVar(&paths, "path", nil, "restrict the scan to these roots (repeatable)")
	return cmd
}

// stderrProgress renders core progress events as plain lines. Rendering is
// the CLI's concern; the core only emits structured events.
func stderrProgress() schemas.ProgressFunc {
	return func(ev schemas.ProgressEvent) {
		if ev.Total > 0 {
			fmt.Fprintf(os.Stderr, "[%s] %d/%d %s\n", ev.Stage, ev.Processed, ev.Total, ev.Message)
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] %d %s\n", ev.Stage, ev.Processed, ev.Message)
	}
}

func printScanSummary(report *schemas.ScanReport) {
	if report == nil {
		return
	}
	fmt.Printf("Scan %s (%s): %s in %s\n", report.ScanID, report.Type, report.Status, report.Duration().Round(1e6))
	fmt.Printf("  files: %d walked, %d new, %d modified, %d unchanged, %d deleted\n",
		report.FilesWalked, report.FilesNew, report.FilesModified, report.FilesUnchanged, report.FilesDeleted)
	fmt.Printf("  graph: %d nodes upserted, %d deactivated, %d edges added, %d removed\n",
		report.NodesUpserted, report.NodesDeactivated, report.EdgesAdded, report.EdgesRemoved)
	fmt.Printf("  transactions: %d committed, %d failed, %d rolled back\n",
		report.TransactionsCommitted, report.TransactionsFailed, report.TransactionsRolledBack)

	counts := report.ErrorCounts()
	if len(counts) == 0 {
		return
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Println("  errors:")
	for _, k := range kinds {
		fmt.Printf("    %-24s %d\n", k, counts[k])
	}
}
