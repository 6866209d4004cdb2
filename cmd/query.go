package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
	"github.com/xkilldash9x/unigraph-cli/internal/graph"
)

func newFindDepsCmd() *cobra.Command {
	var (
		reverse   bool
		recursive bool
		maxDepth  int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "find-deps <path-or-guid>",
		Short: "List what an asset depends on (or what references it with --reverse)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := newComponents(cmd.Context(), getConfig(), nil)
			if err != nil {
				return exitWith(1, err)
			}
			defer components.Shutdown()

			guid, ok := resolveTarget(components, args[0])
			if !ok {
				return exitWith(4, fmt.Errorf("asset not found: %s", args[0]))
			}

			opts := graph.DefaultOptions()
			opts.MaxDepth = maxDepth

			if recursive {
				var closure *graph.ClosureResult
				if reverse {
					closure, err = components.Query.AllRefs(guid, opts)
				} else {
					closure, err = components.Query.AllDeps(guid, opts)
				}
				if err != nil {
					return queryError(err)
				}
				return printClosure(components, guid, closure, asJSON)
			}

			var edges []schemas.Edge
			if reverse {
				edges, err = components.Query.DirectRefs(guid, opts)
			} else {
				edges, err = components.Query.DirectDeps(guid, opts)
			}
			if err != nil {
				return queryError(err)
			}
			return printEdges(components, edges, reverse, asJSON)
		},
	}

	cmd.Flags().BoolVar(&reverse, "reverse", false, "walk the reverse graph (who references this asset)")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "include transitive results")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "depth cap for recursive queries (0 = unbounded)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func newFindUnusedCmd() *cobra.Command {
	var (
		kinds        []string
		includeRoots bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "find-unused [--kind K]...",
		Short: "List assets nothing references",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := newComponents(cmd.Context(), getConfig(), nil)
			if err != nil {
				return exitWith(1, err)
			}
			defer components.Shutdown()

			opts := graph.DefaultOptions()
			for _, k := range kinds {
				opts.AssetKinds = append(opts.AssetKinds, schemas.AssetKind(k))
			}

			unused := components.Query.Unused(opts, !includeRoots)
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(unused)
			}
			for _, n := range unused {
				fmt.Printf("%s  %-20s %s\n", n.GUID, n.Kind, n.Path)
			}
			fmt.Fprintf(os.Stderr, "%d unused asset(s)\n", len(unused))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&kinds, "kind", nil, "restrict to asset kinds (repeatable)")
	cmd.Flags().BoolVar(&includeRoots, "include-roots", false, "include scene assets, which are usually roots")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func queryError(err error) error {
	var notFound *graph.ErrNotFound
	if errors.As(err, &notFound) {
		return exitWith(4, err)
	}
	return exitWith(1, err)
}

func printEdges(components *Components, edges []schemas.Edge, reverse bool, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(edges)
	}
	for _, e := range edges {
		far := e.Target
		if reverse {
			far = e.Source
		}
		node, _ := components.Graph.Node(far)
		fmt.Printf("%s  %-16s %-9s %s\n", far, e.Kind, e.Strength, node.Path)
		if e.ContextPath != "" {
			fmt.Printf("    at %s\n", e.ContextPath)
		}
	}
	fmt.Fprintf(os.Stderr, "%d edge(s)\n", len(edges))
	return nil
}

func printClosure(components *Components, root string, closure *graph.ClosureResult, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(closure)
	}
	for _, guid := range closure.GUIDs {
		node, _ := components.Graph.Node(guid)
		fmt.Printf("%s  depth=%-3d %s\n", guid, closure.DepthMap[guid], node.Path)
	}
	fmt.Fprintf(os.Stderr, "%d asset(s) reachable from %s\n", len(closure.GUIDs), root)
	return nil
}
