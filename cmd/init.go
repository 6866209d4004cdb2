package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/unigraph-cli/internal/config"
	"github.com/xkilldash9x/unigraph-cli/internal/store"
)

// defaultConfigYAML is written by init; each key it lists carries its default.
// performance.max_workers and the logger's file-sink and rotation keys are not
// listed and fall back to config.SetDefaults.
const defaultConfigYAML = `logger:
  level: info
  format: console

scan:
  paths:
    - Assets
  exclude_paths:
    - "Library/**"
    - "Temp/**"
    - "Logs/**"
    - "obj/**"
  file_extensions:
    - .meta
    - .prefab
    - .unity
    - .scene
    - .asset
    - .mat
    - .controller
    - .anim
    - .cs
  max_file_size_mb: 50
  ignore_hidden_files: true
  follow_symlinks: false
  deep_check: true

performance:
  batch_size: 1000
  memory_limit_mb: 512
  per_file_timeout_s: 60

graph:
  reject_new_cycles: false
  max_cycle_length: 20

query:
  cache_ttl_s: 300

persistence:
  store_path: .unigraph/unigraph.db
  backup_enabled: true
`

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [project-root]",
		Short: "Write the default config and create empty persistent stores",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				projectRoot = args[0]
			}
			if err := runInit(cmd.Context(), force); err != nil {
				return exitWith(2, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runInit(ctx context.Context, force bool) error {
	if info, err := os.Stat(projectRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory", projectRoot)
	}

	cfgPath := filepath.Join(projectRoot, config.DefaultFileName+".yaml")
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", cfgPath)
	}
	if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	cfg := getConfig()
	storePath := cfg.Persistence.StorePath
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(projectRoot, storePath)
	}
	persist, err := store.Open(ctx, storePath, loggerOrNop())
	if err != nil {
		return fmt.Errorf("failed to create persistent store: %w", err)
	}
	defer persist.Close()

	fmt.Printf("Initialized unigraph project at %s\n", projectRoot)
	fmt.Printf("  config: %s\n", cfgPath)
	fmt.Printf("  store:  %s\n", storePath)
	return nil
}
