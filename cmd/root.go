package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/internal/config"
	"github.com/xkilldash9x/unigraph-cli/internal/observability"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	cfgFile     string
	projectRoot string
)

// exitError carries the command-specific exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "unigraph",
	Short:         "Unigraph analyzes Unity asset reference graphs.",
	Long:          "Unigraph scans a Unity project's asset tree, extracts GUID references,\nand maintains an incrementally updated dependency graph with cycle analysis.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}
		observability.InitializeLogger(cfg.Logger)
		setConfig(cfg)
		observability.GetLogger().Debug("configuration loaded", zap.String("project_root", projectRoot))
		return nil
	},
}

// Execute runs the CLI and maps errors to the documented exit codes.
func Execute(ctx context.Context) int {
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newFindDepsCmd())
	rootCmd.AddCommand(newFindUnusedCmd())
	rootCmd.AddCommand(newDetectCircularCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newStatsCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.err != nil && ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "Error:", exit.err)
			}
			return exit.code
		}
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is <project-root>/unigraph.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "project-root", "p", ".", "Unity project root directory")
}

var loadedConfig *config.Config

func setConfig(cfg *config.Config) { loadedConfig = cfg }

// getConfig returns the configuration loaded in PersistentPreRunE.
func getConfig() *config.Config {
	if loadedConfig == nil {
		panic("configuration not initialized before command execution")
	}
	return loadedConfig
}

// loadConfig reads the config file and UNITY_SCANNER_* environment overrides.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(projectRoot)
		v.SetConfigName(config.DefaultFileName)
		v.SetConfigType("yaml")
	}

	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus environment carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
