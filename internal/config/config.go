package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	Scan        ScanConfig        `mapstructure:"scan"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Graph       GraphConfig       `mapstructure:"graph"`
	Query       QueryConfig       `mapstructure:"query"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Format      string `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// ScanConfig controls the walker and change detector.
type ScanConfig struct {
	Paths             []string `mapstructure:"paths"`
	ExcludePaths      []string `mapstructure:"exclude_paths"`
	FileExtensions    []string `mapstructure:"file_extensions"`
	MaxFileSizeMB     int      `mapstructure:"max_file_size_mb"`
	IgnoreHiddenFiles bool     `mapstructure:"ignore_hidden_files"`
	FollowSymlinks    bool     `mapstructure:"follow_symlinks"`
	DeepCheck         bool     `mapstructure:"deep_check"`
}

// MaxFileSizeBytes converts the configured limit to bytes.
func (s ScanConfig) MaxFileSizeBytes() int64 {
	return int64(s.MaxFileSizeMB) * 1024 * 1024
}

// PerformanceConfig bounds the scan pipeline's resource use.
type PerformanceConfig struct {
	MaxWorkers      int `mapstructure:"max_workers"`
	BatchSize       int `mapstructure:"batch_size"`
	MemoryLimitMB   int `mapstructure:"memory_limit_mb"`
	PerFileTimeoutS int `mapstructure:"per_file_timeout_s"`
}

// WorkerCount clamps configured workers to the CPU count.
func (p PerformanceConfig) WorkerCount() int {
	n := p.MaxWorkers
	if n <= 0 || n > runtime.NumCPU() {
		n = runtime.NumCPU()
	}
	return n
}

// GraphConfig controls updater and cycle analysis behavior.
type GraphConfig struct {
	RejectNewCycles bool `mapstructure:"reject_new_cycles"`
	MaxCycleLength  int  `mapstructure:"max_cycle_length"`
}

// QueryConfig controls the query engine's result cache.
type QueryConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_s"`
}

// PersistenceConfig names the durable stores.
type PersistenceConfig struct {
	StorePath     string `mapstructure:"store_path"`
	BackupEnabled bool   `mapstructure:"backup_enabled"`
}

// EnvPrefix is the environment override namespace: UNITY_SCANNER_<SECTION>_<KEY>.
const EnvPrefix = "UNITY_SCANNER"

// DefaultFileName is the config file searched for at the project root.
const DefaultFileName = "unigraph"

// SetDefaults installs the documented defaults so the app runs with a
// minimal or absent config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "unigraph")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("scan.paths", []string{"Assets"})
	v.SetDefault("scan.exclude_paths", []string{"Library/**", "Temp/**", "Logs/**", "obj/**"})
	v.SetDefault("scan.file_extensions", []string{
		".meta", ".prefab", ".unity", ".scene", ".asset", ".mat", ".controller", ".anim", ".cs",
	})
	v.SetDefault("scan.max_file_size_mb", 50)
	v.SetDefault("scan.ignore_hidden_files", true)
	v.SetDefault("scan.follow_symlinks", false)
	v.SetDefault("scan.deep_check", true)

	v.SetDefault("performance.max_workers", runtime.NumCPU())
	v.SetDefault("performance.batch_size", 1000)
	v.SetDefault("performance.memory_limit_mb", 512)
	v.SetDefault("performance.per_file_timeout_s", 60)

	v.SetDefault("graph.reject_new_cycles", false)
	v.SetDefault("graph.max_cycle_length", 20)

	v.SetDefault("query.cache_ttl_s", 300)

	v.SetDefault("persistence.store_path", ".unigraph/unigraph.db")
	v.SetDefault("persistence.backup_enabled", true)
}

// BindEnv wires the UNITY_SCANNER_* override surface onto a viper instance.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Scan.Paths) == 0 {
		return fmt.Errorf("scan.paths must name at least one root")
	}
	if c.Scan.MaxFileSizeMB <= 0 {
		return fmt.Errorf("scan.max_file_size_mb must be positive, got %d", c.Scan.MaxFileSizeMB)
	}
	if c.Performance.BatchSize <= 0 {
		return fmt.Errorf("performance.batch_size must be positive, got %d", c.Performance.BatchSize)
	}
	if c.Performance.PerFileTimeoutS <= 0 {
		return fmt.Errorf("performance.per_file_timeout_s must be positive, got %d", c.Performance.PerFileTimeoutS)
	}
	if c.Graph.MaxCycleLength < 1 {
		return fmt.Errorf("graph.max_cycle_length must be at least 1, got %d", c.Graph.MaxCycleLength)
	}
	if c.Query.CacheTTLSeconds < 0 {
		return fmt.Errorf("query.cache_ttl_s must not be negative, got %d", c.Query.CacheTTLSeconds)
	}
	if c.Persistence.StorePath == "" {
		return fmt.Errorf("persistence.store_path must not be empty")
	}
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}
