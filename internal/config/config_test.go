package config

import (
	"runtime"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := loadDefaults(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50, cfg.Scan.MaxFileSizeMB)
	assert.True(t, cfg.Scan.IgnoreHiddenFiles)
	assert.False(t, cfg.Scan.FollowSymlinks)
	assert.True(t, cfg.Scan.DeepCheck)
	assert.Equal(t, 1000, cfg.Performance.BatchSize)
	assert.Equal(t, 512, cfg.Performance.MemoryLimitMB)
	assert.Equal(t, 60, cfg.Performance.PerFileTimeoutS)
	assert.False(t, cfg.Graph.RejectNewCycles)
	assert.Equal(t, 20, cfg.Graph.MaxCycleLength)
	assert.Equal(t, 300, cfg.Query.CacheTTLSeconds)
	assert.True(t, cfg.Persistence.BackupEnabled)
	assert.Contains(t, cfg.Scan.FileExtensions, ".prefab")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("UNITY_SCANNER_SCAN_MAX_FILE_SIZE_MB", "7")
	t.Setenv("UNITY_SCANNER_GRAPH_REJECT_NEW_CYCLES", "true")

	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, 7, cfg.Scan.MaxFileSizeMB)
	assert.True(t, cfg.Graph.RejectNewCycles)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no scan paths", func(c *Config) { c.Scan.Paths = nil }},
		{"zero max file size", func(c *Config) { c.Scan.MaxFileSizeMB = 0 }},
		{"zero batch size", func(c *Config) { c.Performance.BatchSize = 0 }},
		{"zero timeout", func(c *Config) { c.Performance.PerFileTimeoutS = 0 }},
		{"zero cycle length", func(c *Config) { c.Graph.MaxCycleLength = 0 }},
		{"negative cache ttl", func(c *Config) { c.Query.CacheTTLSeconds = -1 }},
		{"empty store path", func(c *Config) { c.Persistence.StorePath = "" }},
		{"bad logger format", func(c *Config) { c.Logger.Format = "xml" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWorkerCountClampedToCPUs(t *testing.T) {
	p := PerformanceConfig{MaxWorkers: 10000}
	assert.Equal(t, runtime.NumCPU(), p.WorkerCount())

	p.MaxWorkers = 0
	assert.Equal(t, runtime.NumCPU(), p.WorkerCount())

	p.MaxWorkers = 1
	assert.Equal(t, 1, p.WorkerCount())
}

func TestMaxFileSizeBytes(t *testing.T) {
	s := ScanConfig{MaxFileSizeMB: 2}
	assert.Equal(t, int64(2*1024*1024), s.MaxFileSizeBytes())
}
