package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, LevelPurge, cfg.Wipe.DefaultLevel)
	assert.Equal(t, []string{"clear", "destroy", "purge"}, cfg.LevelNames())
	assert.Equal(t, 500*time.Millisecond, cfg.ProgressInterval())
	assert.Zero(t, cfg.MaxDuration())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Wipe, cfg.Wipe)
}

func TestLoadMergesLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wipecert.yaml")
	data := []byte(`
wipe:
  default_level: quick
  max_concurrent: 3
chain:
  organization: Ministry of Mines
  site: Main Lab
levels:
  quick:
    passes: zero
    verification: none
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Wipe.MaxConcurrent)
	assert.Equal(t, "Ministry of Mines", cfg.Chain.Organization)
	assert.Equal(t, "Main Lab", cfg.Chain.Site)
	assert.Equal(t, "NIST SP 800-88 Rev. 1", cfg.Chain.Standard)

	quick, err := cfg.Level("quick")
	require.NoError(t, err)
	assert.Equal(t, "none", quick.Verification)

	destroy, err := cfg.Level(LevelDestroy)
	require.NoError(t, err)
	assert.Equal(t, "full", destroy.Verification)

	_, err = cfg.Level("shred")
	assert.Error(t, err)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://wipecert@localhost/wipecert")
	t.Setenv(EnvSigningKey, "/etc/wipecert/key.pem")
	t.Setenv(EnvListenAddr, "127.0.0.1:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Chain.Backend)
	assert.Equal(t, "postgres://wipecert@localhost/wipecert", cfg.Chain.DatabaseURL)
	assert.Equal(t, "/etc/wipecert/key.pem", cfg.Signing.KeyFile)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wipe: [unterminated"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retry budget", func(c *Config) { c.Wipe.RetryBudget = -1 }},
		{"zero concurrency", func(c *Config) { c.Wipe.MaxConcurrent = 0 }},
		{"negative speed", func(c *Config) { c.Wipe.MaxSpeedMBps = -5 }},
		{"odd block size", func(c *Config) { c.Wipe.BlockSize = 1000 }},
		{"bad interval", func(c *Config) { c.Wipe.ProgressInterval = "soon" }},
		{"unknown default level", func(c *Config) { c.Wipe.DefaultLevel = "shred" }},
		{"level without passes", func(c *Config) { c.Levels[LevelClear] = LevelPreset{Verification: "none"} }},
		{"unknown backend", func(c *Config) { c.Chain.Backend = "s3" }},
		{"postgres without url", func(c *Config) { c.Chain.Backend = BackendPostgres }},
		{"file without path", func(c *Config) { c.Chain.Path = "" }},
		{"bad algorithm", func(c *Config) { c.Signing.Algorithm = "RSA" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "TRACE" }},
		{"bad report format", func(c *Config) { c.Reporting.Format = "pdf" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wipecert.yaml")
	cfg := Default()
	cfg.Wipe.RetryBudget = 7
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Wipe.RetryBudget)
	assert.Equal(t, cfg.Levels, loaded.Levels)
}

func TestApplyProfile(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyProfile(cfg, "safe"))
	assert.Equal(t, 10.0, cfg.Wipe.MaxSpeedMBps)
	assert.True(t, cfg.Wipe.SyncWrites)
	require.NoError(t, Validate(cfg))

	assert.Error(t, ApplyProfile(cfg, "ludicrous"))
}
