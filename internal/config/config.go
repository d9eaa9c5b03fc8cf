package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is read.
const (
	EnvDatabaseURL = "WIPECERT_DB_URL"
	EnvSigningKey  = "WIPECERT_SIGNING_KEY"
	EnvListenAddr  = "WIPECERT_LISTEN_ADDR"
)

// Chain store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config is the whole wipecert configuration file.
type Config struct {
	Security  SecurityConfig         `yaml:"security"`
	Wipe      WipeConfig             `yaml:"wipe"`
	Levels    map[string]LevelPreset `yaml:"levels"`
	Chain     ChainConfig            `yaml:"chain"`
	Signing   SigningConfig          `yaml:"signing"`
	Logging   LoggingConfig          `yaml:"logging"`
	Reporting ReportingConfig        `yaml:"reporting"`
	Server    ServerConfig           `yaml:"server"`
}

type SecurityConfig struct {
	RequireRoot         bool     `yaml:"require_root"`
	RequireConfirmation bool     `yaml:"require_confirmation"`
	ExcludedDevices     []string `yaml:"excluded_devices"`
	ProtectedMounts     []string `yaml:"protected_mounts"`
}

type WipeConfig struct {
	DefaultLevel     string  `yaml:"default_level"`
	BlockSize        int     `yaml:"block_size"` // 0 = detect
	RetryBudget      int     `yaml:"retry_budget"`
	MaxConcurrent    int     `yaml:"max_concurrent"`
	MaxSpeedMBps     float64 `yaml:"max_speed_mbps"` // 0 = unlimited
	ProgressInterval string  `yaml:"progress_interval"`
	ProgressBuffer   int     `yaml:"progress_buffer"`
	MaxDuration      string  `yaml:"max_duration"`
	SyncWrites       bool    `yaml:"sync_writes"`
	SimulateMemoryMB int64   `yaml:"simulate_memory_mb"`
}

// LevelPreset maps a sanitization level to its pass list and verification
// mode, in the textual form accepted by the wipe policy parser.
type LevelPreset struct {
	Description  string `yaml:"description"`
	Passes       string `yaml:"passes"`
	Verification string `yaml:"verification"`
}

type ChainConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	DatabaseURL   string `yaml:"database_url"`
	PublicURL     string `yaml:"public_url"`
	WorkstationID string `yaml:"workstation_id"`
	Organization  string `yaml:"organization"`
	Site          string `yaml:"site"`
	Standard      string `yaml:"standard"`
}

type SigningConfig struct {
	Algorithm string `yaml:"algorithm"`
	KeyFile   string `yaml:"key_file"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

type ReportingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	LocalPath string `yaml:"local_path"`
	Format    string `yaml:"format"`
}

type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}

	return &Config{
		Security: SecurityConfig{
			RequireRoot:         true,
			RequireConfirmation: true,
			ExcludedDevices:     []string{},
			ProtectedMounts:     []string{"/", "/boot", "/boot/efi"},
		},
		Wipe: WipeConfig{
			DefaultLevel:     LevelPurge,
			BlockSize:        0,
			RetryBudget:      3,
			MaxConcurrent:    2,
			MaxSpeedMBps:     0,
			ProgressInterval: "500ms",
			ProgressBuffer:   64,
			MaxDuration:      "",
			SyncWrites:       false,
			SimulateMemoryMB: 256,
		},
		Levels: DefaultLevels(),
		Chain: ChainConfig{
			Backend:       BackendFile,
			Path:          "./data/chain.jsonl",
			PublicURL:     "http://localhost:8080",
			WorkstationID: host,
			Standard:      "NIST SP 800-88 Rev. 1",
		},
		Signing: SigningConfig{
			Algorithm: "ECDSA-P256-SHA256",
			KeyFile:   "./keys/signing.pem",
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			File:    "",
			Console: true,
		},
		Reporting: ReportingConfig{
			Enabled:   true,
			LocalPath: "./reports",
			Format:    "json",
		},
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},
	}
}

// Load reads the configuration from path. A missing file yields the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// a file that names only some levels keeps the built-in ones
	for name, preset := range DefaultLevels() {
		if _, ok := cfg.Levels[name]; !ok {
			if cfg.Levels == nil {
				cfg.Levels = make(map[string]LevelPreset)
			}
			cfg.Levels[name] = preset
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Chain.DatabaseURL = v
		cfg.Chain.Backend = BackendPostgres
	}
	if v := os.Getenv(EnvSigningKey); v != "" {
		cfg.Signing.KeyFile = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
}

// Validate checks the configuration for values the rest of the program
// cannot work with.
func Validate(cfg *Config) error {
	if cfg.Wipe.RetryBudget < 0 || cfg.Wipe.RetryBudget > 100 {
		return fmt.Errorf("retry budget must be between 0 and 100, got %d", cfg.Wipe.RetryBudget)
	}
	if cfg.Wipe.MaxConcurrent <= 0 || cfg.Wipe.MaxConcurrent > 32 {
		return fmt.Errorf("max concurrent must be between 1 and 32, got %d", cfg.Wipe.MaxConcurrent)
	}
	if cfg.Wipe.MaxSpeedMBps < 0 {
		return fmt.Errorf("max speed cannot be negative, got %f", cfg.Wipe.MaxSpeedMBps)
	}
	if cfg.Wipe.BlockSize < 0 || (cfg.Wipe.BlockSize > 0 && cfg.Wipe.BlockSize%512 != 0) {
		return fmt.Errorf("block size must be 0 or a multiple of 512, got %d", cfg.Wipe.BlockSize)
	}
	if cfg.Wipe.ProgressBuffer <= 0 {
		return fmt.Errorf("progress buffer must be positive, got %d", cfg.Wipe.ProgressBuffer)
	}
	if cfg.Wipe.SimulateMemoryMB < 0 {
		return fmt.Errorf("simulate memory cannot be negative, got %d", cfg.Wipe.SimulateMemoryMB)
	}
	for name, s := range map[string]string{
		"progress interval": cfg.Wipe.ProgressInterval,
		"max duration":      cfg.Wipe.MaxDuration,
		"read timeout":      cfg.Server.ReadTimeout,
		"write timeout":     cfg.Server.WriteTimeout,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid %s format: %s", name, s)
		}
	}

	if len(cfg.Levels) == 0 {
		return fmt.Errorf("no sanitization levels configured")
	}
	for name, preset := range cfg.Levels {
		if strings.TrimSpace(preset.Passes) == "" {
			return fmt.Errorf("level %q has no passes", name)
		}
	}
	if _, ok := cfg.Levels[cfg.Wipe.DefaultLevel]; !ok {
		return fmt.Errorf("default level %q is not configured", cfg.Wipe.DefaultLevel)
	}

	switch cfg.Chain.Backend {
	case BackendMemory:
	case BackendFile:
		if cfg.Chain.Path == "" {
			return fmt.Errorf("chain backend %q requires chain.path", BackendFile)
		}
	case BackendPostgres:
		if cfg.Chain.DatabaseURL == "" {
			return fmt.Errorf("chain backend %q requires chain.database_url or %s", BackendPostgres, EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("invalid chain backend: %s", cfg.Chain.Backend)
	}
	if cfg.Chain.PublicURL != "" {
		if _, err := url.ParseRequestURI(cfg.Chain.PublicURL); err != nil {
			return fmt.Errorf("invalid chain public url %q: %w", cfg.Chain.PublicURL, err)
		}
	}

	switch cfg.Signing.Algorithm {
	case "ECDSA-P256-SHA256", "Ed25519":
	default:
		return fmt.Errorf("invalid signing algorithm: %s", cfg.Signing.Algorithm)
	}

	validLevels := map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	if cfg.Reporting.Enabled && cfg.Reporting.Format != "json" && cfg.Reporting.Format != "txt" {
		return fmt.Errorf("unsupported report format: %s", cfg.Reporting.Format)
	}

	for _, m := range cfg.Security.ProtectedMounts {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("empty protected mount")
		}
	}
	return nil
}

// Save validates cfg and writes it to path as YAML.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MaxDuration returns the session time limit, 0 for none.
func (c *Config) MaxDuration() time.Duration {
	return parseDuration(c.Wipe.MaxDuration, 0)
}

// ProgressInterval returns the minimum time between block progress events.
func (c *Config) ProgressInterval() time.Duration {
	return parseDuration(c.Wipe.ProgressInterval, 500*time.Millisecond)
}

func (c *Config) ReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
