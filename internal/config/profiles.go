package config

import (
	"fmt"
	"sort"
)

// Sanitization levels.
const (
	LevelClear   = "clear"
	LevelPurge   = "purge"
	LevelDestroy = "destroy"
)

// DefaultLevels returns the built-in level presets.
func DefaultLevels() map[string]LevelPreset {
	return map[string]LevelPreset{
		LevelClear: {
			Description:  "single zero pass, sampled read-back",
			Passes:       "zero",
			Verification: "sampled:0.1",
		},
		LevelPurge: {
			Description:  "zero, one and pseudorandom passes, sampled read-back",
			Passes:       "zero,one,random",
			Verification: "sampled:0.1",
		},
		LevelDestroy: {
			Description:  "seven passes ending in pseudorandom data, full read-back",
			Passes:       "zero,one,random,complement,random,zero,random",
			Verification: "full",
		},
	}
}

// Level returns the preset configured for name.
func (c *Config) Level(name string) (LevelPreset, error) {
	p, ok := c.Levels[name]
	if !ok {
		return LevelPreset{}, fmt.Errorf("unknown sanitization level: %s", name)
	}
	return p, nil
}

// LevelNames returns the configured level names in sorted order.
func (c *Config) LevelNames() []string {
	names := make([]string, 0, len(c.Levels))
	for name := range c.Levels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyProfile applies a throughput profile to the wipe section.
func ApplyProfile(cfg *Config, profile string) error {
	switch profile {
	case "safe":
		cfg.Wipe.MaxSpeedMBps = 10
		cfg.Wipe.MaxConcurrent = 1
		cfg.Wipe.SyncWrites = true
		cfg.Wipe.RetryBudget = 5
	case "balanced":
		cfg.Wipe.MaxSpeedMBps = 50
		cfg.Wipe.MaxConcurrent = 2
		cfg.Wipe.SyncWrites = false
		cfg.Wipe.RetryBudget = 3
	case "fast":
		cfg.Wipe.MaxSpeedMBps = 0 // unlimited
		cfg.Wipe.MaxConcurrent = 4
		cfg.Wipe.SyncWrites = false
		cfg.Wipe.RetryBudget = 2
	default:
		return fmt.Errorf("unknown profile: %s", profile)
	}
	return nil
}
