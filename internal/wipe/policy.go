package wipe

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"wipecert/internal/config"
	"wipecert/internal/device"
)

// Pattern is the content written by a single pass.
type Pattern string

const (
	PatternZero       Pattern = "zero"
	PatternOne        Pattern = "one"
	PatternRandom     Pattern = "random"
	PatternComplement Pattern = "complement"
)

func (p Pattern) valid() bool {
	switch p {
	case PatternZero, PatternOne, PatternRandom, PatternComplement:
		return true
	}
	return false
}

// PassSpec describes one overwrite pass. A random pass uses Seed when
// HasSeed is set and the policy seed otherwise.
type PassSpec struct {
	Pattern Pattern `json:"pattern"`
	Seed    uint64  `json:"seed,omitempty"`
	HasSeed bool    `json:"has_seed,omitempty"`
}

func (p PassSpec) String() string {
	if p.HasSeed {
		return fmt.Sprintf("%s:%d", p.Pattern, p.Seed)
	}
	return string(p.Pattern)
}

// VerifyMode selects the read-back strategy run after the final pass.
type VerifyMode string

const (
	VerifyNone    VerifyMode = "none"
	VerifySampled VerifyMode = "sampled"
	VerifyFull    VerifyMode = "full"
)

type VerificationSpec struct {
	Mode     VerifyMode `json:"mode"`
	Fraction float64    `json:"fraction,omitempty"`
}

func (v VerificationSpec) String() string {
	if v.Mode == VerifySampled {
		return fmt.Sprintf("sampled:%g", v.Fraction)
	}
	if v.Mode == "" {
		return string(VerifyNone)
	}
	return string(v.Mode)
}

// Policy is an immutable description of how a device is sanitized.
type Policy struct {
	Level        string           `json:"level"`
	Passes       []PassSpec       `json:"passes"`
	Verification VerificationSpec `json:"verification"`
	RetryBudget  int              `json:"retry_budget"`
	Seed         uint64           `json:"seed"`
}

// PassSeed returns the seed that drives pass i.
func (p Policy) PassSeed(i int) uint64 {
	if i >= 0 && i < len(p.Passes) && p.Passes[i].HasSeed {
		return p.Passes[i].Seed
	}
	return p.Seed
}

// Validate checks the policy against the device geometry. It never touches
// the device contents.
func (p Policy) Validate(dev device.Device) error {
	if len(p.Passes) == 0 {
		return &PolicyError{Field: "passes", Reason: "at least one pass is required"}
	}
	for i, pass := range p.Passes {
		if !pass.Pattern.valid() {
			return &PolicyError{Field: fmt.Sprintf("passes[%d]", i), Reason: fmt.Sprintf("unknown pattern %q", pass.Pattern)}
		}
		if pass.HasSeed && pass.Pattern != PatternRandom {
			return &PolicyError{Field: fmt.Sprintf("passes[%d]", i), Reason: "only random passes take a seed"}
		}
	}
	if p.Passes[0].Pattern == PatternComplement {
		return &PolicyError{Field: "passes[0]", Reason: "complement requires a previous pass"}
	}

	switch p.Verification.Mode {
	case VerifyNone, VerifyFull, "":
	case VerifySampled:
		f := p.Verification.Fraction
		if math.IsNaN(f) || f <= 0 || f > 1 {
			return &PolicyError{Field: "verification.fraction", Reason: fmt.Sprintf("must be in (0, 1], got %g", f)}
		}
	default:
		return &PolicyError{Field: "verification.mode", Reason: fmt.Sprintf("unknown mode %q", p.Verification.Mode)}
	}

	if p.RetryBudget < 0 {
		return &PolicyError{Field: "retry_budget", Reason: "must not be negative"}
	}

	if dev == nil {
		return &PolicyError{Field: "device", Reason: "no device"}
	}
	capacity, bs := dev.Capacity(), dev.BlockSize()
	if bs <= 0 {
		return &PolicyError{Field: "device.block_size", Reason: fmt.Sprintf("invalid block size %d", bs)}
	}
	if capacity <= 0 {
		return &PolicyError{Field: "device.capacity", Reason: "device reports zero capacity"}
	}
	if capacity%int64(bs) != 0 {
		return &PolicyError{Field: "device.capacity", Reason: fmt.Sprintf("capacity %d is not a multiple of block size %d", capacity, bs)}
	}
	return nil
}

// ParsePasses parses a comma-separated pass list such as
// "zero,one,random:7,complement". A random pass may carry its own seed.
func ParsePasses(s string) ([]PassSpec, error) {
	var passes []PassSpec
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		name, arg, hasArg := strings.Cut(field, ":")
		spec := PassSpec{Pattern: Pattern(strings.ToLower(strings.TrimSpace(name)))}
		if !spec.Pattern.valid() {
			return nil, &PolicyError{Field: "passes", Reason: fmt.Sprintf("unknown pattern %q", name)}
		}
		if hasArg {
			if spec.Pattern != PatternRandom {
				return nil, &PolicyError{Field: "passes", Reason: fmt.Sprintf("pattern %q takes no argument", name)}
			}
			seed, err := strconv.ParseUint(strings.TrimSpace(arg), 0, 64)
			if err != nil {
				return nil, &PolicyError{Field: "passes", Reason: fmt.Sprintf("invalid seed %q", arg)}
			}
			spec.Seed, spec.HasSeed = seed, true
		}
		passes = append(passes, spec)
	}
	if len(passes) == 0 {
		return nil, &PolicyError{Field: "passes", Reason: "empty pass list"}
	}
	return passes, nil
}

// ParseVerification parses "none", "full" or "sampled:<fraction>". A bare
// "sampled" reads 10% of the blocks; a fraction above 1 is read as a percentage.
func ParseVerification(s string) (VerificationSpec, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch VerifyMode(name) {
	case "", VerifyNone:
		return VerificationSpec{Mode: VerifyNone}, nil
	case VerifyFull:
		return VerificationSpec{Mode: VerifyFull}, nil
	case VerifySampled:
		if !hasArg {
			return VerificationSpec{Mode: VerifySampled, Fraction: 0.1}, nil
		}
		arg = strings.TrimSuffix(strings.TrimSpace(arg), "%")
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return VerificationSpec{}, &PolicyError{Field: "verification", Reason: fmt.Sprintf("invalid fraction %q", arg)}
		}
		if f > 1 {
			f /= 100
		}
		if f <= 0 || f > 1 {
			return VerificationSpec{}, &PolicyError{Field: "verification", Reason: fmt.Sprintf("fraction out of range: %s", arg)}
		}
		return VerificationSpec{Mode: VerifySampled, Fraction: f}, nil
	}
	return VerificationSpec{}, &PolicyError{Field: "verification", Reason: fmt.Sprintf("unknown mode %q", name)}
}

// PolicyFromConfig builds the policy for a configured sanitization level.
func PolicyFromConfig(cfg *config.Config, level string, seed uint64) (Policy, error) {
	preset, err := cfg.Level(level)
	if err != nil {
		return Policy{}, &PolicyError{Field: "level", Reason: err.Error()}
	}
	passes, err := ParsePasses(preset.Passes)
	if err != nil {
		return Policy{}, err
	}
	verification, err := ParseVerification(preset.Verification)
	if err != nil {
		return Policy{}, err
	}
	return Policy{
		Level:        level,
		Passes:       passes,
		Verification: verification,
		RetryBudget:  cfg.Wipe.RetryBudget,
		Seed:         seed,
	}, nil
}
