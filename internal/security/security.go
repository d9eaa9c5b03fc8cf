package security

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"wipecert/internal/config"
	"wipecert/internal/device"
)

var (
	ErrNotRoot   = errors.New("root privileges are required")
	ErrExcluded  = errors.New("device is excluded by configuration")
	ErrProtected = errors.New("device backs a protected mount")
)

// MountsFile is read to find mounted devices.
var MountsFile = "/proc/self/mounts"

// SecurityChecks verifies the process may wipe devices at all.
func SecurityChecks(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.Security.RequireRoot && !IsRoot() {
		return ErrNotRoot
	}
	return nil
}

// IsRoot reports whether the process runs with euid 0. It is always false on
// Windows.
func IsRoot() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	return os.Geteuid() == 0
}

// ShouldSkipDevice reports whether the device matches an excluded_devices
// entry by path or serial.
func ShouldSkipDevice(cfg *config.Config, id device.Identity) bool {
	if cfg == nil {
		return false
	}
	for _, excluded := range cfg.Security.ExcludedDevices {
		if excluded == "" {
			continue
		}
		if excluded == id.Path || (id.Serial != "" && excluded == id.Serial) {
			return true
		}
	}
	return false
}

// CheckTarget refuses devices that are excluded or that back (directly or
// through a partition) one of the protected mount points.
func CheckTarget(cfg *config.Config, id device.Identity) error {
	if ShouldSkipDevice(cfg, id) {
		return fmt.Errorf("%s: %w", id.Path, ErrExcluded)
	}
	if cfg == nil || len(cfg.Security.ProtectedMounts) == 0 || !strings.HasPrefix(id.Path, "/dev/") {
		return nil
	}

	f, err := os.Open(MountsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read mounts: %w", err)
	}
	defer f.Close()
	mounts, err := parseMounts(f)
	if err != nil {
		return err
	}

	target := resolve(id.Path)
	for _, m := range mounts {
		if !isProtected(cfg.Security.ProtectedMounts, m.point) {
			continue
		}
		src := resolve(m.source)
		if src == target || isPartitionOf(src, target) {
			return fmt.Errorf("%s is mounted at %s: %w", id.Path, m.point, ErrProtected)
		}
	}
	return nil
}

type mount struct {
	source, point string
}

func parseMounts(r io.Reader) ([]mount, error) {
	var mounts []mount
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		mounts = append(mounts, mount{source: fields[0], point: unescape(fields[1])})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mounts: %w", err)
	}
	return mounts, nil
}

// unescape undoes the octal escaping of spaces in mount points.
func unescape(s string) string {
	return strings.NewReplacer(`\040`, " ", `\011`, "\t", `\134`, `\`).Replace(s)
}

func isProtected(protected []string, point string) bool {
	for _, p := range protected {
		if filepath.Clean(p) == filepath.Clean(point) {
			return true
		}
	}
	return false
}

// isPartitionOf matches /dev/sda1 to /dev/sda and /dev/nvme0n1p2 to /dev/nvme0n1.
func isPartitionOf(part, disk string) bool {
	if !strings.HasPrefix(part, disk) || len(part) == len(disk) {
		return false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(part, disk), "p")
	if rest == "" {
		return false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func resolve(path string) string {
	if r, err := filepath.EvalSymlinks(path); err == nil {
		return r
	}
	return path
}
