//go:build linux

package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var sysBlock = "/sys/block"

func pwrite(f *os.File, p []byte, off int64) (int, error) {
	return unix.Pwrite(int(f.Fd()), p, off)
}

func pread(f *os.File, p []byte, off int64) (int, error) {
	return unix.Pread(int(f.Fd()), p, off)
}

func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// probeGeometry asks the kernel for the device size and logical sector size.
func probeGeometry(f *os.File) (int64, int, error) {
	fd := int(f.Fd())
	size, err := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
	if err != nil {
		return 0, 0, fmt.Errorf("BLKGETSIZE64: %w", err)
	}
	sector, err := unix.IoctlGetInt(fd, unix.BLKSSZGET)
	if err != nil || sector <= 0 {
		sector = DefaultBlockSize
	}
	return int64(size), sector, nil
}

// probeIdentity collects model, serial and media type from sysfs.
func probeIdentity(path, name string) Identity {
	id := Identity{Path: path, MediaType: "Unknown"}
	base := filepath.Join(sysBlock, name)

	id.Model = readSysString(filepath.Join(base, "device", "model"))
	id.Serial = readSysString(filepath.Join(base, "device", "serial"))
	if id.Serial == "" {
		id.Serial = readSysString(filepath.Join(base, "serial"))
	}
	id.HardwareID = readSysString(filepath.Join(base, "device", "wwid"))
	if id.HardwareID == "" {
		id.HardwareID = readSysString(filepath.Join(base, "wwid"))
	}

	switch rot := readSysString(filepath.Join(base, "queue", "rotational")); rot {
	case "1":
		id.MediaType = "HDD"
	case "0":
		id.MediaType = "SSD"
	}

	switch {
	case strings.HasPrefix(name, "nvme"):
		id.Interface = "NVMe"
	case strings.HasPrefix(name, "mmcblk"):
		id.Interface = "MMC"
	case strings.HasPrefix(name, "sd"):
		if link, err := os.Readlink(base); err == nil && strings.Contains(link, "/usb") {
			id.Interface = "USB"
		} else {
			id.Interface = "SATA"
		}
	case strings.HasPrefix(name, "loop"):
		id.Interface = "Loop"
	default:
		id.Interface = "Unknown"
	}
	return id
}

// readTemperature reads temp1_input (millidegrees) from the first hwmon
// directory of the device.
func readTemperature(name string) (float64, error) {
	matches, _ := filepath.Glob(filepath.Join(sysBlock, name, "device", "hwmon", "hwmon*", "temp1_input"))
	if len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(sysBlock, name, "device", "hwmon*", "temp1_input"))
	}
	if len(matches) == 0 {
		return 0, ErrUnavailable
	}
	raw := readSysString(matches[0])
	milli, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return float64(milli) / 1000, nil
}

func readSysString(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
