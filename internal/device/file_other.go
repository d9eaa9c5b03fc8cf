//go:build !linux

package device

import (
	"fmt"
	"io"
	"os"
)

func pwrite(f *os.File, p []byte, off int64) (int, error) {
	return f.WriteAt(p, off)
}

func pread(f *os.File, p []byte, off int64) (int, error) {
	return f.ReadAt(p, off)
}

func datasync(f *os.File) error {
	return f.Sync()
}

// probeGeometry falls back to seeking to the end of the device.
func probeGeometry(f *os.File) (int64, int, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("seek end: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("seek start: %w", err)
	}
	return size, DefaultBlockSize, nil
}

func probeIdentity(path, name string) Identity {
	return Identity{Path: path, Interface: "Unknown", MediaType: "Unknown"}
}

func readTemperature(name string) (float64, error) {
	return 0, ErrUnavailable
}
