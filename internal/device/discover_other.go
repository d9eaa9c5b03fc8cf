//go:build !linux

package device

import "fmt"

// List is only implemented on Linux.
func List() ([]Info, error) {
	return nil, fmt.Errorf("list block devices: %w", ErrUnavailable)
}
