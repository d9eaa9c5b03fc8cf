package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDisconnected means the device vanished. Never retried.
	ErrDisconnected = errors.New("device disconnected")
	// ErrUnavailable means the device or one of its optional sensors cannot be used.
	ErrUnavailable = errors.New("device unavailable")
	// ErrPermissionDenied means the device cannot be opened or written with current rights.
	ErrPermissionDenied = errors.New("device permission denied")
	// ErrTransient marks a read/write fault that may succeed on retry.
	ErrTransient = errors.New("transient i/o error")
	// ErrOutOfRange is returned for offsets outside the addressable range.
	ErrOutOfRange = errors.New("offset out of range")
)

// Kind classifies a device error.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindDisconnected
	KindPermission
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindDisconnected:
		return "disconnected"
	case KindPermission:
		return "permission"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Retriable reports whether the wipe engine may retry an operation that
// failed with an error of this kind.
func (k Kind) Retriable() bool {
	return k == KindTransient
}

// Classify maps an error returned by a Device to its Kind. Sentinels are
// checked first, then platform errno values, then well-known messages.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrDisconnected):
		return KindDisconnected
	case errors.Is(err, ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrTransient):
		return KindTransient
	}
	if k := classifyErrno(err); k != KindUnknown {
		return k
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such device"),
		strings.Contains(msg, "device not configured"),
		strings.Contains(msg, "not ready"):
		return KindDisconnected
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "read-only file system"):
		return KindPermission
	case strings.Contains(msg, "input/output error"),
		strings.Contains(msg, "timed out"):
		return KindTransient
	}
	return KindUnknown
}

func rangeError(offset int64, size int, capacity int64, blockSize int) error {
	if offset < 0 || offset+int64(size) > capacity {
		return fmt.Errorf("%w: offset %d size %d capacity %d", ErrOutOfRange, offset, size, capacity)
	}
	if offset%int64(blockSize) != 0 || size != blockSize {
		return fmt.Errorf("%w: offset %d size %d not aligned to block size %d", ErrOutOfRange, offset, size, blockSize)
	}
	return nil
}
