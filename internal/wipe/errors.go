package wipe

import (
	"errors"
	"fmt"

	"wipecert/internal/device"
)

// ErrVerificationMismatch is returned when a read-back block differs from
// the final pass pattern.
var ErrVerificationMismatch = errors.New("verification mismatch")

// PolicyError rejects a policy before any block is written.
type PolicyError struct {
	Field  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid policy: %s: %s", e.Field, e.Reason)
}

// IOError is a transient block error that outlived the retry budget.
type IOError struct {
	Op       string // write or read
	Offset   int64
	Pass     int // 1-based, 0 during verification
	Attempts int
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s at offset %d (pass %d) failed after %d attempts: %v", e.Op, e.Offset, e.Pass, e.Attempts, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// DeviceError is a fatal device condition. It is never retried.
type DeviceError struct {
	Kind   device.Kind
	Op     string
	Offset int64
	Pass   int
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s during %s at offset %d (pass %d): %v", e.Kind, e.Op, e.Offset, e.Pass, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Failure is the terminal error detail stored in a session.
type Failure struct {
	Offset  int64  `json:"offset"`
	Pass    int    `json:"pass"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(err error) *Failure {
	f := &Failure{Message: err.Error(), Err: err, Kind: "error"}
	var ioErr *IOError
	var devErr *DeviceError
	var mismatch *mismatchError
	switch {
	case errors.As(err, &ioErr):
		f.Offset, f.Pass, f.Kind = ioErr.Offset, ioErr.Pass, "io"
	case errors.As(err, &devErr):
		f.Offset, f.Pass, f.Kind = devErr.Offset, devErr.Pass, devErr.Kind.String()
	case errors.As(err, &mismatch):
		f.Offset, f.Kind = mismatch.Offset, "verification"
	}
	return f
}

type mismatchError struct {
	Offset int64
}

func (e *mismatchError) Error() string {
	return fmt.Sprintf("%v at offset %d", ErrVerificationMismatch, e.Offset)
}

func (e *mismatchError) Unwrap() error { return ErrVerificationMismatch }
