package certificate

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotTerminal is returned when a running session is certified.
	ErrSessionNotTerminal = errors.New("session is not terminal")
	// ErrStoreConflict is returned by a Store when the certificate does not
	// extend the persisted tip. Stores wrap it; the chain maps it to a ChainError.
	ErrStoreConflict = errors.New("chain store conflict")
	// ErrNotFound is returned for unknown certificate ids.
	ErrNotFound = errors.New("certificate not found")
	// ErrReadOnly is returned when appending to a chain opened read-only.
	ErrReadOnly = errors.New("chain opened read-only")
)

// ChainError reports an append conflict or a malformed chain, with the
// 1-based position it concerns.
type ChainError struct {
	Position int
	Reason   string
	Err      error
}

func (e *ChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain error at position %d: %s: %v", e.Position, e.Reason, e.Err)
	}
	return fmt.Sprintf("chain error at position %d: %s", e.Position, e.Reason)
}

func (e *ChainError) Unwrap() error { return e.Err }

// Status is the outcome of a verification.
type Status string

const (
	StatusValid            Status = "valid"
	StatusPayloadTampered  Status = "payload_tampered"
	StatusSignatureInvalid Status = "signature_invalid"
	StatusBrokenLink       Status = "broken_link"
)

// VerificationError is the error form of a failed VerificationResult.
type VerificationError struct {
	Status        Status
	Position      int
	CertificateID string
	Detail        string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("certificate %s at position %d: %s: %s", e.CertificateID, e.Position, e.Status, e.Detail)
}
