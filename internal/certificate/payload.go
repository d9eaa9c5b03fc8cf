package certificate

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/near/borsh-go"

	"wipecert/internal/device"
	"wipecert/internal/wipe"
)

// PayloadVersion is bumped whenever the Payload layout changes.
const PayloadVersion uint8 = 2

// Payload is the canonical, signed content of a certificate. It is encoded
// with borsh, so field order is part of the format. Times are unix nanos
// and fractions parts per million to keep the encoding exact.
type Payload struct {
	Version            uint8               `borsh:"version"`
	SessionID          string              `borsh:"session_id"`
	Device             DeviceRecord        `borsh:"device"`
	Capacity           uint64              `borsh:"capacity"`
	BlockSize          uint32              `borsh:"block_size"`
	Policy             PolicyRecord        `borsh:"policy"`
	Status             string              `borsh:"status"`
	Incomplete         uint8               `borsh:"incomplete"`
	PassesCompleted    uint32              `borsh:"passes_completed"`
	TotalPasses        uint32              `borsh:"total_passes"`
	BytesProcessed     uint64              `borsh:"bytes_processed"`
	BlocksRetried      uint64              `borsh:"blocks_retried"`
	BlocksVerified     uint64              `borsh:"blocks_verified"`
	StartedAt          int64               `borsh:"started_at"`
	EndedAt            int64               `borsh:"ended_at"`
	VerificationDigest []byte              `borsh:"verification_digest"`
	Failure            FailureRecord       `borsh:"failure"`
	Temperatures       []TemperatureRecord `borsh:"temperatures"`
	Operator           string              `borsh:"operator"`
	WorkstationID      string              `borsh:"workstation_id"`
	Organization       string              `borsh:"organization"`
	Site               string              `borsh:"site"`
	Standard           string              `borsh:"standard"`
	IssuedAt           int64               `borsh:"issued_at"`
}

type DeviceRecord struct {
	Path       string `borsh:"path"`
	Serial     string `borsh:"serial"`
	Model      string `borsh:"model"`
	Interface  string `borsh:"interface"`
	MediaType  string `borsh:"media_type"`
	HardwareID string `borsh:"hardware_id"`
}

type PassRecord struct {
	Pattern string `borsh:"pattern"`
	Seed    uint64 `borsh:"seed"`
	HasSeed uint8  `borsh:"has_seed"`
}

type PolicyRecord struct {
	Level       string       `borsh:"level"`
	Passes      []PassRecord `borsh:"passes"`
	Seed        uint64       `borsh:"seed"`
	VerifyMode  string       `borsh:"verify_mode"`
	FractionPPM uint32       `borsh:"fraction_ppm"`
	RetryBudget uint32       `borsh:"retry_budget"`
}

// FailureRecord is empty for completed sessions.
type FailureRecord struct {
	Kind    string `borsh:"kind"`
	Message string `borsh:"message"`
	Offset  int64  `borsh:"offset"`
	Pass    uint32 `borsh:"pass"`
}

type TemperatureRecord struct {
	Pass         uint32 `borsh:"pass"`
	MilliCelsius int64  `borsh:"milli_celsius"`
	At           int64  `borsh:"at"`
}

// Meta is certificate context that does not come from the session.
type Meta struct {
	Operator      string
	WorkstationID string
	Organization  string
	Site          string
	// Standard names the sanitization standard the run claims, for
	// example "NIST SP 800-88 Rev. 1".
	Standard string
}

// PayloadFromSession captures a terminal session as a canonical payload.
func PayloadFromSession(s *wipe.Session, meta Meta, issuedAt time.Time) (*Payload, error) {
	if s == nil {
		return nil, fmt.Errorf("nil session")
	}
	if !s.State.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotTerminal, s.ID, s.State)
	}

	p := &Payload{
		Version:   PayloadVersion,
		SessionID: s.ID,
		Device: DeviceRecord{
			Path:       s.Device.Path,
			Serial:     s.Device.Serial,
			Model:      s.Device.Model,
			Interface:  s.Device.Interface,
			MediaType:  s.Device.MediaType,
			HardwareID: s.Device.HardwareID,
		},
		Capacity:  uint64(s.Capacity),
		BlockSize: uint32(s.BlockSize),
		Policy: PolicyRecord{
			Level:       s.Policy.Level,
			Seed:        s.Policy.Seed,
			VerifyMode:  string(s.Policy.Verification.Mode),
			FractionPPM: uint32(math.Round(s.Policy.Verification.Fraction * 1e6)),
			RetryBudget: uint32(s.Policy.RetryBudget),
		},
		Status:             string(s.State),
		PassesCompleted:    uint32(s.PassesCompleted),
		TotalPasses:        uint32(len(s.Policy.Passes)),
		BytesProcessed:     uint64(s.BytesProcessed),
		BlocksRetried:      uint64(s.BlocksRetried),
		BlocksVerified:     uint64(s.BlocksVerified),
		StartedAt:          s.StartedAt.UnixNano(),
		EndedAt:            s.EndedAt.UnixNano(),
		VerificationDigest: append([]byte{}, s.VerificationDigest...),
		Operator:           meta.Operator,
		WorkstationID:      meta.WorkstationID,
		Organization:       meta.Organization,
		Site:               meta.Site,
		Standard:           meta.Standard,
		IssuedAt:           issuedAt.UnixNano(),
	}
	if p.Policy.VerifyMode == "" {
		p.Policy.VerifyMode = string(wipe.VerifyNone)
	}
	if s.State != wipe.StateCompleted {
		p.Incomplete = 1
	}
	for _, pass := range s.Policy.Passes {
		rec := PassRecord{Pattern: string(pass.Pattern), Seed: pass.Seed}
		if pass.HasSeed {
			rec.HasSeed = 1
		}
		p.Policy.Passes = append(p.Policy.Passes, rec)
	}
	if s.Failure != nil {
		p.Failure = FailureRecord{
			Kind:    s.Failure.Kind,
			Message: s.Failure.Message,
			Offset:  s.Failure.Offset,
			Pass:    uint32(s.Failure.Pass),
		}
	}
	for _, t := range s.Temperatures {
		p.Temperatures = append(p.Temperatures, TemperatureRecord{
			Pass:         uint32(t.Pass),
			MilliCelsius: int64(math.Round(t.Celsius * 1000)),
			At:           t.At.UnixNano(),
		})
	}
	return p, nil
}

// EncodePayload returns the canonical bytes of p.
func EncodePayload(p *Payload) ([]byte, error) {
	b, err := borsh.Serialize(*p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload parses canonical payload bytes. Length prefixes are
// bounded by the input before borsh allocates anything.
func DecodePayload(b []byte) (*Payload, error) {
	var p Payload
	n, err := scanLayout(reflect.TypeOf(p), b, 0)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if n != len(b) {
		return nil, fmt.Errorf("decode payload: %d trailing bytes", len(b)-n)
	}
	if err := borsh.Deserialize(&p, b); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Version != PayloadVersion {
		return nil, fmt.Errorf("decode payload: unsupported version %d", p.Version)
	}
	return &p, nil
}

// scanLayout walks the borsh layout of t starting at off and returns the
// offset just past it.
func scanLayout(t reflect.Type, b []byte, off int) (int, error) {
	switch t.Kind() {
	case reflect.Uint8:
		return need(b, off, 1)
	case reflect.Uint32:
		return need(b, off, 4)
	case reflect.Uint64, reflect.Int64:
		return need(b, off, 8)
	case reflect.String, reflect.Slice:
		end, err := need(b, off, 4)
		if err != nil {
			return 0, err
		}
		n := int(binary.LittleEndian.Uint32(b[off:end]))
		if n > len(b)-end {
			return 0, fmt.Errorf("length %d at offset %d exceeds remaining %d bytes", n, off, len(b)-end)
		}
		if t.Kind() == reflect.String || t.Elem().Kind() == reflect.Uint8 {
			return end + n, nil
		}
		off = end
		for i := 0; i < n; i++ {
			if off, err = scanLayout(t.Elem(), b, off); err != nil {
				return 0, err
			}
		}
		return off, nil
	case reflect.Struct:
		var err error
		for i := 0; i < t.NumField(); i++ {
			if off, err = scanLayout(t.Field(i).Type, b, off); err != nil {
				return 0, err
			}
		}
		return off, nil
	}
	return 0, fmt.Errorf("unsupported kind %s", t.Kind())
}

func need(b []byte, off, n int) (int, error) {
	if n > len(b)-off {
		return 0, fmt.Errorf("truncated at offset %d", off)
	}
	return off + n, nil
}

// HashPayload returns SHA-256 of the canonical payload bytes.
func HashPayload(raw []byte) Hash {
	return sha256.Sum256(raw)
}

// SigningDigest is the value a certificate signature covers:
// SHA-256(payload || previousHash).
func SigningDigest(raw []byte, previous Hash) []byte {
	h := sha256.New()
	h.Write(raw)
	h.Write(previous[:])
	return h.Sum(nil)
}

// DeviceIdentity converts the record back to a device identity.
func (d DeviceRecord) DeviceIdentity() device.Identity {
	return device.Identity{
		Path:       d.Path,
		Serial:     d.Serial,
		Model:      d.Model,
		Interface:  d.Interface,
		MediaType:  d.MediaType,
		HardwareID: d.HardwareID,
	}
}

// Fraction returns the sampled verification fraction.
func (p PolicyRecord) Fraction() float64 {
	return float64(p.FractionPPM) / 1e6
}
