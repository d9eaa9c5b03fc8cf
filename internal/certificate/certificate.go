package certificate

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"wipecert/internal/device"
)

// Hash is a SHA-256 digest. It marshals as lowercase hex.
type Hash [32]byte

// ZeroHash is the previous hash of the genesis certificate.
var ZeroHash Hash

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64 character hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("parse hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HexBytes marshals as lowercase hex instead of base64.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	d, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*b = d
	return nil
}

// PolicySummary is the human-facing view of the sanitization policy.
type PolicySummary struct {
	Level        string   `json:"level"`
	Passes       []string `json:"passes"`
	Verification string   `json:"verification"`
	RetryBudget  int      `json:"retry_budget"`
	Seed         uint64   `json:"seed"`
}

// Certificate is a signed, hash-linked record of one wipe session. The
// structured fields are a decoded view of Payload, which is what the hash
// and signature cover.
type Certificate struct {
	ID                    string          `json:"id"`
	SessionID             string          `json:"session_id"`
	DeviceIdentity        device.Identity `json:"device_identity"`
	Policy                PolicySummary   `json:"policy"`
	ResultStatus          string          `json:"result_status"`
	Incomplete            bool            `json:"incomplete"`
	StartTime             time.Time       `json:"start_time"`
	EndTime               time.Time       `json:"end_time"`
	PassCount             int             `json:"pass_count"`
	TotalPasses           int             `json:"total_passes"`
	BytesProcessed        int64           `json:"bytes_processed"`
	VerificationDigest    HexBytes        `json:"verification_digest"`
	Operator              string          `json:"operator,omitempty"`
	WorkstationID         string          `json:"workstation_id,omitempty"`
	Organization          string          `json:"organization,omitempty"`
	Site                  string          `json:"site,omitempty"`
	Standard              string          `json:"standard,omitempty"`
	IssuedAt              time.Time       `json:"issued_at"`
	PreviousHash          Hash            `json:"previous_hash"`
	PayloadHash           Hash            `json:"payload_hash"`
	Signature             []byte          `json:"signature"`
	SignatureAlgorithm    string          `json:"signature_algorithm"`
	VerificationReference string          `json:"verification_reference"`
	Payload               []byte          `json:"payload"`
}

// DeriveID returns the certificate id for a payload hash.
func DeriveID(h Hash) string {
	return "DWP-" + strings.ToUpper(hex.EncodeToString(h[:8]))
}

// VerificationReference returns the public lookup URL for id, or "" when
// no public URL is configured.
func VerificationReference(publicURL, id string) string {
	if publicURL == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + "/v1/certificates/" + id
}

// fill sets the structured fields from the decoded payload.
func (c *Certificate) fill(p *Payload) {
	c.SessionID = p.SessionID
	c.DeviceIdentity = p.Device.DeviceIdentity()
	c.Policy = summarize(p.Policy)
	c.ResultStatus = p.Status
	c.Incomplete = p.Incomplete != 0
	c.StartTime = time.Unix(0, p.StartedAt).UTC()
	c.EndTime = time.Unix(0, p.EndedAt).UTC()
	c.PassCount = int(p.PassesCompleted)
	c.TotalPasses = int(p.TotalPasses)
	c.BytesProcessed = int64(p.BytesProcessed)
	c.VerificationDigest = HexBytes(append([]byte{}, p.VerificationDigest...))
	c.Operator = p.Operator
	c.WorkstationID = p.WorkstationID
	c.Organization = p.Organization
	c.Site = p.Site
	c.Standard = p.Standard
	c.IssuedAt = time.Unix(0, p.IssuedAt).UTC()
}

func summarize(p PolicyRecord) PolicySummary {
	s := PolicySummary{
		Level:       p.Level,
		RetryBudget: int(p.RetryBudget),
		Seed:        p.Seed,
		Passes:      make([]string, 0, len(p.Passes)),
	}
	for _, pass := range p.Passes {
		if pass.HasSeed != 0 {
			s.Passes = append(s.Passes, fmt.Sprintf("%s:%d", pass.Pattern, pass.Seed))
		} else {
			s.Passes = append(s.Passes, pass.Pattern)
		}
	}
	s.Verification = p.VerifyMode
	if p.VerifyMode == "sampled" {
		s.Verification = fmt.Sprintf("sampled:%g", p.Fraction())
	}
	return s
}

// fieldView is the comparable projection of the structured fields.
type fieldView struct {
	ID, SessionID      string
	Device             device.Identity
	Level, Passes      string
	Verification       string
	RetryBudget        int
	Seed               uint64
	Status             string
	Incomplete         bool
	Start, End, Issued int64
	PassCount, Total   int
	Bytes              int64
	Digest             string
	Operator, Station  string
	Org, Site, Std     string
}

func (c *Certificate) view() fieldView {
	return fieldView{
		ID:           c.ID,
		SessionID:    c.SessionID,
		Device:       c.DeviceIdentity,
		Level:        c.Policy.Level,
		Passes:       strings.Join(c.Policy.Passes, ","),
		Verification: c.Policy.Verification,
		RetryBudget:  c.Policy.RetryBudget,
		Seed:         c.Policy.Seed,
		Status:       c.ResultStatus,
		Incomplete:   c.Incomplete,
		Start:        c.StartTime.UnixNano(),
		End:          c.EndTime.UnixNano(),
		Issued:       c.IssuedAt.UnixNano(),
		PassCount:    c.PassCount,
		Total:        c.TotalPasses,
		Bytes:        c.BytesProcessed,
		Digest:       hex.EncodeToString(c.VerificationDigest),
		Operator:     c.Operator,
		Station:      c.WorkstationID,
		Org:          c.Organization,
		Site:         c.Site,
		Std:          c.Standard,
	}
}

// Clone returns a deep copy of c.
func (c *Certificate) Clone() *Certificate {
	cp := *c
	cp.Policy.Passes = append([]string(nil), c.Policy.Passes...)
	cp.VerificationDigest = append(HexBytes(nil), c.VerificationDigest...)
	cp.Signature = append([]byte(nil), c.Signature...)
	cp.Payload = append([]byte(nil), c.Payload...)
	return &cp
}

// Assemble rebuilds a certificate from its persisted parts. The structured
// fields are decoded from raw only when raw still hashes to payloadHash;
// otherwise they stay empty and a verifier reports the payload as tampered.
// id and payloadHash are kept as stored.
func Assemble(id string, payloadHash, previous Hash, raw, sig []byte, alg, ref string) *Certificate {
	c := &Certificate{
		ID:                    id,
		PreviousHash:          previous,
		PayloadHash:           payloadHash,
		Signature:             sig,
		SignatureAlgorithm:    alg,
		VerificationReference: ref,
		Payload:               raw,
	}
	if HashPayload(raw) != payloadHash {
		return c
	}
	if p, err := DecodePayload(raw); err == nil {
		c.fill(p)
	}
	return c
}

// Decode parses the canonical payload carried by c.
func (c *Certificate) Decode() (*Payload, error) {
	return DecodePayload(c.Payload)
}
