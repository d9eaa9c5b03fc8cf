package wipe

import (
	"time"

	"wipecert/internal/device"
)

// State is the lifecycle position of a session.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateOverwriting State = "overwriting"
	StateVerifying   State = "verifying"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateAborted     State = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// TemperatureReading is a sensor sample taken at a pass boundary.
type TemperatureReading struct {
	Pass    int       `json:"pass"`
	Celsius float64   `json:"celsius"`
	At      time.Time `json:"at"`
}

// Session records one wipe of one device. Only the engine mutates it;
// callers get copies through Result.
type Session struct {
	ID                 string               `json:"id"`
	Device             device.Identity      `json:"device"`
	Capacity           int64                `json:"capacity"`
	BlockSize          int                  `json:"block_size"`
	Policy             Policy               `json:"policy"`
	State              State                `json:"state"`
	CurrentPass        int                  `json:"current_pass"`
	PassesCompleted    int                  `json:"passes_completed"`
	BytesProcessed     int64                `json:"bytes_processed"`
	BlocksRetried      int64                `json:"blocks_retried"`
	BlocksVerified     int64                `json:"blocks_verified"`
	VerificationDigest []byte               `json:"verification_digest,omitempty"`
	Temperatures       []TemperatureReading `json:"temperatures,omitempty"`
	StartedAt          time.Time            `json:"started_at"`
	EndedAt            time.Time            `json:"ended_at"`
	Failure            *Failure             `json:"failure,omitempty"`
}

// TotalBytes is the number of bytes all passes write together.
func (s *Session) TotalBytes() int64 {
	return s.Capacity * int64(len(s.Policy.Passes))
}

func (s *Session) clone() *Session {
	c := *s
	c.Policy.Passes = append([]PassSpec(nil), s.Policy.Passes...)
	c.VerificationDigest = append([]byte(nil), s.VerificationDigest...)
	c.Temperatures = append([]TemperatureReading(nil), s.Temperatures...)
	if len(s.VerificationDigest) == 0 {
		c.VerificationDigest = nil
	}
	if s.Failure != nil {
		f := *s.Failure
		c.Failure = &f
	}
	return &c
}

// Result is the terminal outcome of a session.
type Result struct {
	session *Session
}

// Session returns a copy of the terminal session.
func (r *Result) Session() *Session {
	return r.session.clone()
}

func (r *Result) ID() string { return r.session.ID }

func (r *Result) State() State { return r.session.State }

func (r *Result) Failure() *Failure { return r.session.Failure }

// Incomplete reports whether the session ended in any state but Completed.
func (r *Result) Incomplete() bool {
	return r.session.State != StateCompleted
}

func (r *Result) Duration() time.Duration {
	return r.session.EndedAt.Sub(r.session.StartedAt)
}

// SpeedMBps is the average write throughput of the session.
func (r *Result) SpeedMBps() float64 {
	secs := r.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(r.session.BytesProcessed) / (1024 * 1024) / secs
}
