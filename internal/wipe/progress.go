package wipe

import (
	"sync"
	"time"

	"wipecert/internal/device"
)

// ProgressKind tags a progress event.
type ProgressKind string

const (
	ProgressBlock        ProgressKind = "block"
	ProgressPassComplete ProgressKind = "pass_complete"
	ProgressVerifying    ProgressKind = "verifying"
	ProgressDone         ProgressKind = "done"
)

// ProgressEvent is a point-in-time view of a running session.
type ProgressEvent struct {
	Kind           ProgressKind             `json:"kind"`
	SessionID      string                   `json:"session_id"`
	State          State                    `json:"state"`
	Pass           int                      `json:"pass"` // 1-based, 0 before the first pass
	TotalPasses    int                      `json:"total_passes"`
	BytesProcessed int64                    `json:"bytes_processed"` // across all passes
	TotalBytes     int64                    `json:"total_bytes"`
	ETA            time.Duration            `json:"eta"`
	Temperature    device.TemperatureSample `json:"temperature"`
	Time           time.Time                `json:"time"`
}

// Milestone events are kept in preference to block events under backpressure.
func (e ProgressEvent) Milestone() bool {
	return e.Kind != ProgressBlock
}

// Percent returns BytesProcessed as a percentage of TotalBytes.
func (e ProgressEvent) Percent() float64 {
	if e.TotalBytes <= 0 {
		return 0
	}
	return float64(e.BytesProcessed) / float64(e.TotalBytes) * 100
}

// progressStream is a bounded ring of pending events drained into an
// unbuffered channel by a pump goroutine. publish never blocks.
type progressStream struct {
	mu      sync.Mutex
	ring    []ProgressEvent
	head    int
	size    int
	dropped int64
	closed  bool

	notify chan struct{}
	quit   chan struct{}
	once   sync.Once
	out    chan ProgressEvent
}

func newProgressStream(capacity int) *progressStream {
	if capacity < 1 {
		capacity = 1
	}
	s := &progressStream{
		ring:   make([]ProgressEvent, capacity),
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan ProgressEvent),
	}
	go s.pump()
	return s
}

func (s *progressStream) publish(ev ProgressEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.size == len(s.ring) {
		s.dropOne()
	}
	s.ring[(s.head+s.size)%len(s.ring)] = ev
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dropOne removes the oldest block event, or the oldest event if the ring
// holds only milestones. Caller holds mu.
func (s *progressStream) dropOne() {
	victim := 0
	for i := 0; i < s.size; i++ {
		if !s.ring[(s.head+i)%len(s.ring)].Milestone() {
			victim = i
			break
		}
	}
	for i := victim; i > 0; i-- {
		s.ring[(s.head+i)%len(s.ring)] = s.ring[(s.head+i-1)%len(s.ring)]
	}
	s.ring[s.head] = ProgressEvent{}
	s.head = (s.head + 1) % len(s.ring)
	s.size--
	s.dropped++
	progressDropped.Inc()
}

// close marks the stream finished. Pending events are still delivered
// before the output channel closes.
func (s *progressStream) close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// stop abandons undelivered events and ends the pump.
func (s *progressStream) stop() {
	s.once.Do(func() { close(s.quit) })
}

func (s *progressStream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.size > 0 {
			ev := s.ring[s.head]
			s.ring[s.head] = ProgressEvent{}
			s.head = (s.head + 1) % len(s.ring)
			s.size--
			s.mu.Unlock()

			select {
			case s.out <- ev:
			case <-s.quit:
				return
			}
			continue
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-s.notify:
		case <-s.quit:
			return
		}
	}
}

func (s *progressStream) droppedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
