package wipe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wipecert/internal/config"
	"wipecert/internal/device"
	"wipecert/internal/logging"
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	Logger *logging.EnterpriseLogger

	// A block progress event is emitted once ProgressBytes were written or
	// ProgressInterval elapsed since the previous one, whichever comes first.
	ProgressInterval time.Duration
	ProgressBytes    int64
	// ProgressBuffer bounds the per-session event ring.
	ProgressBuffer int

	MaxSpeedMBps float64       // 0 = unlimited
	MaxDuration  time.Duration // 0 = no limit; exceeding it aborts the session
	RetryDelay   time.Duration // pause before each retry of a transient error
	SyncWrites   bool          // flush the device after every pass

	Clock func() time.Time
	NewID func() string
}

// OptionsFromConfig maps the wipe section of the configuration to Options.
func OptionsFromConfig(cfg *config.Config, logger *logging.EnterpriseLogger) Options {
	return Options{
		Logger:           logger,
		ProgressInterval: cfg.ProgressInterval(),
		ProgressBuffer:   cfg.Wipe.ProgressBuffer,
		MaxSpeedMBps:     cfg.Wipe.MaxSpeedMBps,
		MaxDuration:      cfg.MaxDuration(),
		RetryDelay:       100 * time.Millisecond,
		SyncWrites:       cfg.Wipe.SyncWrites,
	}
}

// Engine runs wipe sessions. It holds no per-session state, so one Engine
// can drive many devices at once.
type Engine struct {
	opts Options
	log  *logging.EnterpriseLogger
}

func NewEngine(opts Options) *Engine {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 500 * time.Millisecond
	}
	if opts.ProgressBytes <= 0 {
		opts.ProgressBytes = 4 << 20
	}
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = 64
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{opts: opts, log: logging.OrNop(opts.Logger)}
}

// ExecuteWipe wipes dev according to policy and blocks until the session is
// terminal. The only error returned is a *PolicyError; device failures and
// cancellation are reported through the Result.
func (e *Engine) ExecuteWipe(ctx context.Context, dev device.Device, policy Policy) (*Result, error) {
	r, err := e.prepare(dev, policy, nil)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx), nil
}

// Handle tracks a session started with Start.
type Handle struct {
	id     string
	stream *progressStream
	done   chan struct{}
	result *Result
}

func (h *Handle) ID() string { return h.id }

// Progress returns the session's event channel. It is closed after the
// done event.
func (h *Handle) Progress() <-chan ProgressEvent { return h.stream.out }

// Done is closed when the session is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the session is terminal and returns its result.
func (h *Handle) Wait() *Result {
	<-h.done
	return h.result
}

// Dropped returns how many progress events were discarded because the
// consumer fell behind.
func (h *Handle) Dropped() int64 { return h.stream.droppedCount() }

// Close releases the progress pump for callers that stop reading Progress.
// It does not cancel the session.
func (h *Handle) Close() { h.stream.stop() }

// Start validates policy and runs the session in its own goroutine.
func (e *Engine) Start(ctx context.Context, dev device.Device, policy Policy) (*Handle, error) {
	stream := newProgressStream(e.opts.ProgressBuffer)
	r, err := e.prepare(dev, policy, stream)
	if err != nil {
		stream.close()
		return nil, err
	}

	h := &Handle{id: r.sess.ID, stream: stream, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.result = r.execute(ctx)
	}()
	return h, nil
}

func (e *Engine) prepare(dev device.Device, policy Policy, stream *progressStream) (*runner, error) {
	if err := policy.Validate(dev); err != nil {
		return nil, err
	}
	gen, err := NewGenerator(policy, dev.BlockSize())
	if err != nil {
		return nil, &PolicyError{Field: "passes", Reason: err.Error()}
	}

	id := e.opts.NewID()
	sess := &Session{
		ID:        id,
		Device:    dev.Identity(),
		Capacity:  dev.Capacity(),
		BlockSize: dev.BlockSize(),
		Policy:    policy,
		State:     StateIdle,
	}
	sess.Policy.Passes = append([]PassSpec(nil), policy.Passes...)

	return &runner{
		sess:   sess,
		dev:    dev,
		gen:    gen,
		opts:   e.opts,
		log:    e.log.With("session", id, "device", sess.Device.Path),
		stream: stream,
	}, nil
}

// Job is one device of a WipeAll batch.
type Job struct {
	Device     device.Device
	Policy     Policy
	OnProgress func(ProgressEvent) // optional, called from the job's goroutine
}

// WipeAll wipes every job's device concurrently, at most limit at a time
// (0 = no limit). All policies are validated before any device is written.
// A failing device does not stop the others; results are in job order.
func (e *Engine) WipeAll(ctx context.Context, jobs []Job, limit int) ([]*Result, error) {
	for i, j := range jobs {
		if err := j.Policy.Validate(j.Device); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}

	results := make([]*Result, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if j.OnProgress == nil {
				res, err := e.ExecuteWipe(ctx, j.Device, j.Policy)
				results[i] = res
				return err
			}
			h, err := e.Start(ctx, j.Device, j.Policy)
			if err != nil {
				return err
			}
			for ev := range h.Progress() {
				j.OnProgress(ev)
			}
			results[i] = h.Wait()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
