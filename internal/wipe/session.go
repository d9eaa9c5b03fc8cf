package wipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wipecert/internal/device"
	"wipecert/internal/logging"
)

// runner drives a single session. It owns the session exclusively until
// execute returns.
type runner struct {
	sess   *Session
	dev    device.Device
	gen    *Generator
	opts   Options
	log    *logging.EnterpriseLogger
	stream *progressStream

	cursor        int64 // offset of the block in flight
	lastEmit      time.Time
	sinceLastEmit int64
}

func (r *runner) now() time.Time { return r.opts.Clock() }

func (r *runner) execute(ctx context.Context) *Result {
	if r.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.MaxDuration)
		defer cancel()
	}
	r.dev = newThrottledDevice(ctx, r.dev, r.opts.MaxSpeedMBps)

	activeSessions.Inc()
	defer activeSessions.Dec()

	r.sess.StartedAt = r.now()
	r.lastEmit = r.sess.StartedAt
	r.transition(StatePreparing)
	r.log.Log("INFO", "wipe session started",
		"level", r.sess.Policy.Level,
		"passes", len(r.sess.Policy.Passes),
		"capacity", r.sess.Capacity,
		"block_size", r.sess.BlockSize,
		"verification", r.sess.Policy.Verification.String())
	r.sampleTemperature(0)

	err := r.overwrite(ctx)
	if err == nil && r.sess.Policy.Verification.Mode != VerifyNone && r.sess.Policy.Verification.Mode != "" {
		err = r.verify(ctx)
	}
	r.finish(err)
	return &Result{session: r.sess}
}

func (r *runner) transition(s State) {
	r.log.Log("DEBUG", "session state", "from", r.sess.State, "to", s, "pass", r.sess.CurrentPass)
	r.sess.State = s
}

func (r *runner) overwrite(ctx context.Context) error {
	bs := r.sess.BlockSize
	blocks := r.sess.Capacity / int64(bs)
	buf := blockBuffers.get(bs)
	defer blockBuffers.put(buf)

	for i := range r.sess.Policy.Passes {
		pass := i + 1
		if err := ctx.Err(); err != nil {
			return err
		}
		r.sess.CurrentPass = pass
		r.transition(StateOverwriting)

		constant := r.gen.constant(i)
		if constant {
			if err := r.gen.Fill(i, 0, buf); err != nil {
				return err
			}
		}

		for b := int64(0); b < blocks; b++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			off := b * int64(bs)
			r.cursor = off
			if !constant {
				if err := r.gen.Fill(i, off, buf); err != nil {
					return err
				}
			}
			if err := r.retry(ctx, "write", pass, off, func() error {
				return r.dev.WriteBlock(off, buf)
			}); err != nil {
				return err
			}
			r.sess.BytesProcessed += int64(bs)
			bytesWritten.Add(float64(bs))
			r.maybeEmit()
		}

		if r.opts.SyncWrites || pass == len(r.sess.Policy.Passes) {
			if err := r.retry(ctx, "sync", pass, 0, func() error {
				return device.Sync(r.dev)
			}); err != nil {
				return err
			}
		}

		r.sess.PassesCompleted = pass
		r.sampleTemperature(pass)
		r.emit(ProgressPassComplete)
		r.log.Log("INFO", "pass complete",
			"pass", pass,
			"of", len(r.sess.Policy.Passes),
			"pattern", r.sess.Policy.Passes[i].String(),
			"bytes", r.sess.BytesProcessed)
	}
	return nil
}

// retry runs op until it succeeds, fails with a non-transient error, or the
// retry budget is spent.
func (r *runner) retry(ctx context.Context, op string, pass int, off int64, fn func() error) error {
	budget := r.sess.Policy.RetryBudget
	var err error
	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			r.sess.BlocksRetried++
			blocksRetried.Inc()
			r.log.Log("WARN", "retrying block", "op", op, "offset", off, "pass", pass, "attempt", attempt, "error", err)
			if err := sleepCtx(ctx, r.opts.RetryDelay*time.Duration(attempt)); err != nil {
				return err
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if kind := device.Classify(err); !kind.Retriable() {
			return &DeviceError{Kind: kind, Op: op, Offset: off, Pass: pass, Err: err}
		}
	}
	return &IOError{Op: op, Offset: off, Pass: pass, Attempts: budget + 1, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *runner) finish(err error) {
	r.sess.EndedAt = r.now()

	switch {
	case err == nil:
		r.sess.State = StateCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		r.sess.State = StateAborted
		r.sess.Failure = &Failure{
			Offset:  r.cursor,
			Pass:    r.sess.CurrentPass,
			Kind:    "aborted",
			Message: fmt.Sprintf("session aborted: %v", err),
			Err:     err,
		}
	default:
		r.sess.State = StateFailed
		r.sess.Failure = newFailure(err)
	}

	state := string(r.sess.State)
	sessionsTotal.WithLabelValues(state).Inc()
	sessionDuration.WithLabelValues(state).Observe(r.sess.EndedAt.Sub(r.sess.StartedAt).Seconds())

	fields := []interface{}{
		"state", r.sess.State,
		"passes_completed", r.sess.PassesCompleted,
		"bytes", r.sess.BytesProcessed,
		"duration", r.sess.EndedAt.Sub(r.sess.StartedAt),
	}
	switch r.sess.State {
	case StateCompleted:
		r.log.Log("INFO", "wipe session completed", fields...)
	case StateAborted:
		r.log.Log("WARN", "wipe session aborted", fields...)
	default:
		fields = append(fields, "offset", r.sess.Failure.Offset, "error", err)
		r.log.Log("ERROR", "wipe session failed", fields...)
	}

	r.emit(ProgressDone)
	r.stream.close()
}

func (r *runner) sampleTemperature(pass int) {
	t := device.ReadTemperature(r.dev)
	if !t.Available {
		return
	}
	r.sess.Temperatures = append(r.sess.Temperatures, TemperatureReading{Pass: pass, Celsius: t.Celsius, At: r.now()})
}

func (r *runner) maybeEmit() {
	if r.stream == nil {
		return
	}
	r.sinceLastEmit += int64(r.sess.BlockSize)
	if r.sinceLastEmit >= r.opts.ProgressBytes || r.now().Sub(r.lastEmit) >= r.opts.ProgressInterval {
		r.emit(ProgressBlock)
	}
}

func (r *runner) emit(kind ProgressKind) {
	if r.stream == nil {
		return
	}
	now := r.now()
	r.lastEmit = now
	r.sinceLastEmit = 0

	total := r.sess.TotalBytes()
	var eta time.Duration
	if done := r.sess.BytesProcessed; done > 0 && done < total {
		elapsed := now.Sub(r.sess.StartedAt)
		eta = time.Duration(float64(elapsed) * float64(total-done) / float64(done))
	}

	r.stream.publish(ProgressEvent{
		Kind:           kind,
		SessionID:      r.sess.ID,
		State:          r.sess.State,
		Pass:           r.sess.CurrentPass,
		TotalPasses:    len(r.sess.Policy.Passes),
		BytesProcessed: r.sess.BytesProcessed,
		TotalBytes:     total,
		ETA:            eta,
		Temperature:    device.ReadTemperature(r.dev),
		Time:           now,
	})
}
