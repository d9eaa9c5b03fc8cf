package wipe

import (
	"context"
	"sync"
	"time"

	"wipecert/internal/device"
)

// throttledDevice limits the block write rate of the wrapped device to
// maxSpeedMBps. Reads are not throttled.
type throttledDevice struct {
	device.Device

	maxSpeedMBps float64
	mu           sync.Mutex
	lastWrite    time.Time
	ctx          context.Context
}

func newThrottledDevice(ctx context.Context, d device.Device, maxSpeedMBps float64) device.Device {
	if maxSpeedMBps <= 0 {
		return d
	}
	return &throttledDevice{Device: d, maxSpeedMBps: maxSpeedMBps, lastWrite: time.Now(), ctx: ctx}
}

func (t *throttledDevice) WriteBlock(offset int64, data []byte) error {
	t.mu.Lock()
	bytesPerSec := t.maxSpeedMBps * 1024 * 1024
	expected := time.Duration(float64(len(data)) / bytesPerSec * float64(time.Second))
	if wait := expected - time.Since(t.lastWrite); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-t.ctx.Done():
			// the engine notices the cancellation before the next block
			timer.Stop()
		}
	}
	t.mu.Unlock()

	err := t.Device.WriteBlock(offset, data)

	t.mu.Lock()
	t.lastWrite = time.Now()
	t.mu.Unlock()
	return err
}

// Temperature and Sync forward to the wrapped device when it has them.
func (t *throttledDevice) Temperature() (float64, error) {
	if th, ok := t.Device.(device.Thermometer); ok {
		return th.Temperature()
	}
	return 0, device.ErrUnavailable
}

func (t *throttledDevice) Sync() error {
	return device.Sync(t.Device)
}
