package device

import (
	"fmt"
	"sync"
)

// FaultyDevice wraps a Device and injects failures. It is used to exercise
// retry, disconnect and cancellation paths without hardware.
type FaultyDevice struct {
	Device

	mu              sync.Mutex
	transient       map[int64]int // offset -> remaining transient write failures
	readTransient   map[int64]int
	disconnectAfter int64 // fail every write once this many writes succeeded; 0 disables
	writes          int64
	onWrite         func(offset int64, n int64)
	corruptReads    map[int64]bool
}

func NewFaultyDevice(d Device) *FaultyDevice {
	return &FaultyDevice{
		Device:        d,
		transient:     make(map[int64]int),
		readTransient: make(map[int64]int),
		corruptReads:  make(map[int64]bool),
	}
}

// FailWrites makes the next n writes at offset fail with ErrTransient.
func (f *FaultyDevice) FailWrites(offset int64, n int) {
	f.mu.Lock()
	f.transient[offset] = n
	f.mu.Unlock()
}

// FailReads makes the next n reads at offset fail with ErrTransient.
func (f *FaultyDevice) FailReads(offset int64, n int) {
	f.mu.Lock()
	f.readTransient[offset] = n
	f.mu.Unlock()
}

// CorruptReads flips the first byte of every read at offset.
func (f *FaultyDevice) CorruptReads(offset int64) {
	f.mu.Lock()
	f.corruptReads[offset] = true
	f.mu.Unlock()
}

// DisconnectAfter makes every write after the first n successful ones fail
// with ErrDisconnected.
func (f *FaultyDevice) DisconnectAfter(n int64) {
	f.mu.Lock()
	f.disconnectAfter = n
	f.mu.Unlock()
}

// OnWrite installs a hook called after each successful write with the
// running write count.
func (f *FaultyDevice) OnWrite(fn func(offset int64, n int64)) {
	f.mu.Lock()
	f.onWrite = fn
	f.mu.Unlock()
}

// Writes returns the number of successful writes.
func (f *FaultyDevice) Writes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *FaultyDevice) WriteBlock(offset int64, data []byte) error {
	f.mu.Lock()
	if f.disconnectAfter > 0 && f.writes >= f.disconnectAfter {
		f.mu.Unlock()
		return fmt.Errorf("write at %d: %w", offset, ErrDisconnected)
	}
	if n := f.transient[offset]; n > 0 {
		f.transient[offset] = n - 1
		f.mu.Unlock()
		return fmt.Errorf("write at %d: %w", offset, ErrTransient)
	}
	f.mu.Unlock()

	if err := f.Device.WriteBlock(offset, data); err != nil {
		return err
	}

	f.mu.Lock()
	f.writes++
	count, hook := f.writes, f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(offset, count)
	}
	return nil
}

func (f *FaultyDevice) ReadBlock(offset int64, buf []byte) error {
	f.mu.Lock()
	if n := f.readTransient[offset]; n > 0 {
		f.readTransient[offset] = n - 1
		f.mu.Unlock()
		return fmt.Errorf("read at %d: %w", offset, ErrTransient)
	}
	corrupt := f.corruptReads[offset]
	f.mu.Unlock()

	if err := f.Device.ReadBlock(offset, buf); err != nil {
		return err
	}
	if corrupt && len(buf) > 0 {
		buf[0] ^= 0xFF
	}
	return nil
}

// Temperature forwards to the wrapped device sensor when present.
func (f *FaultyDevice) Temperature() (float64, error) {
	if t, ok := f.Device.(Thermometer); ok {
		return t.Temperature()
	}
	return 0, ErrUnavailable
}
