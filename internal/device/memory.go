package device

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory block device used for simulation and tests.
type MemDevice struct {
	mu        sync.RWMutex
	data      []byte
	blockSize int
	identity  Identity
	temp      *float64
}

// NewMemDevice allocates a zero-filled device of the given capacity.
func NewMemDevice(capacity int64, blockSize int, identity Identity) *MemDevice {
	if identity.Interface == "" {
		identity.Interface = "Virtual"
	}
	return &MemDevice{
		data:      make([]byte, capacity),
		blockSize: blockSize,
		identity:  identity,
	}
}

// SetTemperature installs a fake sensor reading.
func (m *MemDevice) SetTemperature(c float64) {
	m.mu.Lock()
	m.temp = &c
	m.mu.Unlock()
}

func (m *MemDevice) Capacity() int64    { return int64(len(m.data)) }
func (m *MemDevice) BlockSize() int     { return m.blockSize }
func (m *MemDevice) Identity() Identity { return m.identity }

func (m *MemDevice) WriteBlock(offset int64, data []byte) error {
	if err := rangeError(offset, len(data), m.Capacity(), m.blockSize); err != nil {
		return err
	}
	m.mu.Lock()
	copy(m.data[offset:], data)
	m.mu.Unlock()
	return nil
}

func (m *MemDevice) ReadBlock(offset int64, buf []byte) error {
	if err := rangeError(offset, len(buf), m.Capacity(), m.blockSize); err != nil {
		return err
	}
	m.mu.RLock()
	copy(buf, m.data[offset:])
	m.mu.RUnlock()
	return nil
}

func (m *MemDevice) Temperature() (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.temp == nil {
		return 0, ErrUnavailable
	}
	return *m.temp, nil
}

// Bytes returns a copy of the device contents.
func (m *MemDevice) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Fill overwrites the whole device with b.
func (m *MemDevice) Fill(b byte) {
	m.mu.Lock()
	for i := range m.data {
		m.data[i] = b
	}
	m.mu.Unlock()
}

// DiscardDevice accepts every write and reads back zeros. It backs dry runs
// and simulated devices too large to hold in memory.
type DiscardDevice struct {
	capacity  int64
	blockSize int
	identity  Identity
}

func NewDiscardDevice(capacity int64, blockSize int, identity Identity) *DiscardDevice {
	if identity.Interface == "" {
		identity.Interface = "Virtual"
	}
	return &DiscardDevice{capacity: capacity, blockSize: blockSize, identity: identity}
}

func (d *DiscardDevice) Capacity() int64    { return d.capacity }
func (d *DiscardDevice) BlockSize() int     { return d.blockSize }
func (d *DiscardDevice) Identity() Identity { return d.identity }

func (d *DiscardDevice) WriteBlock(offset int64, data []byte) error {
	return rangeError(offset, len(data), d.capacity, d.blockSize)
}

func (d *DiscardDevice) ReadBlock(offset int64, buf []byte) error {
	if err := rangeError(offset, len(buf), d.capacity, d.blockSize); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

// Simulated builds an in-memory device for the CLI --simulate flag. Devices
// above maxInMemory bytes are backed by a DiscardDevice.
func Simulated(name string, capacity int64, blockSize int, maxInMemory int64) (Device, error) {
	if capacity <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("invalid simulated device geometry: capacity %d block size %d", capacity, blockSize)
	}
	id := Identity{
		Path:      "sim://" + name,
		Serial:    "SIM-" + name,
		Model:     "Simulated Block Device",
		Interface: "Virtual",
		MediaType: "Unknown",
	}
	if capacity > maxInMemory {
		return NewDiscardDevice(capacity, blockSize, id), nil
	}
	return NewMemDevice(capacity, blockSize, id), nil
}
