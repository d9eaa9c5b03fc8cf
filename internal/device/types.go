package device

// Identity describes the device being wiped. Empty optional fields mean the
// value is unavailable on this device.
type Identity struct {
	Path       string `json:"path"`
	Serial     string `json:"serial,omitempty"`
	Model      string `json:"model,omitempty"`
	Interface  string `json:"interface,omitempty"`  // SATA/NVMe/USB/MMC/Virtual
	MediaType  string `json:"media_type,omitempty"` // HDD/SSD/Unknown
	HardwareID string `json:"hardware_id,omitempty"`
}

// Device is the block-level capability the wipe engine needs. Writes and
// reads always cover exactly one block starting at a block-aligned offset.
type Device interface {
	Capacity() int64
	BlockSize() int
	WriteBlock(offset int64, data []byte) error
	ReadBlock(offset int64, buf []byte) error
	Identity() Identity
}

// Thermometer is implemented by devices with a temperature sensor.
type Thermometer interface {
	// Temperature returns degrees Celsius or ErrUnavailable.
	Temperature() (float64, error)
}

// Syncer is implemented by devices that buffer writes.
type Syncer interface {
	Sync() error
}

// TemperatureSample is a single sensor reading.
type TemperatureSample struct {
	Celsius   float64 `json:"celsius"`
	Available bool    `json:"available"`
}

// ReadTemperature samples the device sensor. A missing sensor is reported as
// unavailable, not as an error.
func ReadTemperature(d Device) TemperatureSample {
	t, ok := d.(Thermometer)
	if !ok {
		return TemperatureSample{}
	}
	c, err := t.Temperature()
	if err != nil {
		return TemperatureSample{}
	}
	return TemperatureSample{Celsius: c, Available: true}
}

// Sync flushes the device if it supports it.
func Sync(d Device) error {
	if s, ok := d.(Syncer); ok {
		return s.Sync()
	}
	return nil
}
