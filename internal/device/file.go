package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultBlockSize is used for regular files and when the OS does not report
// a sector size.
const DefaultBlockSize = 4096

// OpenOptions controls how a FileDevice is opened.
type OpenOptions struct {
	// BlockSize overrides the detected logical block size when > 0.
	BlockSize int
	// Sync opens the device with O_SYNC so every block write reaches media.
	Sync bool
}

// FileDevice is a regular file or an OS block device.
type FileDevice struct {
	mu        sync.Mutex
	f         *os.File
	capacity  int64
	blockSize int
	identity  Identity
	sysName   string
	closed    bool
}

// OpenFile opens path for block-level read/write.
func OpenFile(path string, opts OpenOptions) (*FileDevice, error) {
	flags := os.O_RDWR
	if opts.Sync {
		flags |= os.O_SYNC
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("open %s: %w: %v", path, ErrPermissionDenied, err)
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("open %s: %w: %v", path, ErrUnavailable, err)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	d := &FileDevice{
		f:        f,
		sysName:  filepath.Base(path),
		identity: Identity{Path: path},
	}

	if st.Mode().IsRegular() {
		d.capacity = st.Size()
		d.blockSize = DefaultBlockSize
		d.identity.Interface = "File"
		d.identity.MediaType = "Unknown"
	} else {
		capacity, sector, err := probeGeometry(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("probe %s: %w", path, err)
		}
		d.capacity = capacity
		d.blockSize = sector
		d.identity = probeIdentity(path, d.sysName)
	}
	if opts.BlockSize > 0 {
		d.blockSize = opts.BlockSize
	}
	if d.blockSize <= 0 {
		d.blockSize = DefaultBlockSize
	}
	return d, nil
}

func (d *FileDevice) Capacity() int64    { return d.capacity }
func (d *FileDevice) BlockSize() int     { return d.blockSize }
func (d *FileDevice) Identity() Identity { return d.identity }

func (d *FileDevice) WriteBlock(offset int64, data []byte) error {
	if err := rangeError(offset, len(data), d.capacity, d.blockSize); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("write %s: %w", d.identity.Path, ErrDisconnected)
	}
	n, err := pwrite(d.f, data, offset)
	if err != nil {
		return fmt.Errorf("write %s at %d: %w", d.identity.Path, offset, err)
	}
	if n != len(data) {
		return fmt.Errorf("write %s at %d: short write %d/%d: %w", d.identity.Path, offset, n, len(data), ErrTransient)
	}
	return nil
}

func (d *FileDevice) ReadBlock(offset int64, buf []byte) error {
	if err := rangeError(offset, len(buf), d.capacity, d.blockSize); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("read %s: %w", d.identity.Path, ErrDisconnected)
	}
	n, err := pread(d.f, buf, offset)
	if err != nil {
		return fmt.Errorf("read %s at %d: %w", d.identity.Path, offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("read %s at %d: short read %d/%d: %w", d.identity.Path, offset, n, len(buf), ErrTransient)
	}
	return nil
}

// Sync flushes written data to the device.
func (d *FileDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return datasync(d.f)
}

// Temperature reads the hwmon sensor of the device when the OS exposes one.
func (d *FileDevice) Temperature() (float64, error) {
	return readTemperature(d.sysName)
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.f.Close()
}
