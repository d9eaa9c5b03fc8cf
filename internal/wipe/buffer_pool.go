package wipe

import (
	"sync"
)

// bufferPool hands out block-sized scratch buffers. Sessions wiping devices
// with the same block size share one sync.Pool.
type bufferPool struct {
	mu    sync.RWMutex
	pools map[int]*sync.Pool
}

var blockBuffers = &bufferPool{pools: make(map[int]*sync.Pool)}

func (bp *bufferPool) get(size int) []byte {
	if size <= 0 {
		return nil
	}

	bp.mu.RLock()
	pool, ok := bp.pools[size]
	bp.mu.RUnlock()

	if !ok {
		bp.mu.Lock()
		pool, ok = bp.pools[size]
		if !ok {
			pool = &sync.Pool{
				New: func() interface{} {
					b := make([]byte, size)
					return &b
				},
			}
			bp.pools[size] = pool
		}
		bp.mu.Unlock()
	}
	return *(pool.Get().(*[]byte))
}

// put zeroes buf and returns it to the pool matching its length.
func (bp *bufferPool) put(buf []byte) {
	if len(buf) == 0 {
		return
	}
	bp.mu.RLock()
	pool, ok := bp.pools[len(buf)]
	bp.mu.RUnlock()
	if !ok {
		return
	}
	fillByte(buf, 0)
	pool.Put(&buf)
}
