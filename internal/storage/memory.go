package storage

import (
	"context"
	"sync"

	"wipecert/internal/certificate"
)

// MemoryStore keeps the chain in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	certs []*certificate.Certificate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, cert *certificate.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tip := certificate.ZeroHash
	if n := len(m.certs); n > 0 {
		tip = m.certs[n-1].PayloadHash
	}
	if cert.PreviousHash != tip {
		return conflict(cert, tip)
	}
	m.certs = append(m.certs, cert.Clone())
	return nil
}

func (m *MemoryStore) Load(context.Context) ([]*certificate.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*certificate.Certificate, len(m.certs))
	for i, c := range m.certs {
		out[i] = c.Clone()
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
