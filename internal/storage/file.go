package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"wipecert/internal/certificate"
)

// FileStore appends certificates as JSON lines and fsyncs after every
// append. The tip is cached so appends do not rescan the file.
type FileStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
	tip  certificate.Hash
}

// OpenFileStore opens or creates the chain file at path.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("chain file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create chain directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open chain file %s: %w", path, err)
	}
	s := &FileStore{path: path, f: f}

	certs, err := s.read()
	if err != nil {
		f.Close()
		return nil, err
	}
	if n := len(certs); n > 0 {
		s.tip = certs[n-1].PayloadHash
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(_ context.Context, cert *certificate.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if cert.PreviousHash != s.tip {
		return conflict(cert, s.tip)
	}

	line, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("marshal certificate %s: %w", cert.ID, err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write chain file: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync chain file: %w", err)
	}
	s.tip = cert.PayloadHash
	return nil
}

func (s *FileStore) Load(context.Context) ([]*certificate.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, os.ErrClosed
	}
	return s.read()
}

func (s *FileStore) read() ([]*certificate.Certificate, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open chain file: %w", err)
	}
	defer f.Close()

	var certs []*certificate.Certificate
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var c certificate.Certificate
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("chain file %s line %d: %w", s.path, line, err)
		}
		certs = append(certs, &c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	return certs, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
