package storage

import (
	"context"
	"fmt"

	"wipecert/internal/certificate"
	"wipecert/internal/config"
)

// ErrConflict is returned when an appended certificate does not extend the
// stored tip.
var ErrConflict = certificate.ErrStoreConflict

// Open returns the chain store selected by cfg.Chain.Backend. The Postgres
// store runs pending migrations before it is returned.
func Open(ctx context.Context, cfg config.ChainConfig) (certificate.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile, "":
		return OpenFileStore(cfg.Path)
	case config.BackendPostgres:
		if err := RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown chain backend %q", cfg.Backend)
}

func conflict(cert *certificate.Certificate, tip certificate.Hash) error {
	return fmt.Errorf("%w: certificate %s links to %s, tip is %s", ErrConflict, cert.ID, cert.PreviousHash, tip)
}
