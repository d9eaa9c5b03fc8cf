package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wipecert/internal/certificate"
)

const uniqueViolation = "23505"

// PostgresStore keeps the chain in the certificates table. Positions are
// 1-based and dense; the UNIQUE previous_hash column prevents forks even
// across processes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Append(ctx context.Context, cert *certificate.Certificate) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize writers on the tip row.
	var (
		position int64
		tipBytes []byte
	)
	err = tx.QueryRow(ctx,
		`SELECT position, payload_hash FROM certificates ORDER BY position DESC LIMIT 1 FOR UPDATE`,
	).Scan(&position, &tipBytes)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reading chain tip: %w", err)
	}
	var tip certificate.Hash
	copy(tip[:], tipBytes)
	if cert.PreviousHash != tip {
		return conflict(cert, tip)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO certificates (position, id, session_id, payload_hash, previous_hash, payload,
		     signature, signature_algorithm, verification_reference, result_status, incomplete,
		     device_serial, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		position+1, cert.ID, cert.SessionID, cert.PayloadHash[:], cert.PreviousHash[:], cert.Payload,
		cert.Signature, cert.SignatureAlgorithm, cert.VerificationReference, cert.ResultStatus, cert.Incomplete,
		cert.DeviceIdentity.Serial, cert.IssuedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
		return fmt.Errorf("inserting certificate: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) Load(ctx context.Context) ([]*certificate.Certificate, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, payload_hash, previous_hash, payload, signature, signature_algorithm, verification_reference
		 FROM certificates ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying certificates: %w", err)
	}
	defer rows.Close()

	var certs []*certificate.Certificate
	for rows.Next() {
		var (
			id, alg, ref       string
			hash, prev         []byte
			payload, signature []byte
		)
		if err := rows.Scan(&id, &hash, &prev, &payload, &signature, &alg, &ref); err != nil {
			return nil, err
		}
		var h, ph certificate.Hash
		copy(h[:], hash)
		copy(ph[:], prev)
		certs = append(certs, certificate.Assemble(id, h, ph, payload, signature, alg, ref))
	}
	return certs, rows.Err()
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
