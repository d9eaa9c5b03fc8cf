package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert/internal/certificate"
	"wipecert/internal/config"
	"wipecert/internal/device"
	"wipecert/internal/wipe"
)

func session(id string) *wipe.Session {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	return &wipe.Session{
		ID:              id,
		Device:          device.Identity{Path: "/dev/sdq", Serial: "SN-" + id},
		Capacity:        1 << 20,
		BlockSize:       4096,
		Policy:          wipe.Policy{Level: "clear", Passes: []wipe.PassSpec{{Pattern: wipe.PatternZero}}},
		State:           wipe.StateCompleted,
		PassesCompleted: 1,
		BytesProcessed:  1 << 20,
		StartedAt:       start,
		EndedAt:         start.Add(time.Second),
	}
}

// fill appends n certificates through a chain backed by store.
func fill(t *testing.T, store certificate.Store, n int) (*certificate.Chain, certificate.Signer) {
	t.Helper()
	signer, err := certificate.GenerateKey(certificate.AlgECDSAP256)
	require.NoError(t, err)
	chain, err := certificate.OpenChain(context.Background(), store, signer, certificate.ChainOptions{PublicURL: "http://localhost:8080"})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := chain.Append(context.Background(), session(fmt.Sprintf("s%d", chain.Len()+1)), certificate.Meta{})
		require.NoError(t, err)
	}
	return chain, signer
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	chain, signer := fill(t, store, 3)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.True(t, certificate.Verify(loaded, signer.Public()).Valid())

	// a second append on the same tip is a conflict
	stale := chain.Snapshot()[2]
	err = store.Append(context.Background(), stale)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, store.Close())
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "chain.jsonl")
	store, err := OpenFileStore(path)
	require.NoError(t, err)
	chain, signer := fill(t, store, 3)
	want := chain.Snapshot()
	require.NoError(t, chain.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i := range want {
		assert.Equal(t, want[i].PayloadHash, loaded[i].PayloadHash)
		assert.Equal(t, want[i].Payload, loaded[i].Payload)
	}
	assert.True(t, certificate.Verify(loaded, signer.Public()).Valid())

	// the cached tip survives reopening
	chain2, err := certificate.OpenChain(context.Background(), reopened, signer, certificate.ChainOptions{})
	require.NoError(t, err)
	_, err = chain2.Append(context.Background(), session("s4"), certificate.Meta{})
	require.NoError(t, err)
	loaded, err = reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded, 4)
	assert.True(t, certificate.Verify(loaded, signer.Public()).Valid())
}

func TestFileStoreRejectsStaleAppend(t *testing.T) {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "chain.jsonl"))
	require.NoError(t, err)
	defer store.Close()
	chain, _ := fill(t, store, 2)

	first := chain.Snapshot()[0]
	assert.ErrorIs(t, store.Append(context.Background(), first), ErrConflict)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestFileStoreCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0640))
	_, err := OpenFileStore(path)
	assert.ErrorContains(t, err, "line 1")
}

func TestFileStoreClosed(t *testing.T) {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "chain.jsonl"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestTamperedFileDetectedByVerifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	store, err := OpenFileStore(path)
	require.NoError(t, err)
	_, signer := fill(t, store, 2)
	require.NoError(t, store.Close())

	certs := readLines(t, path)
	certs[1].Payload[5] ^= 0x01
	var out []byte
	for _, c := range certs {
		line, err := json.Marshal(c)
		require.NoError(t, err)
		out = append(append(out, line...), '\n')
	}
	require.NoError(t, os.WriteFile(path, out, 0640))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Load(context.Background())
	require.NoError(t, err)
	res := certificate.Verify(loaded, signer.Public())
	assert.Equal(t, certificate.StatusPayloadTampered, res.Status)
	assert.Equal(t, 2, res.Position)
}

func readLines(t *testing.T, path string) []*certificate.Certificate {
	t.Helper()
	store, err := OpenFileStore(path)
	require.NoError(t, err)
	defer store.Close()
	certs, err := store.Load(context.Background())
	require.NoError(t, err)
	return certs
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.ChainConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	path := filepath.Join(t.TempDir(), "c.jsonl")
	s, err = Open(context.Background(), config.ChainConfig{Backend: config.BackendFile, Path: path})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.ChainConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	up, err := migrations.ReadFile("migrations/000001_certificates.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "CREATE TABLE")
	_, err = migrations.ReadFile("migrations/000001_certificates.down.sql")
	assert.NoError(t, err)
}

// TestPostgresStore runs against a live database when WIPECERT_TEST_DB_URL is set.
func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("WIPECERT_TEST_DB_URL")
	if dbURL == "" {
		t.Skip("WIPECERT_TEST_DB_URL not set")
	}
	require.NoError(t, RunMigrations(dbURL))
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dbURL)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.pool.Exec(ctx, `TRUNCATE certificates`)
	require.NoError(t, err)

	chain, signer := fill(t, store, 3)
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, chain.Snapshot()[2].ID, loaded[2].ID)
	assert.True(t, certificate.Verify(loaded, signer.Public()).Valid())

	assert.ErrorIs(t, store.Append(ctx, chain.Snapshot()[1]), ErrConflict)
}
