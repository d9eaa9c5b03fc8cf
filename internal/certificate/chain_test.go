package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert/internal/device"
	"wipecert/internal/wipe"
)

// memStore is an in-memory Store that enforces the tip like the real ones.
type memStore struct {
	mu       sync.Mutex
	certs    []*Certificate
	conflict bool
	closed   bool
}

func (m *memStore) Append(_ context.Context, cert *Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tip := ZeroHash
	if n := len(m.certs); n > 0 {
		tip = m.certs[n-1].PayloadHash
	}
	if m.conflict || cert.PreviousHash != tip {
		return fmt.Errorf("append %s: %w", cert.ID, ErrStoreConflict)
	}
	m.certs = append(m.certs, cert.Clone())
	return nil
}

func (m *memStore) Load(context.Context) ([]*Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Certificate, len(m.certs))
	for i, c := range m.certs {
		out[i] = c.Clone()
	}
	return out, nil
}

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return epoch.Add(time.Duration(n) * time.Second)
	}
}

func testSession(id string, state wipe.State) *wipe.Session {
	s := &wipe.Session{
		ID:     id,
		Device: device.Identity{Path: "/dev/sdz", Serial: "WD-" + id, Model: "Test Disk", Interface: "SATA", MediaType: "HDD"},
		Policy: wipe.Policy{
			Level:        "purge",
			Passes:       []wipe.PassSpec{{Pattern: wipe.PatternZero}, {Pattern: wipe.PatternOne}, {Pattern: wipe.PatternRandom, Seed: 7, HasSeed: true}},
			Verification: wipe.VerificationSpec{Mode: wipe.VerifySampled, Fraction: 0.1},
			RetryBudget:  3,
		},
		Capacity:           10 << 20,
		BlockSize:          4096,
		State:              state,
		PassesCompleted:    3,
		CurrentPass:        3,
		BytesProcessed:     30 << 20,
		BlocksVerified:     256,
		VerificationDigest: []byte("0123456789abcdef0123456789abcdef"),
		Temperatures:       []wipe.TemperatureReading{{Pass: 1, Celsius: 41.25, At: epoch}},
		StartedAt:          epoch,
		EndedAt:            epoch.Add(time.Minute),
	}
	if state != wipe.StateCompleted {
		s.PassesCompleted = 1
		s.VerificationDigest = nil
		s.Failure = &wipe.Failure{Kind: "aborted", Message: "session aborted: context canceled", Pass: 2, Offset: 4096}
	}
	return s
}

func newTestChain(t *testing.T, store Store) (*Chain, Signer) {
	t.Helper()
	signer, err := GenerateKey(AlgECDSAP256)
	require.NoError(t, err)
	c, err := OpenChain(context.Background(), store, signer, ChainOptions{
		PublicURL:     "https://verify.example.com/",
		WorkstationID: "ws-01",
		Clock:         fixedClock(),
	})
	require.NoError(t, err)
	return c, signer
}

func appendN(t *testing.T, c *Chain, n int) []*Certificate {
	t.Helper()
	var out []*Certificate
	for i := 1; i <= n; i++ {
		cert, err := c.Append(context.Background(), testSession(fmt.Sprintf("s%d", i), wipe.StateCompleted), Meta{Operator: "alice"})
		require.NoError(t, err)
		out = append(out, cert)
	}
	return out
}

func TestGenesisUsesZeroSentinel(t *testing.T) {
	c, signer := newTestChain(t, &memStore{})
	assert.True(t, c.Tip().IsZero())

	certs := appendN(t, c, 2)
	assert.True(t, certs[0].PreviousHash.IsZero())
	assert.Equal(t, certs[0].PayloadHash, certs[1].PreviousHash)
	assert.Equal(t, certs[1].PayloadHash, c.Tip())
	assert.Equal(t, 2, c.Len())

	first := certs[0]
	assert.Equal(t, DeriveID(first.PayloadHash), first.ID)
	assert.Regexp(t, `^DWP-[0-9A-F]{16}$`, first.ID)
	assert.Equal(t, "https://verify.example.com/v1/certificates/"+first.ID, first.VerificationReference)
	assert.Equal(t, AlgECDSAP256, first.SignatureAlgorithm)
	assert.Equal(t, "alice", first.Operator)
	assert.Equal(t, "ws-01", first.WorkstationID)
	assert.Equal(t, "completed", first.ResultStatus)
	assert.False(t, first.Incomplete)
	assert.Equal(t, []string{"zero", "one", "random:7"}, first.Policy.Passes)
	assert.Equal(t, "sampled:0.1", first.Policy.Verification)
	assert.Equal(t, "WD-s1", first.DeviceIdentity.Serial)

	assert.True(t, Verify(c.Snapshot(), signer.Public()).Valid())
}

func TestTamperedPayloadDetectedAtPosition(t *testing.T) {
	c, signer := newTestChain(t, &memStore{})
	appendN(t, c, 3)

	certs := c.Snapshot()
	certs[1].Payload[10] ^= 0x01

	res := Verify(certs, signer.Public())
	assert.Equal(t, StatusPayloadTampered, res.Status)
	assert.Equal(t, 2, res.Position)
	assert.Equal(t, certs[1].ID, res.CertificateID)
	assert.Equal(t, 1, res.Checked)

	var ve *VerificationError
	require.True(t, errors.As(res.Err(), &ve))
	assert.Equal(t, 2, ve.Position)

	// the chain itself is untouched
	assert.True(t, Verify(c.Snapshot(), signer.Public()).Valid())
}

func TestVerifyFailureKinds(t *testing.T) {
	c, signer := newTestChain(t, &memStore{})
	appendN(t, c, 3)

	tests := []struct {
		name     string
		mutate   func([]*Certificate) []*Certificate
		status   Status
		position int
	}{
		{"untouched", func(cs []*Certificate) []*Certificate { return cs }, StatusValid, 0},
		{"structured field edited", func(cs []*Certificate) []*Certificate {
			cs[2].ResultStatus = "failed"
			return cs
		}, StatusPayloadTampered, 3},
		{"id edited", func(cs []*Certificate) []*Certificate {
			cs[0].ID = "DWP-0000000000000000"
			return cs
		}, StatusPayloadTampered, 1},
		{"hash recomputed after edit", func(cs []*Certificate) []*Certificate {
			cs[1].Payload[len(cs[1].Payload)-1] ^= 0xFF
			cs[1].PayloadHash = HashPayload(cs[1].Payload)
			cs[1].ID = DeriveID(cs[1].PayloadHash)
			return cs
		}, StatusPayloadTampered, 2},
		{"signature flipped", func(cs []*Certificate) []*Certificate {
			cs[1].Signature[len(cs[1].Signature)-1] ^= 0x01
			return cs
		}, StatusSignatureInvalid, 2},
		{"previous hash rewritten", func(cs []*Certificate) []*Certificate {
			cs[2].PreviousHash = cs[0].PayloadHash
			return cs
		}, StatusSignatureInvalid, 3},
		{"certificate removed", func(cs []*Certificate) []*Certificate {
			return []*Certificate{cs[0], cs[2]}
		}, StatusBrokenLink, 2},
		{"certificates reordered", func(cs []*Certificate) []*Certificate {
			return []*Certificate{cs[1], cs[0], cs[2]}
		}, StatusBrokenLink, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Verify(tt.mutate(c.Snapshot()), signer.Public())
			assert.Equal(t, tt.status, res.Status, res.Detail)
			assert.Equal(t, tt.position, res.Position)
		})
	}
}

func TestVerifyWithWrongKey(t *testing.T) {
	c, _ := newTestChain(t, &memStore{})
	appendN(t, c, 2)

	other, err := GenerateKey(AlgECDSAP256)
	require.NoError(t, err)
	res := Verify(c.Snapshot(), other.Public())
	assert.Equal(t, StatusSignatureInvalid, res.Status)
	assert.Equal(t, 1, res.Position)

	res = Verify(c.Snapshot(), nil)
	assert.Equal(t, StatusSignatureInvalid, res.Status)
}

func TestVerifySingle(t *testing.T) {
	c, signer := newTestChain(t, &memStore{})
	certs := appendN(t, c, 2)

	res := VerifySingle(certs[1], signer.Public())
	assert.True(t, res.Valid())
	assert.True(t, res.Unlinked)
	assert.NoError(t, res.Err())

	// the previous hash is covered by the signature
	certs[1].PreviousHash = ZeroHash
	res = VerifySingle(certs[1], signer.Public())
	assert.Equal(t, StatusSignatureInvalid, res.Status)

	certs[0].BytesProcessed++
	res = VerifySingle(certs[0], signer.Public())
	assert.Equal(t, StatusPayloadTampered, res.Status)
	assert.Equal(t, certs[0].ID, res.CertificateID)
}

func TestJSONRoundTripStillVerifies(t *testing.T) {
	c, signer := newTestChain(t, &memStore{})
	appendN(t, c, 3)

	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"previous_hash":"0000000000000000000000000000000000000000000000000000000000000000"`)

	var decoded []*Certificate
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, c.Snapshot()[1].view(), decoded[1].view())
	assert.True(t, Verify(decoded, signer.Public()).Valid())
}

func TestConcurrentAppendsNeverFork(t *testing.T) {
	c, signer := newTestChain(t, &memStore{})

	const n = 24
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Append(context.Background(), testSession(fmt.Sprintf("c%d", i), wipe.StateCompleted), Meta{})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	certs := c.Snapshot()
	require.Len(t, certs, n)
	seen := map[Hash]bool{}
	for _, cert := range certs {
		assert.False(t, seen[cert.PreviousHash], "two certificates share previous hash %s", cert.PreviousHash)
		seen[cert.PreviousHash] = true
	}
	assert.True(t, Verify(certs, signer.Public()).Valid())
}

func TestStoreConflictAppendsNothing(t *testing.T) {
	store := &memStore{}
	c, _ := newTestChain(t, store)
	appendN(t, c, 1)

	store.conflict = true
	_, err := c.Append(context.Background(), testSession("late", wipe.StateCompleted), Meta{})
	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Position)
	assert.ErrorIs(t, err, ErrStoreConflict)
	assert.Equal(t, 1, c.Len())
}

func TestAppendRejectsDuplicateAndRunningSessions(t *testing.T) {
	c, _ := newTestChain(t, &memStore{})
	appendN(t, c, 1)

	_, err := c.Append(context.Background(), testSession("s1", wipe.StateCompleted), Meta{})
	var ce *ChainError
	assert.True(t, errors.As(err, &ce))

	_, err = c.Append(context.Background(), testSession("run", wipe.StateOverwriting), Meta{})
	assert.ErrorIs(t, err, ErrSessionNotTerminal)
	assert.Equal(t, 1, c.Len())
}

func TestOpenChainReloadsAndRefusesBrokenChains(t *testing.T) {
	store := &memStore{}
	c, signer := newTestChain(t, store)
	certs := appendN(t, c, 3)

	reopened, err := OpenChain(context.Background(), store, signer, ChainOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len())
	got, pos, err := reopened.ByID(certs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
	assert.Equal(t, certs[1].PayloadHash, got.PayloadHash)
	_, pos, err = reopened.ByPayloadHash(certs[2].PayloadHash)
	require.NoError(t, err)
	assert.Equal(t, 3, pos)
	_, _, err = reopened.ByID("DWP-NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	store.certs = append(store.certs[:1], store.certs[2])
	_, err = OpenChain(context.Background(), store, signer, ChainOptions{})
	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Position)
}

// rehash rewrites cert so its own hash and id match the edited payload, as a
// forger without the signing key would.
func rehash(cert *Certificate) {
	cert.PayloadHash = HashPayload(cert.Payload)
	cert.ID = DeriveID(cert.PayloadHash)
}

func TestOpenChainAttributesRehashedTampering(t *testing.T) {
	store := &memStore{}
	c, signer := newTestChain(t, store)
	appendN(t, c, 3)

	store.certs[1].Payload[10] ^= 1
	rehash(store.certs[1])

	_, err := OpenChain(context.Background(), store, signer, ChainOptions{})
	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Position)
	assert.Equal(t, string(StatusPayloadTampered), ce.Reason)

	ro, err := OpenChain(context.Background(), store, nil, ChainOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 3, ro.Len())
	res := Verify(ro.Snapshot(), signer.Public())
	assert.Equal(t, StatusPayloadTampered, res.Status)
	assert.Equal(t, 2, res.Position)
	assert.Equal(t, store.certs[1].ID, res.CertificateID)
}

func TestReadOnlyChainReportsBrokenLink(t *testing.T) {
	store := &memStore{}
	c, signer := newTestChain(t, store)
	certs := appendN(t, c, 3)
	store.certs = append(store.certs[:1], store.certs[2])

	ro, err := OpenChain(context.Background(), store, signer, ChainOptions{ReadOnly: true})
	require.NoError(t, err)
	res := Verify(ro.Snapshot(), ro.PublicKey())
	assert.Equal(t, StatusBrokenLink, res.Status)
	assert.Equal(t, 2, res.Position)
	assert.Equal(t, certs[2].ID, res.CertificateID)

	_, err = ro.Append(context.Background(), testSession("late", wipe.StateCompleted), Meta{})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.Len(t, store.certs, 2)
}

// reassemble rebuilds certs from their persisted columns the way a
// database store does.
func reassemble(certs []*Certificate) []*Certificate {
	out := make([]*Certificate, len(certs))
	for i, c := range certs {
		out[i] = Assemble(c.ID, c.PayloadHash, c.PreviousHash, c.Payload, c.Signature, c.SignatureAlgorithm, c.VerificationReference)
	}
	return out
}

func TestAssembleToleratesCorruptLengthPrefix(t *testing.T) {
	c, signer := newTestChain(t, &memStore{})
	appendN(t, c, 3)

	certs := reassemble(c.Snapshot())
	require.True(t, Verify(certs, signer.Public()).Valid())
	assert.Equal(t, "s2", certs[1].SessionID)

	stored := c.Snapshot()
	stored[1].Payload[4] ^= 0x40
	certs = reassemble(stored)
	require.Len(t, certs, 3)
	assert.Empty(t, certs[1].SessionID)
	assert.Equal(t, stored[1].ID, certs[1].ID)
	res := Verify(certs, signer.Public())
	assert.Equal(t, StatusPayloadTampered, res.Status)
	assert.Equal(t, 2, res.Position)

	// a rehashed payload still has to decode
	rehash(stored[1])
	certs = reassemble(stored)
	assert.Empty(t, certs[1].SessionID)
	res = Verify(certs, signer.Public())
	assert.Equal(t, StatusPayloadTampered, res.Status)
	assert.Equal(t, 2, res.Position)
	assert.Contains(t, res.Detail, "exceeds remaining")
}

func TestSiteContextIsSigned(t *testing.T) {
	signer, err := GenerateKey(AlgEd25519)
	require.NoError(t, err)
	c, err := OpenChain(context.Background(), &memStore{}, signer, ChainOptions{
		Organization: "Ministry of Mines",
		Standard:     "NIST SP 800-88 Rev. 1",
		Clock:        fixedClock(),
	})
	require.NoError(t, err)

	cert, err := c.Append(context.Background(), testSession("org", wipe.StateCompleted), Meta{Site: "Main Lab"})
	require.NoError(t, err)
	assert.Equal(t, "Ministry of Mines", cert.Organization)
	assert.Equal(t, "Main Lab", cert.Site)
	assert.Equal(t, "NIST SP 800-88 Rev. 1", cert.Standard)

	p, err := cert.Decode()
	require.NoError(t, err)
	assert.Equal(t, "Main Lab", p.Site)

	other, err := c.Append(context.Background(), testSession("org2", wipe.StateCompleted), Meta{Organization: "Field Office"})
	require.NoError(t, err)
	assert.Equal(t, "Field Office", other.Organization)

	forged := cert.Clone()
	forged.Site = "Elsewhere"
	res := VerifySingle(forged, signer.Public())
	assert.Equal(t, StatusPayloadTampered, res.Status)
}

func TestEd25519Chain(t *testing.T) {
	signer, err := GenerateKey(AlgEd25519)
	require.NoError(t, err)
	c, err := OpenChain(context.Background(), &memStore{}, signer, ChainOptions{Clock: fixedClock()})
	require.NoError(t, err)
	appendN(t, c, 2)

	certs := c.Snapshot()
	assert.Equal(t, AlgEd25519, certs[0].SignatureAlgorithm)
	assert.Empty(t, certs[0].VerificationReference)
	assert.True(t, Verify(certs, signer.Public()).Valid())
}

func TestAbortedSessionCertifiedAsIncomplete(t *testing.T) {
	faulty := device.NewFaultyDevice(device.NewDiscardDevice(1<<30, 1<<20, device.Identity{Path: "sim://big", Serial: "SIM-big"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	faulty.OnWrite(func(_ int64, n int64) {
		if n == 1536 {
			cancel()
		}
	})

	policy := wipe.Policy{Passes: []wipe.PassSpec{{Pattern: wipe.PatternZero}, {Pattern: wipe.PatternOne}, {Pattern: wipe.PatternRandom}}}
	res, err := wipe.NewEngine(wipe.Options{}).ExecuteWipe(ctx, faulty, policy)
	require.NoError(t, err)
	require.Equal(t, wipe.StateAborted, res.State())

	c, signer := newTestChain(t, &memStore{})
	cert, err := c.Append(context.Background(), res.Session(), Meta{Operator: "bob"})
	require.NoError(t, err)

	assert.True(t, cert.Incomplete)
	assert.Equal(t, "aborted", cert.ResultStatus)
	assert.Equal(t, 1, cert.PassCount)
	assert.Equal(t, 3, cert.TotalPasses)
	assert.Equal(t, int64(1536)<<20, cert.BytesProcessed)
	assert.Empty(t, cert.VerificationDigest)

	p, err := cert.Decode()
	require.NoError(t, err)
	assert.Equal(t, "aborted", p.Failure.Kind)
	assert.Equal(t, uint32(2), p.Failure.Pass)
	assert.True(t, VerifySingle(cert, signer.Public()).Valid())
}
