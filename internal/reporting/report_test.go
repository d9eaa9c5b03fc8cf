package reporting

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert/internal/certificate"
	"wipecert/internal/config"
	"wipecert/internal/device"
	"wipecert/internal/storage"
	"wipecert/internal/wipe"
)

func runWipes(t *testing.T) (*wipe.Result, *wipe.Result) {
	t.Helper()
	engine := wipe.NewEngine(wipe.Options{})
	ok, err := engine.ExecuteWipe(context.Background(),
		device.NewMemDevice(64*512, 512, device.Identity{Path: "mem://a", Serial: "SER-A", Model: "Mem"}),
		wipe.Policy{Level: "purge", Passes: []wipe.PassSpec{{Pattern: wipe.PatternZero}, {Pattern: wipe.PatternRandom, Seed: 3, HasSeed: true}},
			Verification: wipe.VerificationSpec{Mode: wipe.VerifySampled, Fraction: 0.5}})
	require.NoError(t, err)
	require.Equal(t, wipe.StateCompleted, ok.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	aborted, err := engine.ExecuteWipe(ctx,
		device.NewMemDevice(64*512, 512, device.Identity{Path: "mem://b"}),
		wipe.Policy{Passes: []wipe.PassSpec{{Pattern: wipe.PatternOne}}})
	require.NoError(t, err)
	require.Equal(t, wipe.StateAborted, aborted.State())
	return ok, aborted
}

func certify(t *testing.T, res *wipe.Result) *certificate.Certificate {
	t.Helper()
	signer, err := certificate.GenerateKey(certificate.AlgEd25519)
	require.NoError(t, err)
	chain, err := certificate.OpenChain(context.Background(), storage.NewMemoryStore(), signer,
		certificate.ChainOptions{PublicURL: "https://wipecert.example", WorkstationID: "ws-9", Standard: "NIST SP 800-88 Rev. 1"})
	require.NoError(t, err)
	cert, err := chain.Append(context.Background(), res.Session(), certificate.Meta{Operator: "carol", Organization: "Ministry of Mines", Site: "Main Lab"})
	require.NoError(t, err)
	return cert
}

func TestGenerateReport(t *testing.T) {
	ok, aborted := runWipes(t)
	cert := certify(t, ok)
	start := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	report := GenerateReport([]*wipe.Result{ok, aborted},
		map[string]*certificate.Certificate{ok.ID(): cert},
		RunMeta{Level: "purge", Operator: "carol", StartTime: start, EndTime: start.Add(90 * time.Second), ExitCode: 2})

	assert.Equal(t, "1m30s", report.Duration)
	assert.Equal(t, 2, report.ExitCode)
	require.Len(t, report.Operations, 2)
	assert.Equal(t, cert.ID, report.Operations[0].CertificateID)
	assert.Equal(t, []string{"zero", "random:3"}, report.Operations[0].Passes)
	assert.Equal(t, int64(2*64*512), report.Operations[0].BytesWiped)
	assert.Equal(t, "aborted", report.Operations[1].Status)
	assert.NotEmpty(t, report.Operations[1].Error)

	s := report.Summary
	assert.Equal(t, 2, s.TotalDevices)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Aborted)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 1, s.Certified)
	assert.InDelta(t, 50.0, s.SuccessRate, 0.001)
}

func TestSaveReport(t *testing.T) {
	ok, _ := runWipes(t)
	report := GenerateReport([]*wipe.Result{ok}, nil, RunMeta{StartTime: time.Now(), EndTime: time.Now()})
	dir := t.TempDir()

	path, err := SaveReport(report, config.ReportingConfig{Enabled: true, LocalPath: dir, Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)

	path, err = SaveReport(report, config.ReportingConfig{Enabled: true, LocalPath: dir, Format: "txt"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".txt"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mem://a  COMPLETED")

	path, err = SaveReport(report, config.ReportingConfig{Enabled: false, LocalPath: dir})
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = SaveReport(report, config.ReportingConfig{Enabled: true, LocalPath: dir, Format: "pdf"})
	assert.Error(t, err)
}

func TestRenderCertificate(t *testing.T) {
	ok, aborted := runWipes(t)

	text, err := RenderCertificate(certify(t, ok))
	require.NoError(t, err)
	assert.Contains(t, text, "Serial:           SER-A")
	assert.Contains(t, text, "Passes:           zero, random:3")
	assert.Contains(t, text, "Verification:     sampled (50.0%)")
	assert.Contains(t, text, "Result:           COMPLETED")
	assert.Contains(t, text, "Operator:         carol")
	assert.Contains(t, text, "Organization:     Ministry of Mines")
	assert.Contains(t, text, "Site:             Main Lab")
	assert.Contains(t, text, "Standard:         NIST SP 800-88 Rev. 1")
	assert.Contains(t, text, "Verify at:        https://wipecert.example/v1/certificates/DWP-")
	assert.NotContains(t, text, "INCOMPLETE")

	text, err = RenderCertificate(certify(t, aborted))
	require.NoError(t, err)
	assert.Contains(t, text, "INCOMPLETE")
	assert.Contains(t, text, "Failure:          aborted")
	assert.Contains(t, text, "Serial:           unknown")
}

func TestRenderCertificateReadsPayload(t *testing.T) {
	ok, _ := runWipes(t)
	cert := certify(t, ok)
	cert.DeviceIdentity.Serial = "FORGED"
	cert.ResultStatus = "failed"

	text, err := RenderCertificate(cert)
	require.NoError(t, err)
	assert.Contains(t, text, "SER-A")
	assert.NotContains(t, text, "FORGED")

	cert.Payload = []byte{0xFF}
	_, err = RenderCertificate(cert)
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "10.0 MB", formatBytes(10<<20))
	assert.Equal(t, "1.0 GB", formatBytes(1<<30))
}
