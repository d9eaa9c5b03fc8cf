package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"wipecert/internal/certificate"
	"wipecert/internal/config"
	"wipecert/internal/device"
	"wipecert/internal/logging"
	"wipecert/internal/security"
	"wipecert/internal/storage"
	"wipecert/internal/wipe"
)

// DiagnosticLevel selects how many checks run.
type DiagnosticLevel string

const (
	LevelQuick DiagnosticLevel = "quick"
	LevelFull  DiagnosticLevel = "full"
	LevelDeep  DiagnosticLevel = "deep"
)

// DiagnosticTest names a single check.
type DiagnosticTest string

const (
	TestPermissions DiagnosticTest = "permissions"
	TestDevices     DiagnosticTest = "devices"
	TestSigning     DiagnosticTest = "signing"
	TestChain       DiagnosticTest = "chain"
	TestReports     DiagnosticTest = "reports"
	TestEngine      DiagnosticTest = "engine"
)

const (
	StatusPass = "PASS"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
)

type DiagnosticResult struct {
	Test      DiagnosticTest `json:"test"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Details   interface{}    `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// SystemDiagnostics is the outcome of one diagnostics run.
type SystemDiagnostics struct {
	Level       DiagnosticLevel    `json:"level"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Duration    time.Duration      `json:"duration"`
	Overall     string             `json:"overall"` // HEALTHY, WARNING, CRITICAL
	Results     []DiagnosticResult `json:"results"`
	Summary     DiagnosticSummary  `json:"summary"`
	Environment SystemEnvironment  `json:"environment"`
}

type DiagnosticSummary struct {
	TotalTests int `json:"total_tests"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	Warnings   int `json:"warnings"`
}

type SystemEnvironment struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	GoVersion    string `json:"go_version"`
	Hostname     string `json:"hostname"`
	Username     string `json:"username"`
	IsRoot       bool   `json:"is_root"`
	CPUCount     int    `json:"cpu_count"`
	ChainBackend string `json:"chain_backend"`
}

// SystemDiagnosticsRunner checks that this host can wipe devices and issue
// certificates with the loaded configuration.
type SystemDiagnosticsRunner struct {
	cfg    *config.Config
	log    *logging.EnterpriseLogger
	level  DiagnosticLevel
	test   DiagnosticTest
	listFn func() ([]device.Info, error)
}

func NewSystemDiagnosticsRunner(cfg *config.Config, logger *logging.EnterpriseLogger, level DiagnosticLevel, test DiagnosticTest) *SystemDiagnosticsRunner {
	return &SystemDiagnosticsRunner{
		cfg:    cfg,
		log:    logging.OrNop(logger),
		level:  level,
		test:   test,
		listFn: device.List,
	}
}

// RunDiagnostics runs the checks for the configured level, or only the
// selected test.
func (sdr *SystemDiagnosticsRunner) RunDiagnostics(ctx context.Context) (*SystemDiagnostics, error) {
	diagnostics := &SystemDiagnostics{
		Level:       sdr.level,
		StartTime:   time.Now(),
		Results:     make([]DiagnosticResult, 0),
		Environment: sdr.collectEnvironmentInfo(),
	}

	for _, test := range sdr.getTestsForLevel() {
		if err := ctx.Err(); err != nil {
			return diagnostics, err
		}
		result := sdr.runTest(ctx, test)
		diagnostics.Results = append(diagnostics.Results, result)
	}

	diagnostics.EndTime = time.Now()
	diagnostics.Duration = diagnostics.EndTime.Sub(diagnostics.StartTime)
	diagnostics.Summary = calculateSummary(diagnostics.Results)
	diagnostics.Overall = determineOverallStatus(diagnostics.Summary)
	return diagnostics, nil
}

func (sdr *SystemDiagnosticsRunner) getTestsForLevel() []DiagnosticTest {
	if sdr.test != "" {
		return []DiagnosticTest{sdr.test}
	}
	switch sdr.level {
	case LevelFull:
		return []DiagnosticTest{TestPermissions, TestDevices, TestSigning, TestReports, TestChain}
	case LevelDeep:
		return []DiagnosticTest{TestPermissions, TestDevices, TestSigning, TestReports, TestChain, TestEngine}
	default:
		return []DiagnosticTest{TestPermissions, TestDevices, TestSigning}
	}
}

func (sdr *SystemDiagnosticsRunner) runTest(ctx context.Context, test DiagnosticTest) DiagnosticResult {
	result := DiagnosticResult{Test: test, Timestamp: time.Now()}

	switch test {
	case TestPermissions:
		result.Status, result.Message, result.Details = sdr.testPermissions()
	case TestDevices:
		result.Status, result.Message, result.Details = sdr.testDevices()
	case TestSigning:
		result.Status, result.Message, result.Details = sdr.testSigning()
	case TestChain:
		result.Status, result.Message, result.Details = sdr.testChain(ctx)
	case TestReports:
		result.Status, result.Message, result.Details = sdr.testReports()
	case TestEngine:
		result.Status, result.Message, result.Details = sdr.testEngine(ctx)
	default:
		result.Status, result.Message = StatusFail, fmt.Sprintf("unknown test %q", test)
	}

	result.Duration = time.Since(result.Timestamp)
	sdr.log.Log("DEBUG", "diagnostic test finished", "test", test, "status", result.Status, "message", result.Message)
	return result
}

func (sdr *SystemDiagnosticsRunner) testPermissions() (string, string, interface{}) {
	details := map[string]interface{}{
		"is_root":      security.IsRoot(),
		"require_root": sdr.cfg.Security.RequireRoot,
	}
	if err := security.SecurityChecks(sdr.cfg); err != nil {
		return StatusFail, err.Error(), details
	}
	if !security.IsRoot() {
		return StatusWarn, "not running as root, block devices may not be writable", details
	}
	return StatusPass, "running as root", details
}

func (sdr *SystemDiagnosticsRunner) testDevices() (string, string, interface{}) {
	devs, err := sdr.listFn()
	if err != nil {
		return StatusWarn, fmt.Sprintf("cannot enumerate block devices: %v", err), nil
	}

	details := make([]map[string]interface{}, 0, len(devs))
	eligible := 0
	for _, d := range devs {
		entry := map[string]interface{}{
			"path":      d.Path,
			"serial":    d.Serial,
			"model":     d.Model,
			"interface": d.Interface,
			"media":     d.MediaType,
			"size_gb":   float64(d.Capacity) / (1 << 30),
			"removable": d.Removable,
			"read_only": d.ReadOnly,
		}
		if err := security.CheckTarget(sdr.cfg, d.Identity); err != nil {
			entry["protected"] = err.Error()
		} else if !d.ReadOnly {
			eligible++
		}
		details = append(details, entry)
	}

	if eligible == 0 {
		return StatusWarn, fmt.Sprintf("found %d devices, none eligible for wiping", len(devs)), details
	}
	return StatusPass, fmt.Sprintf("found %d devices, %d eligible for wiping", len(devs), eligible), details
}

func (sdr *SystemDiagnosticsRunner) testSigning() (string, string, interface{}) {
	details := map[string]interface{}{
		"key_file":  sdr.cfg.Signing.KeyFile,
		"algorithm": sdr.cfg.Signing.Algorithm,
	}
	data, err := os.ReadFile(sdr.cfg.Signing.KeyFile)
	if errors.Is(err, os.ErrNotExist) {
		return StatusWarn, "signing key not found, one is generated on the first wipe", details
	}
	if err != nil {
		return StatusFail, fmt.Sprintf("cannot read signing key: %v", err), details
	}
	signer, err := certificate.LoadPrivateKeyPEM(data)
	if err != nil {
		return StatusFail, err.Error(), details
	}
	details["key_algorithm"] = signer.Algorithm()
	if signer.Algorithm() != sdr.cfg.Signing.Algorithm {
		return StatusWarn, fmt.Sprintf("key is %s but %s is configured", signer.Algorithm(), sdr.cfg.Signing.Algorithm), details
	}
	return StatusPass, "signing key loaded", details
}

func (sdr *SystemDiagnosticsRunner) testChain(ctx context.Context) (string, string, interface{}) {
	details := map[string]interface{}{"backend": sdr.cfg.Chain.Backend}

	store, err := storage.Open(ctx, sdr.cfg.Chain)
	if err != nil {
		return StatusFail, fmt.Sprintf("cannot open chain store: %v", err), details
	}
	defer store.Close()

	certs, err := store.Load(ctx)
	if err != nil {
		return StatusFail, fmt.Sprintf("cannot load chain: %v", err), details
	}
	details["length"] = len(certs)

	data, err := os.ReadFile(sdr.cfg.Signing.KeyFile)
	if err != nil {
		return StatusWarn, "signing key unavailable, chain signatures not checked", details
	}
	signer, err := certificate.LoadPrivateKeyPEM(data)
	if err != nil {
		return StatusFail, err.Error(), details
	}

	res := certificate.Verify(certs, signer.Public())
	details["verification"] = res
	if !res.Valid() {
		return StatusFail, res.Err().Error(), details
	}
	return StatusPass, fmt.Sprintf("chain of %d certificates verified", len(certs)), details
}

func (sdr *SystemDiagnosticsRunner) testReports() (string, string, interface{}) {
	dir := sdr.cfg.Reporting.LocalPath
	details := map[string]interface{}{"path": dir, "enabled": sdr.cfg.Reporting.Enabled}
	if !sdr.cfg.Reporting.Enabled {
		return StatusPass, "reporting disabled", details
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return StatusFail, fmt.Sprintf("cannot create report directory: %v", err), details
	}
	f, err := os.CreateTemp(dir, ".wipecert_probe_*")
	if err != nil {
		return StatusFail, fmt.Sprintf("report directory not writable: %v", err), details
	}
	f.Close()
	os.Remove(f.Name())
	return StatusPass, "report directory writable", details
}

// testEngine runs a three pass wipe with full verification against an
// in-memory device.
func (sdr *SystemDiagnosticsRunner) testEngine(ctx context.Context) (string, string, interface{}) {
	const capacity = 1 << 20
	dev := device.NewMemDevice(capacity, device.DefaultBlockSize, device.Identity{Path: "mem://selftest", Interface: "Virtual"})
	policy := wipe.Policy{
		Level: "selftest",
		Passes: []wipe.PassSpec{
			{Pattern: wipe.PatternRandom},
			{Pattern: wipe.PatternComplement},
			{Pattern: wipe.PatternZero},
		},
		Verification: wipe.VerificationSpec{Mode: wipe.VerifyFull},
		Seed:         1,
	}

	engine := wipe.NewEngine(wipe.Options{Logger: sdr.log})
	res, err := engine.ExecuteWipe(ctx, dev, policy)
	if err != nil {
		return StatusFail, err.Error(), nil
	}
	details := map[string]interface{}{
		"state":      res.State(),
		"bytes":      res.Session().BytesProcessed,
		"speed_mbps": res.SpeedMBps(),
	}
	if res.State() != wipe.StateCompleted {
		msg := "self-test wipe did not complete"
		if f := res.Failure(); f != nil {
			msg = f.Message
		}
		return StatusFail, msg, details
	}
	return StatusPass, fmt.Sprintf("self-test wipe verified at %.1f MB/s", res.SpeedMBps()), details
}

func (sdr *SystemDiagnosticsRunner) collectEnvironmentInfo() SystemEnvironment {
	host, _ := os.Hostname()
	return SystemEnvironment{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		Hostname:     host,
		Username:     os.Getenv("USER"),
		IsRoot:       security.IsRoot(),
		CPUCount:     runtime.NumCPU(),
		ChainBackend: sdr.cfg.Chain.Backend,
	}
}

func calculateSummary(results []DiagnosticResult) DiagnosticSummary {
	summary := DiagnosticSummary{TotalTests: len(results)}
	for _, result := range results {
		switch result.Status {
		case StatusPass:
			summary.Passed++
		case StatusFail:
			summary.Failed++
		case StatusWarn:
			summary.Warnings++
		}
	}
	return summary
}

func determineOverallStatus(summary DiagnosticSummary) string {
	if summary.Failed > 0 {
		return "CRITICAL"
	}
	if summary.Warnings > 0 {
		return "WARNING"
	}
	return "HEALTHY"
}

// SaveDiagnostics writes the diagnostics as JSON and returns the file path.
// An empty outputPath writes into the report directory.
func SaveDiagnostics(diagnostics *SystemDiagnostics, outputPath, reportDir string) (string, error) {
	if outputPath == "" {
		timestamp := diagnostics.StartTime.Format("20060102_150405")
		outputPath = filepath.Join(reportDir, fmt.Sprintf("wipecert_diagnostics_%s.json", timestamp))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("create diagnostics directory: %w", err)
	}

	data, err := json.MarshalIndent(diagnostics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diagnostics: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return "", fmt.Errorf("write diagnostics: %w", err)
	}
	return outputPath, nil
}
