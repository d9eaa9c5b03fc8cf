package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wipecert/internal/certificate"
	"wipecert/internal/config"
	"wipecert/internal/wipe"
)

// Version is stamped into every report.
var Version = "dev"

// Report is the record of one CLI run over one or more devices.
type Report struct {
	RunID      string            `json:"run_id"`
	Version    string            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Level      string            `json:"level,omitempty"`
	Operator   string            `json:"operator,omitempty"`
	DryRun     bool              `json:"dry_run"`
	Operations []OperationReport `json:"operations"`
	Summary    SummaryReport     `json:"summary"`
	ExitCode   int               `json:"exit_code"`
	Duration   string            `json:"duration"`
}

// OperationReport describes one wipe session.
type OperationReport struct {
	SessionID     string     `json:"session_id"`
	Device        string     `json:"device"`
	Serial        string     `json:"serial,omitempty"`
	Passes        []string   `json:"passes"`
	BlockSize     int        `json:"block_size"`
	Status        string     `json:"status"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	BytesWiped    int64      `json:"bytes_wiped"`
	BlocksRetried int64      `json:"blocks_retried"`
	SpeedMBps     float64    `json:"speed_mbps"`
	CertificateID string     `json:"certificate_id,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type SummaryReport struct {
	TotalDevices int     `json:"total_devices"`
	Completed    int     `json:"completed"`
	Aborted      int     `json:"aborted"`
	Failed       int     `json:"failed"`
	Certified    int     `json:"certified"`
	TotalBytes   int64   `json:"total_bytes"`
	AverageSpeed float64 `json:"average_speed_mbps"`
	SuccessRate  float64 `json:"success_rate"`
}

// RunMeta is the run context that does not come from the sessions.
type RunMeta struct {
	Level     string
	Operator  string
	DryRun    bool
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int
}

// GenerateReport builds the run report. certs maps session ids to the
// certificates issued for them; sessions without one are reported uncertified.
func GenerateReport(results []*wipe.Result, certs map[string]*certificate.Certificate, meta RunMeta) *Report {
	report := &Report{
		RunID:      fmt.Sprintf("run_%d", meta.StartTime.UnixNano()),
		Version:    Version,
		Timestamp:  meta.StartTime,
		Level:      meta.Level,
		Operator:   meta.Operator,
		DryRun:     meta.DryRun,
		Operations: make([]OperationReport, 0, len(results)),
		ExitCode:   meta.ExitCode,
		Duration:   meta.EndTime.Sub(meta.StartTime).String(),
	}

	var totalSpeed float64
	sum := &report.Summary
	for _, res := range results {
		s := res.Session()
		op := OperationReport{
			SessionID:     s.ID,
			Device:        s.Device.Path,
			Serial:        s.Device.Serial,
			BlockSize:     s.BlockSize,
			Status:        string(s.State),
			StartTime:     s.StartedAt,
			BytesWiped:    s.BytesProcessed,
			BlocksRetried: s.BlocksRetried,
			SpeedMBps:     res.SpeedMBps(),
		}
		for _, p := range s.Policy.Passes {
			op.Passes = append(op.Passes, p.String())
		}
		if !s.EndedAt.IsZero() {
			end := s.EndedAt
			op.EndTime = &end
		}
		if s.Failure != nil {
			op.Error = s.Failure.Message
		}
		if cert, ok := certs[s.ID]; ok {
			op.CertificateID = cert.ID
			sum.Certified++
		}

		switch s.State {
		case wipe.StateCompleted:
			sum.Completed++
		case wipe.StateAborted:
			sum.Aborted++
		default:
			sum.Failed++
		}
		sum.TotalBytes += s.BytesProcessed
		totalSpeed += op.SpeedMBps
		report.Operations = append(report.Operations, op)
	}

	sum.TotalDevices = len(results)
	if n := len(results); n > 0 {
		sum.AverageSpeed = totalSpeed / float64(n)
		sum.SuccessRate = float64(sum.Completed) / float64(n) * 100
	}
	return report
}

// SaveReport writes the report into cfg.LocalPath and returns the file path.
// Nothing is written when reporting is disabled.
func SaveReport(report *Report, cfg config.ReportingConfig) (string, error) {
	if !cfg.Enabled {
		return "", nil
	}
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return "", fmt.Errorf("error creating reports directory: %w", err)
	}

	format := cfg.Format
	if format == "" {
		format = "json"
	}
	filename := fmt.Sprintf("wipecert_report_%s.%s", report.Timestamp.Format("20060102_150405"), format)
	path := filepath.Join(cfg.LocalPath, filename)

	var data []byte
	switch format {
	case "json":
		var err error
		data, err = json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", fmt.Errorf("error marshaling report: %w", err)
		}
	case "txt":
		data = []byte(RenderReport(report))
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("error writing report: %w", err)
	}
	return path, nil
}

// RenderReport formats the run report as plain text.
func RenderReport(report *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "wipecert %s - run report\n", report.Version)
	fmt.Fprintf(&b, "Run ID:    %s\n", report.RunID)
	fmt.Fprintf(&b, "Started:   %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration:  %s\n", report.Duration)
	if report.Level != "" {
		fmt.Fprintf(&b, "Level:     %s\n", report.Level)
	}
	if report.DryRun {
		b.WriteString("Mode:      dry run\n")
	}
	b.WriteString(strings.Repeat("=", 72) + "\n\n")

	for _, op := range report.Operations {
		fmt.Fprintf(&b, "%s  %s\n", op.Device, strings.ToUpper(op.Status))
		fmt.Fprintf(&b, "  Session:     %s\n", op.SessionID)
		fmt.Fprintf(&b, "  Passes:      %s\n", strings.Join(op.Passes, ", "))
		fmt.Fprintf(&b, "  Written:     %s at %.1f MB/s\n", formatBytes(op.BytesWiped), op.SpeedMBps)
		if op.BlocksRetried > 0 {
			fmt.Fprintf(&b, "  Retried:     %d blocks\n", op.BlocksRetried)
		}
		if op.CertificateID != "" {
			fmt.Fprintf(&b, "  Certificate: %s\n", op.CertificateID)
		}
		if op.Error != "" {
			fmt.Fprintf(&b, "  Error:       %s\n", op.Error)
		}
		b.WriteString("\n")
	}

	s := report.Summary
	b.WriteString(strings.Repeat("-", 72) + "\n")
	fmt.Fprintf(&b, "Devices: %d  completed: %d  aborted: %d  failed: %d  certified: %d\n",
		s.TotalDevices, s.Completed, s.Aborted, s.Failed, s.Certified)
	fmt.Fprintf(&b, "Total written: %s  success rate: %.2f%%\n", formatBytes(s.TotalBytes), s.SuccessRate)
	return b.String()
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
