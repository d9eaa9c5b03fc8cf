package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"wipecert/internal/wipe"
)

// progressPrinter writes progress lines for one or more concurrent sessions.
// A single session redraws one line; several sessions print a line per event.
type progressPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	multi bool
}

func newProgressPrinter(w io.Writer, multi bool) *progressPrinter {
	return &progressPrinter{w: w, multi: multi}
}

func (p *progressPrinter) print(path string, ev wipe.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := formatProgress(path, ev)
	switch {
	case p.multi:
		if ev.Milestone() {
			fmt.Fprintln(p.w, line)
		}
	case ev.Milestone():
		fmt.Fprintf(p.w, "\r%-100s\n", line)
	default:
		fmt.Fprintf(p.w, "\r%-100s", line)
	}
}

func formatProgress(path string, ev wipe.ProgressEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", path)
	switch ev.Kind {
	case wipe.ProgressPassComplete:
		fmt.Fprintf(&b, "pass %d/%d complete", ev.Pass, ev.TotalPasses)
	case wipe.ProgressVerifying:
		b.WriteString("verifying")
	case wipe.ProgressDone:
		fmt.Fprintf(&b, "%s", ev.State)
	default:
		fmt.Fprintf(&b, "pass %d/%d %5.1f%%", ev.Pass, ev.TotalPasses, ev.Percent())
		if ev.ETA > 0 {
			fmt.Fprintf(&b, " ETA %s", formatETA(ev.ETA))
		}
	}
	if ev.Temperature.Available {
		fmt.Fprintf(&b, " %.1f°C", ev.Temperature.Celsius)
	}
	return b.String()
}

func formatETA(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
	{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
	{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	{"B", 1},
}

// parseSize reads sizes like 4096, 64MiB, 1G or 500MB.
func parseSize(s string) (int64, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, unit := range sizeUnits {
		if strings.HasSuffix(u, unit.suffix) {
			u, mult = strings.TrimSpace(strings.TrimSuffix(u, unit.suffix)), unit.mult
			break
		}
	}
	n, err := strconv.ParseInt(u, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
