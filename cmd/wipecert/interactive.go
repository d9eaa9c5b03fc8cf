package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"wipecert/internal/device"
	"wipecert/internal/security"
)

// pickDevices shows the eligible devices and reads a selection such as
// "1,3" or "all" from in.
func pickDevices(in io.Reader, out io.Writer, devs []device.Info) ([]string, error) {
	var eligible []device.Info
	for _, d := range devs {
		if d.ReadOnly || security.CheckTarget(cfg, d.Identity) != nil {
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no devices eligible for wiping")
	}

	fmt.Fprintln(out, "Available devices:")
	for i, d := range eligible {
		fmt.Fprintf(out, "%d. %s - %s %s %s (%s)\n", i+1, d.Path, formatSize(d.Capacity),
			d.Interface, orDash(d.Model), orDash(d.Serial))
	}
	fmt.Fprint(out, "Select devices (e.g. 1,3 or all): ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("read selection: %w", err)
	}
	line = strings.TrimSpace(line)
	if strings.EqualFold(line, "all") {
		paths := make([]string, len(eligible))
		for i, d := range eligible {
			paths[i] = d.Path
		}
		return paths, nil
	}

	var paths []string
	seen := make(map[int]bool)
	for _, field := range strings.Split(line, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || n < 1 || n > len(eligible) {
			return nil, fmt.Errorf("invalid selection %q", strings.TrimSpace(field))
		}
		if !seen[n] {
			seen[n] = true
			paths = append(paths, eligible[n-1].Path)
		}
	}
	return paths, nil
}
