//go:build linux

package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// List enumerates whole-disk block devices from sysfs. Partitions, ram disks
// and empty loop devices are left out.
func List() ([]Info, error) {
	entries, err := os.ReadDir(sysBlock)
	if err != nil {
		return nil, fmt.Errorf("list block devices: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "ram") || strings.HasPrefix(name, "zram") {
			continue
		}
		base := filepath.Join(sysBlock, name)
		sectors, err := strconv.ParseInt(readSysString(filepath.Join(base, "size")), 10, 64)
		if err != nil || sectors == 0 {
			continue
		}
		out = append(out, Info{
			Identity:  probeIdentity("/dev/"+name, name),
			Capacity:  sectors * 512, // sysfs always counts 512-byte sectors
			Removable: readSysString(filepath.Join(base, "removable")) == "1",
			ReadOnly:  readSysString(filepath.Join(base, "ro")) == "1",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
