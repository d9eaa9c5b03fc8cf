package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert/internal/config"
	"wipecert/internal/device"
)

func TestShouldSkipDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Security.ExcludedDevices = []string{"/dev/sda", "WD-123", ""}

	assert.True(t, ShouldSkipDevice(cfg, device.Identity{Path: "/dev/sda"}))
	assert.True(t, ShouldSkipDevice(cfg, device.Identity{Path: "/dev/sdc", Serial: "WD-123"}))
	assert.False(t, ShouldSkipDevice(cfg, device.Identity{Path: "/dev/sdb"}))
	assert.False(t, ShouldSkipDevice(nil, device.Identity{Path: "/dev/sda"}))
}

func TestSecurityChecks(t *testing.T) {
	cfg := config.Default()
	cfg.Security.RequireRoot = false
	assert.NoError(t, SecurityChecks(cfg))

	cfg.Security.RequireRoot = true
	if IsRoot() {
		assert.NoError(t, SecurityChecks(cfg))
	} else {
		assert.ErrorIs(t, SecurityChecks(cfg), ErrNotRoot)
	}
}

func TestParseMounts(t *testing.T) {
	in := strings.Join([]string{
		"proc /proc proc rw 0 0",
		"/dev/sda2 / ext4 rw,relatime 0 0",
		`/dev/nvme0n1p1 /mnt/my\040disk vfat rw 0 0`,
		"tmpfs /tmp tmpfs rw 0 0",
	}, "\n")
	mounts, err := parseMounts(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []mount{
		{source: "/dev/sda2", point: "/"},
		{source: "/dev/nvme0n1p1", point: "/mnt/my disk"},
	}, mounts)
}

func TestIsPartitionOf(t *testing.T) {
	tests := []struct {
		part, disk string
		want       bool
	}{
		{"/dev/sda1", "/dev/sda", true},
		{"/dev/nvme0n1p2", "/dev/nvme0n1", true},
		{"/dev/sda", "/dev/sda", false},
		{"/dev/sdab", "/dev/sda", false},
		{"/dev/sdb1", "/dev/sda", false},
		{"/dev/nvme0n1p", "/dev/nvme0n1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPartitionOf(tt.part, tt.disk), "%s of %s", tt.part, tt.disk)
	}
}

func TestCheckTarget(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(mounts, []byte(
		"/dev/zz-test9 / ext4 rw 0 0\n/dev/zz-test8 /data ext4 rw 0 0\n"), 0644))
	old := MountsFile
	MountsFile = mounts
	t.Cleanup(func() { MountsFile = old })

	cfg := config.Default()
	cfg.Security.ProtectedMounts = []string{"/", "/boot"}
	cfg.Security.ExcludedDevices = []string{"/dev/zz-test7"}

	assert.ErrorIs(t, CheckTarget(cfg, device.Identity{Path: "/dev/zz-test9"}), ErrProtected)
	assert.NoError(t, CheckTarget(cfg, device.Identity{Path: "/dev/zz-test8"}))
	assert.ErrorIs(t, CheckTarget(cfg, device.Identity{Path: "/dev/zz-test7"}), ErrExcluded)
	assert.NoError(t, CheckTarget(cfg, device.Identity{Path: "sim://disk"}))
}
