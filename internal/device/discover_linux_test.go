//go:build linux

package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSys(t *testing.T, path, value string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(value+"\n"), 0644))
}

func TestListReadsSysfs(t *testing.T) {
	root := t.TempDir()
	old := sysBlock
	sysBlock = root
	t.Cleanup(func() { sysBlock = old })

	writeSys(t, filepath.Join(root, "sda", "size"), "2048")
	writeSys(t, filepath.Join(root, "sda", "removable"), "0")
	writeSys(t, filepath.Join(root, "sda", "queue", "rotational"), "1")
	writeSys(t, filepath.Join(root, "sda", "device", "model"), "WDC WD10")
	writeSys(t, filepath.Join(root, "sda", "device", "serial"), "WD-123")

	writeSys(t, filepath.Join(root, "nvme0n1", "size"), "4096")
	writeSys(t, filepath.Join(root, "nvme0n1", "ro"), "1")
	writeSys(t, filepath.Join(root, "nvme0n1", "queue", "rotational"), "0")

	writeSys(t, filepath.Join(root, "loop0", "size"), "0")
	writeSys(t, filepath.Join(root, "ram0", "size"), "8192")

	devs, err := List()
	require.NoError(t, err)
	require.Len(t, devs, 2)

	assert.Equal(t, "/dev/nvme0n1", devs[0].Path)
	assert.Equal(t, "NVMe", devs[0].Interface)
	assert.Equal(t, "SSD", devs[0].MediaType)
	assert.True(t, devs[0].ReadOnly)
	assert.Equal(t, int64(4096*512), devs[0].Capacity)

	assert.Equal(t, "/dev/sda", devs[1].Path)
	assert.Equal(t, "HDD", devs[1].MediaType)
	assert.Equal(t, "WD-123", devs[1].Serial)
	assert.Equal(t, "WDC WD10", devs[1].Model)
	assert.False(t, devs[1].Removable)
}

func TestListMissingSysfs(t *testing.T) {
	old := sysBlock
	sysBlock = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { sysBlock = old })

	_, err := List()
	assert.Error(t, err)
}
