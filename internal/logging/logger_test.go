package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf))

	l.Log("INFO", "pass complete", "pass", 2, "device", "/dev/sdb", "err", errors.New("boom"), "dangling")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "pass complete", lines[0]["message"])
	assert.Equal(t, float64(2), lines[0]["pass"])
	assert.Equal(t, "/dev/sdb", lines[0]["device"])
	assert.Equal(t, "boom", lines[0]["err"])
	assert.Equal(t, "dangling", lines[0]["extra"])
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf).Level(zerolog.WarnLevel))

	l.Log("DEBUG", "hidden")
	l.Log("INFO", "hidden")
	l.Log("WARN", "shown")
	l.Log("FATAL", "also shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "fatal", lines[1]["level"])
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf)).With("session", "abc")
	l.Log("INFO", "started")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "abc", lines[0]["session"])
}

func TestNewEnterpriseLoggerWritesFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Console = false
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "wipecert.log")

	l, err := NewEnterpriseLogger(cfg, false)
	require.NoError(t, err)
	l.Log("INFO", "hello", "k", "v")
	l.Log("DEBUG", "filtered")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.NotContains(t, string(data), "filtered")
}

func TestNopAndOrNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Log("ERROR", "nothing")
		OrNop(nil).Log("INFO", "nothing")
	})
}
