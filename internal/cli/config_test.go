package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ripple.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
max_readers: 8
read_timeout_ms: 250
busy_retries: 5
busy_backoff_ms: 20
busy_timeout_ms: 1000
stmt_cache_capacity: 32
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxReaders)
	assert.Equal(t, 250, cfg.ReadTimeoutMS)
	assert.Equal(t, 5, cfg.BusyRetries)
	assert.Equal(t, 20, cfg.BusyBackoffMS)
	assert.Equal(t, 1000, cfg.BusyTimeoutMS)
	assert.Equal(t, 32, cfg.StmtCacheCapacity)
	assert.Len(t, cfg.Options(), 5)
}

func TestLoadConfig_PartialFile(t *testing.T) {
	path := writeConfig(t, "max_readers: 2\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxReaders)
	assert.Zero(t, cfg.BusyRetries)
	assert.Len(t, cfg.Options(), 1, "unset knobs produce no options")
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "max_readers: [not a number\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
