package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, gotPath, err := LoadServer(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, gotPath)
	assert.Equal(t, DefaultServer(), cfg)

	// the default file must exist and be loadable on the next run
	_, err = os.Stat(path)
	require.NoError(t, err)
	cfg2, _, err := LoadServer(nil, path)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestLoadServerReadsFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "addr: \":9100\"\nnotes_dir: notes\nshutdown_timeout: 9s\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, _, err := LoadServer(nil, path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "notes", cfg.NotesDir)
	assert.Equal(t, 9*time.Second, cfg.ShutdownTimeout)
	// unset keys keep their defaults
	assert.Equal(t, DefaultServer().LogLevel, cfg.LogLevel)
}

func TestLoadClientEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_addr: \"10.0.0.1:7000\"\n"), 0o600))
	t.Setenv("VOXLINK_SERVER_ADDR", "10.0.0.2:7000")

	cfg, _, err := LoadClient(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7000", cfg.ServerAddr)
}

func TestLoadClientRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- broken"), 0o600))

	_, _, err := LoadClient(nil, path)
	require.Error(t, err)
}
