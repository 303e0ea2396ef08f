package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eldolfin/codlab/internal/config"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = \"0.0.0.0:9000\"\n[journal]\ndriver = \"memory\"\n"), 0o600))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--listen", "127.0.0.1:7000"}))
	f := flags{configPath: path, listen: "127.0.0.1:7000"}

	cfg, err := loadConfig(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, config.JournalMemory, cfg.Journal.Driver)
}

func TestLoadConfig_InvalidJournalFlag(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--journal", "mongo"}))

	_, err := loadConfig(cmd, flags{journal: "mongo"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
