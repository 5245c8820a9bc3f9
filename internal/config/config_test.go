package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "local", cfg.Gatekeeper.Registry)
	assert.Equal(t, 30, cfg.Gatekeeper.TimeoutSeconds)
	assert.Equal(t, "auto", cfg.Output.DefaultFormat)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := Path(dir)

	cfg := Defaults()
	cfg.Home = dir
	cfg.Gatekeeper.URL = "http://localhost:4224"
	cfg.Gatekeeper.Registry = "peerbit"
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.WriteFile(path, []byte("gatekeeper:\n  url: http://gk:4224\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gk:4224", cfg.Gatekeeper.URL)
	assert.Equal(t, "local", cfg.Gatekeeper.Registry)
	assert.Equal(t, 30, cfg.Gatekeeper.TimeoutSeconds)
}

func TestLoadOrDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// No config file: defaults with home applied
	cfg, err := LoadOrDefaults(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Home)
	assert.Equal(t, "local", cfg.Gatekeeper.Registry)

	// With a config file
	saved := Defaults()
	saved.Home = dir
	saved.Gatekeeper.Registry = "tBTC"
	require.NoError(t, Save(saved, Path(dir)))

	cfg, err = LoadOrDefaults(dir)
	require.NoError(t, err)
	assert.Equal(t, "tBTC", cfg.Gatekeeper.Registry)
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.WriteFile(path, []byte("\tnot yaml {{{"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
