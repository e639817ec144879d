package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeTOML(t, `
[node]
id = 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 5, cfg.Node.ID)
	assert.Equal(t, "virtual", cfg.Bus.Interface)
	assert.Equal(t, "vcan0", cfg.Bus.Channel)
	assert.True(t, cfg.Bus.FD)
}

func TestLoadOverridesAllFields(t *testing.T) {
	path := writeTOML(t, `
[node]
id = 66

[bus]
interface = "socketcanfd"
channel = "can0"
fd = true

[log]
level = "debug"
json = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 66, cfg.Node.ID)
	assert.Equal(t, "socketcanfd", cfg.Bus.Interface)
	assert.Equal(t, "can0", cfg.Bus.Channel)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadRejectsNodeIDAboveMax(t *testing.T) {
	path := writeTOML(t, `
[node]
id = 200
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingChannel(t *testing.T) {
	path := writeTOML(t, `
[node]
id = 1

[bus]
interface = "virtual"
channel = ""
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadSurfacesFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
