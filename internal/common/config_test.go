package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_HasUsableRunnerDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "module-runner", cfg.Runner.ModuleRunner)
	assert.Equal(t, "localhost", cfg.Runner.Target)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_NoPathsReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_LaterFileOverridesEarlierFields(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")

	require.NoError(t, os.WriteFile(first, []byte(`
[runner]
module_runner = "first-runner"
target = "host-a"

[logging]
level = "debug"
`), 0o644))
	require.NoError(t, os.WriteFile(second, []byte(`
[runner]
target = "host-b"
`), 0o644))

	cfg, err := LoadConfig([]string{first, second})
	require.NoError(t, err)

	assert.Equal(t, "first-runner", cfg.Runner.ModuleRunner)
	assert.Equal(t, "host-b", cfg.Runner.Target)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_MissingFileFails(t *testing.T) {
	_, err := LoadConfig([]string{filepath.Join(t.TempDir(), "nope.toml")})
	require.Error(t, err)
}

func TestLoadConfig_MalformedTomlFails(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("not = [valid"), 0o644))

	_, err := LoadConfig([]string{bad})
	require.Error(t, err)
}
