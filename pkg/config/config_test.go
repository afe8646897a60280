package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Log.Debug)

	assert.Empty(t, cfg.VNC.Endpoint)
	assert.Equal(t, "auto", cfg.VNC.Auth)
	assert.Equal(t, 100*time.Millisecond, cfg.VNC.UpdateInterval)
	assert.Equal(t, time.Second, cfg.VNC.ScreenshotTimeout)
	assert.Equal(t, 30*time.Second, cfg.VNC.DialTimeout)

	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vncagent.yaml")
	yaml := `
log:
  level: debug
vnc:
  endpoint: 10.0.0.5:5901
  username: admin
  auth: none
  update_interval: 250ms
metrics:
  enabled: true
  listen: ":9100"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "10.0.0.5:5901", cfg.VNC.Endpoint)
	assert.Equal(t, "admin", cfg.VNC.Username)
	assert.Equal(t, "none", cfg.VNC.Auth)
	assert.Equal(t, 250*time.Millisecond, cfg.VNC.UpdateInterval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)

	// Unset keys keep their defaults
	assert.Equal(t, time.Second, cfg.VNC.ScreenshotTimeout)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vncagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vnc:\n  endpoint: from-yaml:5900\n"), 0o644))

	t.Setenv("VNC_ENDPOINT", "from-env:5900")
	t.Setenv("VNC_PASSWORD", "hunter2")
	t.Setenv("METRICS_ENABLED", "true")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "from-env:5900", cfg.VNC.Endpoint)
	assert.Equal(t, "hunter2", cfg.VNC.Password)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "vncagent.env")
	content := `
# comment lines are ignored
VNC_USERNAME=fileuser
VNC_AUTH="none"
`
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o644))

	// Real environment beats the environment file
	t.Setenv("VNC_AUTH", "auto")
	t.Cleanup(func() { os.Unsetenv("VNC_USERNAME") })

	cfg, err := Load("", envPath)
	require.NoError(t, err)

	assert.Equal(t, "fileuser", cfg.VNC.Username)
	assert.Equal(t, "auto", cfg.VNC.Auth)
}

func TestLoadMissingFilesAreOptional(t *testing.T) {
	cfg, err := Load("/nonexistent/vncagent.yaml", "/nonexistent/vncagent.env")
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.VNC.Auth)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vnc: [not a map"), 0o644))

	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoadMalformedEnvironmentFile(t *testing.T) {
	dir := t.TempDir()

	// Lines without an equals sign fail loudly rather than being skipped
	badPath := filepath.Join(dir, "malformed.env")
	require.NoError(t, os.WriteFile(badPath, []byte("NOT_A_PAIR\n"), 0o644))
	_, err := Load("", badPath)
	assert.Error(t, err)
}

func TestSetFieldValueBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"off", false},
	}

	for _, tt := range tests {
		t.Setenv("METRICS_ENABLED", tt.value)
		cfg, err := Load("", "")
		require.NoError(t, err, "value %q", tt.value)
		assert.Equal(t, tt.want, cfg.Metrics.Enabled, "value %q", tt.value)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	assert.Empty(t, FindConfigFile("vncagent"))

	require.NoError(t, os.WriteFile("vncagent.yaml", []byte("{}"), 0o644))
	assert.Equal(t, "vncagent.yaml", FindConfigFile("vncagent"))
}
