package paths

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)

	got, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestDataDir_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG only applies on linux")
	}
	t.Setenv(EnvDataDir, "")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	got, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg-data", AppID), got)
}

func TestConfigDir_HomeFallback(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("home fallback layout is linux specific")
	}
	t.Setenv(EnvConfigDir, "")
	t.Setenv("XDG_CONFIG_HOME", "")
	orig := platformDir.homeDir
	platformDir.homeDir = func() (string, error) { return "/home/tester", nil }
	defer func() { platformDir.homeDir = orig }()

	got, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.config/little_helper", got)
}

func TestVersionsDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/w", ".little-helper", "versions"), VersionsDir("/w"))
}
