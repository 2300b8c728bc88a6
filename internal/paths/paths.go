// Package paths resolves where Little Helper keeps its settings and data.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// AppID is the directory name used under the platform config and data roots.
	AppID = "little_helper"
	// HiddenDirName is the per-root directory that holds version history.
	HiddenDirName = ".little-helper"
)

const (
	EnvConfigDir = "LH_CONFIG_DIR"
	EnvDataDir   = "LH_DATA_DIR"
)

// overridable in tests
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// ConfigDir returns the settings directory.
//
// Linux:   $XDG_CONFIG_HOME/little_helper (fallback ~/.config/little_helper)
// macOS:   ~/Library/Application Support/little_helper
// Windows: %APPDATA%/little_helper
func ConfigDir() (string, error) {
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, AppID), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", AppID), nil
	default:
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppID), nil
	}
}

// DataDir returns the directory for the index database, audit log and archive.
func DataDir() (string, error) {
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, AppID), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", AppID), nil
	default:
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppID), nil
	}
}

func SettingsFile(configDir string) string    { return filepath.Join(configDir, "settings.json") }
func GoogleOAuthFile(configDir string) string { return filepath.Join(configDir, "google_oauth.json") }
func SkillsFile(configDir string) string      { return filepath.Join(configDir, "skills.toml") }
func EnvFile(configDir string) string         { return filepath.Join(configDir, ".env") }
func IndexDB(dataDir string) string           { return filepath.Join(dataDir, "file_index.db") }
func AuditDir(dataDir string) string          { return filepath.Join(dataDir, "audit") }
func ArchiveDir(dataDir string) string        { return filepath.Join(dataDir, "archive") }

// VersionsDir returns the hidden version store directory for a working root.
func VersionsDir(root string) string {
	return filepath.Join(root, HiddenDirName, "versions")
}
