// Package paths resolves where smartnotifier keeps its configuration and
// its rule data.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user configuration and data directories.
const AppName = "smartnotifier"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "SMARTNOTIFIER_CONFIG_DIR"
	EnvDataDir   = "SMARTNOTIFIER_DATA_DIR"
)

// File and directory names inside the resolved directories.
const (
	ConfigFileName = "config.yaml"
	LegacyDirName  = "data"
)

// platformDir holds platform lookups that tests override.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// xdgDir returns $env/smartnotifier, or ~/fallback.../smartnotifier when env
// is unset.
func xdgDir(env string, fallback ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return filepath.Join(v, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...), nil
}

// DefaultConfigDir returns the platform configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/smartnotifier (fallback ~/.config/smartnotifier)
// macOS:   ~/Library/Application Support/smartnotifier
// Windows: %APPDATA%/smartnotifier
func DefaultConfigDir() (string, error) {
	if platformDir.goos == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultDataDir returns the platform data directory. Outside Linux it is
// the configuration directory.
//
// Linux:   $XDG_DATA_HOME/smartnotifier (fallback ~/.local/share/smartnotifier)
func DefaultDataDir() (string, error) {
	if platformDir.goos == "linux" {
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	}
	return DefaultConfigDir()
}

// ResolveConfigDir applies flag > SMARTNOTIFIER_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies flag > SMARTNOTIFIER_DATA_DIR > config value >
// DefaultDataDir.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, v := range []string{flag, os.Getenv(EnvDataDir), configValue} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	return DefaultDataDir()
}

// ConfigFile returns the config file path inside configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}

// LegacyDir returns the directory earlier releases wrote CSV rule files to.
func LegacyDir(dataDir string) string {
	return filepath.Join(dataDir, LegacyDirName)
}
