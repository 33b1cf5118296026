package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDir is the configuration directory name
const ConfigDir = "cdrive"

// getConfigDir returns the platform-appropriate config directory.
//   - Windows: %APPDATA%\cdrive
//   - Unix: ~/.config/cdrive (XDG standard)
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, ConfigDir)
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, ConfigDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", ConfigDir)
	}
	return filepath.Join(os.TempDir(), ConfigDir)
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
