package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/mindtype/
//   - Linux:   $XDG_CONFIG_HOME/mindtype/ or ~/.config/mindtype/
//   - Windows: %APPDATA%\mindtype\
func PlatformConfigDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "mindtype")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "mindtype")
		}
		return filepath.Join(home, "AppData", "Roaming", "mindtype")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "mindtype")
		}
		return filepath.Join(home, ".config", "mindtype")
	}
}

// DefaultPath returns the CLI's default config file path.
// MINDTYPE_CONFIG overrides it.
func DefaultPath() string {
	if v := os.Getenv("MINDTYPE_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}
