// Package config loads tollkeeper settings from viper into typed structs.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appName = "tollkeeper"

// ExpandPath resolves a leading ~ and $VAR references in a configured path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}

// DataDir is where the database and API certificate live by default:
// $XDG_DATA_HOME/tollkeeper when set, ~/.local/share/tollkeeper otherwise.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	return ExpandPath(filepath.Join("~", ".local", "share", appName))
}
