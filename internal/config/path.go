package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir is where a replica keeps its database when no data dir is
// configured. XDG_DATA_HOME wins when set; otherwise the per-user application
// data location of the host OS is used, and ./data when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Maestro")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Maestro")
		}
		return filepath.Join(home, "AppData", "Local", "Maestro")
	}
	return filepath.Join(home, ".local", "share", "maestro")
}
