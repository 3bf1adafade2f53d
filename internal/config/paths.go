package config

import (
	"os"
	"path/filepath"
)

// TempusPath returns the root directory for tempus data.
// It uses $TEMPUS_PATH if set, otherwise defaults to ~/.config/tempus.
func TempusPath() string {
	if v := os.Getenv("TEMPUS_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tempus")
	}
	return filepath.Join(home, ".config", "tempus")
}

// ConfigPath returns the path to the tempus config file.
func ConfigPath() string {
	return filepath.Join(TempusPath(), "config.jsonc")
}

// DotenvPath returns the path to the tempus .env file.
func DotenvPath() string {
	return filepath.Join(TempusPath(), ".env")
}

// HeartbeatPath returns the path to the daemon's heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(TempusPath(), "heartbeat.json")
}
