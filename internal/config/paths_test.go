package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTempusPath_Default(t *testing.T) {
	t.Setenv("TEMPUS_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	got := TempusPath()
	want := filepath.Join(home, ".config", "tempus")
	if got != want {
		t.Errorf("TempusPath() = %q, want %q", got, want)
	}
}

func TestTempusPath_EnvOverride(t *testing.T) {
	t.Setenv("TEMPUS_PATH", "/tmp/custom-tempus")

	got := TempusPath()
	want := "/tmp/custom-tempus"
	if got != want {
		t.Errorf("TempusPath() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("TEMPUS_PATH", "/tmp/test-tempus")

	got := ConfigPath()
	want := "/tmp/test-tempus/config.jsonc"
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestDotenvPath(t *testing.T) {
	t.Setenv("TEMPUS_PATH", "/tmp/test-tempus")

	got := DotenvPath()
	want := "/tmp/test-tempus/.env"
	if got != want {
		t.Errorf("DotenvPath() = %q, want %q", got, want)
	}
}

func TestHeartbeatPath(t *testing.T) {
	t.Setenv("TEMPUS_PATH", "/tmp/test-tempus")

	got := HeartbeatPath()
	want := "/tmp/test-tempus/heartbeat.json"
	if got != want {
		t.Errorf("HeartbeatPath() = %q, want %q", got, want)
	}
}
