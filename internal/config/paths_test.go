package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDreamPath_Default(t *testing.T) {
	t.Setenv("DREAMOS_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	got := DreamPath()
	want := filepath.Join(home, ".dreamos")
	if got != want {
		t.Errorf("DreamPath() = %q, want %q", got, want)
	}
}

func TestDreamPath_EnvOverride(t *testing.T) {
	t.Setenv("DREAMOS_PATH", "/tmp/custom-dreamos")

	got := DreamPath()
	want := "/tmp/custom-dreamos"
	if got != want {
		t.Errorf("DreamPath() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("DREAMOS_PATH", "/tmp/test-dreamos")

	got := ConfigPath()
	want := "/tmp/test-dreamos/config.jsonc"
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestRegistryPath(t *testing.T) {
	t.Setenv("DREAMOS_PATH", "/tmp/test-dreamos")

	got := RegistryPath()
	want := "/tmp/test-dreamos/agents.yaml"
	if got != want {
		t.Errorf("RegistryPath() = %q, want %q", got, want)
	}
}
