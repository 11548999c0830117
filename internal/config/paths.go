package config

import (
	"os"
	"path/filepath"
)

// DreamPath returns the root directory for DreamOS data.
// It uses $DREAMOS_PATH if set, otherwise defaults to ~/.dreamos.
func DreamPath() string {
	if v := os.Getenv("DREAMOS_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".dreamos")
	}
	return filepath.Join(home, ".dreamos")
}

// ConfigPath returns the path to the DreamOS config file.
func ConfigPath() string {
	return filepath.Join(DreamPath(), "config.jsonc")
}

// DotenvPath returns the path to the DreamOS .env file.
func DotenvPath() string {
	return filepath.Join(DreamPath(), ".env")
}

// RegistryPath returns the path to the agent registry file.
func RegistryPath() string {
	return filepath.Join(DreamPath(), "agents.yaml")
}

// HeartbeatsPath returns the directory holding agent liveness files.
func HeartbeatsPath() string {
	return filepath.Join(DreamPath(), "heartbeats")
}
