package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }}
// templates, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	standard, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = "info"
	}
	if cfg.Boards.Dir == "" {
		cfg.Boards.Dir = filepath.Join(DreamPath(), "boards")
	}
	if cfg.Boards.LockTimeout == 0 {
		cfg.Boards.LockTimeout = Duration(5 * time.Second)
	}
	if cfg.Boards.StaleAfter == 0 {
		cfg.Boards.StaleAfter = Duration(10 * time.Minute)
	}
	if cfg.Boards.ArchiveAfter == 0 {
		cfg.Boards.ArchiveAfter = Duration(7 * 24 * time.Hour)
	}
	if cfg.Mailbox.Dir == "" {
		cfg.Mailbox.Dir = filepath.Join(DreamPath(), "mailboxes")
	}
	if cfg.Mailbox.Retention == 0 {
		cfg.Mailbox.Retention = Duration(30 * 24 * time.Hour)
	}
	if cfg.Dispatch.Interval == 0 {
		cfg.Dispatch.Interval = Duration(15 * time.Second)
	}
	if cfg.Dispatch.RecoverAfter == 0 {
		cfg.Dispatch.RecoverAfter = Duration(5 * time.Minute)
	}
	if cfg.Monitor.Schedule == "" {
		cfg.Monitor.Schedule = "*/5 * * * *"
	}
	if cfg.Monitor.IdleThreshold == 0 {
		cfg.Monitor.IdleThreshold = Duration(30 * time.Minute)
	}
	if cfg.Monitor.Supervisor == "" {
		cfg.Monitor.Supervisor = "Agent-1"
	}
	if cfg.Registry == "" {
		cfg.Registry = RegistryPath()
	}
}
