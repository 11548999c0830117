package commands

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/mailbox"
)

// env bundles the stores every subcommand works against.
type env struct {
	cfg      *config.Config
	registry *config.Registry
	boards   *board.Manager
	mail     *mailbox.Store
}

// loadEnv reads config, applies the debug flag, and opens the board and
// mailbox stores. A missing config file falls back to defaults; a
// missing registry falls back to an empty roster with a warning, since
// read-only commands still work without one.
func loadEnv(cmd *cli.Command) (*env, error) {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	registry, err := config.LoadRegistry(cfg.Registry)
	if err != nil {
		slog.Warn("agent registry not loaded", "path", cfg.Registry, "error", err)
		registry = &config.Registry{}
	}

	return &env{
		cfg:      cfg,
		registry: registry,
		boards:   board.NewManager(cfg.Boards.Dir, board.WithLockTimeout(cfg.Boards.LockTimeout.Duration())),
		mail:     mailbox.NewStore(cfg.Mailbox.Dir),
	}, nil
}
