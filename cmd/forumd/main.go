// forumd is the forum backend core: accounts, sessions with rotating
// refresh tokens, role-based access control and live presence.
//
// Subcommands:
//
//	forumd serve          run the HTTP API
//	forumd migrate up     apply pending schema migrations
//	forumd sweep-tokens   delete expired refresh tokens
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/forum-core/migrations"

	"github.com/nerrad567/forum-core/internal/infrastructure/config"
	"github.com/nerrad567/forum-core/internal/infrastructure/database"
	"github.com/nerrad567/forum-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "FORUM_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "forumd",
		Short:         "Forum backend core",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	resolve := func() string { return resolveConfigPath(configPath) }
	root.AddCommand(
		newServeCmd(resolve),
		newMigrateCmd(resolve),
		newSweepCmd(resolve),
	)
	return root
}

// resolveConfigPath picks the flag value, then FORUM_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// bootstrap loads configuration and builds the configured logger.
func bootstrap(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// openDatabase opens the SQLite store. Schema changes are left to the caller.
func openDatabase(cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)
	return db, nil
}

// closeDatabase is deferred by every subcommand that opens the store.
func closeDatabase(db *database.DB, log *logging.Logger) {
	if err := db.Close(); err != nil {
		log.Error("error closing database", "error", err)
	}
}
