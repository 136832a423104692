// Package main is the entry point for the peer messenger.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ihiteshgupta/peer-messenger/internal/config"
	"github.com/ihiteshgupta/peer-messenger/internal/store"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "peer-messenger",
		Short: "Peer-to-peer messenger with on-demand connections",
		Long: `Send messages to peers over connections that are opened on demand,
shared by every channel to the same destination, and retired when idle.

Settings are read from the config file, then PEERMSG_* environment
variables, then command line flags.`,
		SilenceUsage: true,
	}

	// Global flags. Names map onto config keys with '-' replaced by '_'.
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "config.yaml", "path to config file")
	flags.String("peer-id", "", "identity announced to peers")
	flags.String("journal-path", "", "path to the SQLite journal")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")
	flags.Int("channel-capacity", 0, "messages a channel queues before it is full")
	flags.Duration("idle-timeout", 0, "idle time before the send worker stops")
	flags.Duration("connect-timeout", 0, "timeout of one connection attempt")
	flags.Duration("send-timeout", 0, "timeout of one message write")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSendCommand(opts))

	return cmd
}

// loadConfig loads and validates the configuration of cmd.
func loadConfig(opts *rootOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the slog default. Logs go
// to stderr; stdout carries MCP traffic.
func setupLogging(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(logHandler).With("peer_id", cfg.PeerID)
	slog.SetDefault(logger)
	return logger
}

// openJournal creates the journal directory if needed and opens the store.
func openJournal(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	storeDB, err := store.NewSQLiteStore(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return storeDB, nil
}
