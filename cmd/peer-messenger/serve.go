package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ihiteshgupta/peer-messenger/internal/config"
	"github.com/ihiteshgupta/peer-messenger/internal/endpoint"
	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
	"github.com/ihiteshgupta/peer-messenger/internal/store"
	"github.com/ihiteshgupta/peer-messenger/internal/transport"
	"github.com/ihiteshgupta/peer-messenger/pkg/api"
	"github.com/ihiteshgupta/peer-messenger/pkg/mcp"
)

// errClientDisconnected stops serve when the MCP client goes away.
var errClientDisconnected = errors.New("mcp client disconnected")

type serveOptions struct {
	*rootOptions
	Daemon bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept messages from peers and serve MCP tools on stdio",
		Long: `Listen for peers on listen_addr, journal what arrives, and serve the
messenger tools to an MCP client over stdin/stdout.

Example:
  peer-messenger serve --peer-id alice --listen-addr 127.0.0.1:7420
  peer-messenger serve --daemon --log-format text`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().String("listen-addr", "", "address to accept peers on")
	cmd.Flags().Bool("mcp-enabled", true, "serve MCP tools on stdio")
	cmd.Flags().BoolVar(&opts.Daemon, "daemon", false, "keep running after the MCP client disconnects")

	return cmd
}

func runServe(opts *serveOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.rootOptions, cmd)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	logger.Info("Peer messenger starting",
		"config", opts.ConfigPath,
		"listen_addr", cfg.ListenAddr,
		"log_level", cfg.LogLevel,
	)

	storeDB, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer storeDB.Close()

	ep := newEndpoint(cfg, storeDB, logger)
	defer ep.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	listener := transport.NewListener(cfg.PeerID, ep.HandleInbound, logger)
	g.Go(func() error {
		return listener.ListenAndServe(gctx, cfg.ListenAddr)
	})

	if cfg.MCPEnabled {
		handler := api.NewHandler(storeDB, ep)
		server := mcp.NewServer(os.Stdin, os.Stdout, handler, logger)

		ep.OnStateChange(func(c messenger.StateChange) {
			if c.Channel != "" {
				return
			}
			if err := server.NotifyResourceUpdated(api.ResourceURI(c.Destination)); err != nil {
				logger.Debug("failed to notify resource update", "destination", c.Destination, "error", err)
			}
		})

		// Run blocks reading stdin, which cannot be interrupted, so it is
		// not part of the group.
		done := make(chan error, 1)
		go func() { done <- server.Run(gctx) }()

		g.Go(func() error {
			select {
			case err := <-done:
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				if opts.Daemon {
					logger.Info("Daemon mode: MCP client disconnected, still accepting peers")
					return nil
				}
				return errClientDisconnected
			case <-gctx.Done():
				return nil
			}
		})
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, errClientDisconnected), errors.Is(err, context.Canceled):
		logger.Info("Peer messenger stopped")
		return nil
	default:
		return err
	}
}

// newEndpoint wires an endpoint to TCP transports dialed as cfg.PeerID.
func newEndpoint(cfg *config.Config, storeDB *store.SQLiteStore, logger *slog.Logger) *endpoint.Endpoint {
	dialer := transport.NewDialer(cfg.PeerID, logger)
	return endpoint.NewEndpoint(cfg, storeDB, func(addr string) messenger.Transport {
		return dialer.Transport(addr)
	})
}
