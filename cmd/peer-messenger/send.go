package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

type sendOptions struct {
	*rootOptions
	Service string
	Param   string
	Timeout time.Duration
}

func newSendCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &sendOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <destination> <message>",
		Short: "Send one message and wait until it is delivered or fails",
		Long: `Connect to destination, send message, and close the connection once
the message was written.

destination is host:port, or peer@host:port to refuse any peer that does
not announce itself as peer.

Example:
  peer-messenger send bob@127.0.0.1:7421 "hello"
  peer-messenger send 127.0.0.1:7421 "ping" --service health`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Service, "service", "", "service the message is addressed to")
	cmd.Flags().StringVar(&opts.Param, "param", "", "service parameter")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "maximum time to wait for the outcome")

	return cmd
}

func runSend(opts *sendOptions, cmd *cobra.Command, destination, message string) error {
	cfg, err := loadConfig(opts.rootOptions, cmd)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	storeDB, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer storeDB.Close()

	ep := newEndpoint(cfg, storeDB, logger)
	defer ep.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	msg, err := ep.Send(ctx, destination, opts.Service, opts.Param, []byte(message))
	if err != nil {
		return err
	}

	// Let the connection close cleanly so the peer sees an orderly hangup.
	if err := ep.CloseDestination(destination); err != nil {
		return err
	}
	final, err := ep.AwaitState(ctx, destination, state.Terminal)
	if err != nil {
		logger.Warn("connection did not close in time", "destination", destination, "state", final.String())
	}

	stats, _ := ep.Stats(destination)
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s (%s)\n", msg.ID, destination, stats.LogicalDestination)
	return nil
}
