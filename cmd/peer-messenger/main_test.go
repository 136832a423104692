package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/peer-messenger/internal/transport"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"serve", "send"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	root := newRootCommand()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)

	require.NoError(t, serve.ParseFlags([]string{
		"--peer-id=alice",
		"--listen-addr=127.0.0.1:0",
		"--channel-capacity=8",
	}))

	opts := &rootOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")}
	cfg, err := loadConfig(opts, serve)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.PeerID)
	assert.Equal(t, "127.0.0.1:0", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.ChannelCapacity)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	root := newRootCommand()
	send, _, err := root.Find([]string{"send"})
	require.NoError(t, err)

	require.NoError(t, send.ParseFlags([]string{"--channel-capacity=1"}))

	opts := &rootOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")}
	_, err = loadConfig(opts, send)
	assert.ErrorContains(t, err, "channel capacity")
}

func TestSendCommand(t *testing.T) {
	received := make(chan transport.Inbound, 1)
	l := transport.NewListener("bob", func(in transport.Inbound) { received <- in }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, l.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	dir := t.TempDir()
	out := &bytes.Buffer{}

	root := newRootCommand()
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{
		"send", "bob@" + l.Addr().String(), "hello",
		"--config", filepath.Join(dir, "absent.yaml"),
		"--peer-id", "alice",
		"--journal-path", filepath.Join(dir, "journal.db"),
		"--log-level", "error",
		"--service", "chat",
		"--timeout", "5s",
	})
	require.NoError(t, root.Execute())

	assert.True(t, strings.HasPrefix(out.String(), "sent "))
	assert.Contains(t, out.String(), "(bob)")

	select {
	case in := <-received:
		assert.Equal(t, "alice", in.From)
		assert.Equal(t, "chat", in.Service)
		assert.Equal(t, "hello", string(in.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive the message")
	}
}

func TestSendCommand_WrongPeer(t *testing.T) {
	l := transport.NewListener("carol", func(transport.Inbound) {}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, l.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	dir := t.TempDir()
	root := newRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{
		"send", "bob@" + l.Addr().String(), "hello",
		"--config", filepath.Join(dir, "absent.yaml"),
		"--journal-path", filepath.Join(dir, "journal.db"),
		"--log-level", "error",
		"--timeout", "5s",
	})
	assert.Error(t, root.Execute())
}
