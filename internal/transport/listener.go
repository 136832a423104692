package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultHandshakeTimeout = 10 * time.Second

// Inbound is a message frame received from a peer.
type Inbound struct {
	From       string
	ID         string
	Service    string
	Param      string
	Headers    map[string]string
	Body       []byte
	SentAt     time.Time
	ReceivedAt time.Time
}

// Handler is called for every message frame received. Calls for one
// connection are serial.
type Handler func(Inbound)

// Listener accepts inbound connections announcing localID.
type Listener struct {
	localID string
	handler Handler
	log     *slog.Logger

	// HandshakeTimeout bounds the welcome exchange on accepted connections.
	HandshakeTimeout time.Duration

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	cancel context.CancelFunc
}

// NewListener creates a listener delivering message frames to handler.
func NewListener(localID string, handler Handler, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		localID:          localID,
		handler:          handler,
		log:              log,
		HandshakeTimeout: defaultHandshakeTimeout,
		conns:            make(map[net.Conn]struct{}),
	}
}

// Listen binds addr. Use Serve to start accepting.
func (l *Listener) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.log.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// ListenAndServe binds addr and serves until ctx is done.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	if err := l.Listen(addr); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve accepts connections until ctx is done or Close is called, then
// closes the listener and every accepted connection.
func (l *Listener) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	ln := l.ln
	l.cancel = cancel
	l.mu.Unlock()

	if ln == nil {
		return errors.New("listener not bound")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		l.closeAll()
		return nil
	})

	g.Go(func() error {
		for {
			nc, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			if !l.track(nc) {
				nc.Close()
				return nil
			}
			g.Go(func() error {
				l.serveConn(nc)
				return nil
			})
		}
	})

	return g.Wait()
}

// Close stops Serve.
func (l *Listener) Close() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		l.closeAll()
	}
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		l.ln.Close()
	}
	for nc := range l.conns {
		nc.Close()
	}
	l.conns = nil
}

func (l *Listener) track(nc net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[nc] = struct{}{}
	return true
}

func (l *Listener) untrack(nc net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, nc)
}

func (l *Listener) serveConn(nc net.Conn) {
	defer l.untrack(nc)
	defer nc.Close()

	log := l.log.With("remote_addr", nc.RemoteAddr().String())
	r := bufio.NewReader(nc)

	nc.SetDeadline(time.Now().Add(l.HandshakeTimeout))
	peer, err := readWelcome(r)
	if err == nil {
		err = writeFrame(nc, &Frame{Type: FrameWelcome, Peer: l.localID, SentAt: time.Now()})
	}
	if err != nil {
		log.Warn("handshake failed", "error", err)
		return
	}
	nc.SetDeadline(time.Time{})

	log = log.With("peer", peer)
	log.Info("peer connected")

	for {
		f, err := readFrame(r)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				log.Info("peer disconnected")
			} else {
				log.Warn("connection failed", "error", err)
			}
			return
		}

		if f.Type != FrameMessage {
			log.Debug("ignoring frame", "type", f.Type)
			continue
		}

		l.handler(Inbound{
			From:       peer,
			ID:         f.ID,
			Service:    f.Service,
			Param:      f.Param,
			Headers:    f.Headers,
			Body:       f.Body,
			SentAt:     f.SentAt,
			ReceivedAt: time.Now(),
		})
	}
}
