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

	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
)

// ErrNotConnected is returned by Send when no connection is open.
var ErrNotConnected = errors.New("not connected")

// Dialer creates outbound connections announcing localID.
type Dialer struct {
	localID string
	dialer  net.Dialer
	log     *slog.Logger
}

// NewDialer creates a dialer for the local peer localID.
func NewDialer(localID string, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{
		localID: localID,
		log:     log,
	}
}

// Transport returns an unconnected transport to addr.
func (d *Dialer) Transport(addr string) *Conn {
	return &Conn{
		addr:    addr,
		localID: d.localID,
		dialer:  &d.dialer,
		log:     d.log.With("addr", addr),
	}
}

var _ messenger.Transport = (*Conn)(nil)

// Conn is one outbound connection. It implements messenger.Transport and
// may be reconnected after it was closed or lost.
type Conn struct {
	addr    string
	localID string
	dialer  *net.Dialer
	log     *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	remote string
	onLost func(error)
}

// OnConnectionLost registers fn to be called when the peer drops an open
// connection. It is not called for connections closed through Close.
func (c *Conn) OnConnectionLost(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLost = fn
}

// Connect dials the peer and exchanges welcome frames. It returns the
// remote peer ID.
func (c *Conn) Connect(ctx context.Context) (string, error) {
	nc, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", c.addr, err)
	}

	// Unblock the handshake if ctx ends first.
	stop := context.AfterFunc(ctx, func() {
		nc.SetDeadline(time.Now())
	})

	r := bufio.NewReader(nc)
	var remote string
	err = writeFrame(nc, &Frame{Type: FrameWelcome, Peer: c.localID, SentAt: time.Now()})
	if err == nil {
		remote, err = readWelcome(r)
	}
	if !stop() {
		nc.Close()
		return "", fmt.Errorf("handshake with %s: %w", c.addr, ctx.Err())
	}
	if err != nil {
		nc.Close()
		return "", fmt.Errorf("handshake with %s: %w", c.addr, err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = nc
	c.remote = remote
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	c.log.Debug("connected", "peer", remote)
	go c.watch(nc, r)

	return remote, nil
}

// watch reads until nc fails. Frames sent back by the peer are ignored.
func (c *Conn) watch(nc net.Conn, r *bufio.Reader) {
	var err error
	for {
		var f *Frame
		if f, err = readFrame(r); err != nil {
			break
		}
		c.log.Debug("ignoring inbound frame", "type", f.Type)
	}

	c.mu.Lock()
	current := c.conn == nc
	if current {
		c.conn = nil
	}
	fn := c.onLost
	c.mu.Unlock()

	if !current {
		return
	}
	nc.Close()

	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	c.log.Info("connection lost", "error", err)
	if fn != nil {
		fn(fmt.Errorf("connection to %s lost: %w", c.addr, err))
	}
}

// Send writes msg as one frame. ctx bounds the write.
func (c *Conn) Send(ctx context.Context, msg *messenger.Message, service, param string) error {
	c.mu.Lock()
	nc := c.conn
	c.mu.Unlock()

	if nc == nil {
		return ErrNotConnected
	}

	deadline, _ := ctx.Deadline()
	if err := nc.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	stop := context.AfterFunc(ctx, func() {
		nc.SetWriteDeadline(time.Now())
	})
	defer stop()

	err := writeFrame(nc, &Frame{
		Type:    FrameMessage,
		ID:      msg.ID,
		Service: service,
		Param:   param,
		Headers: msg.Headers,
		Body:    msg.Body,
		SentAt:  time.Now(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("send %s: %w", msg.ID, ctx.Err())
		}
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	return nil
}

// Close closes the open connection, if any.
func (c *Conn) Close() error {
	c.mu.Lock()
	nc := c.conn
	c.conn = nil
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	return nc.Close()
}

// LogicalDestination returns the peer ID received in the last welcome.
func (c *Conn) LogicalDestination() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}
