// Package messenger multiplexes many logical channels onto one shared
// connection per destination. Channels queue messages and drive their own
// lifecycle machine; the shared connection drains active channels round-robin
// through a Transport.
package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/ihiteshgupta/peer-messenger/internal/config"
	"github.com/ihiteshgupta/peer-messenger/internal/health"
	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

// pendingRef tracks a channel waiting for resolution. Channels without queued
// messages are held weakly so abandoned ones can be collected.
type pendingRef struct {
	weak   weak.Pointer[Channel]
	strong *Channel
}

func (r pendingRef) value() *Channel {
	if r.strong != nil {
		return r.strong
	}
	return r.weak.Value()
}

// Stats is a point-in-time view of a shared connection.
type Stats struct {
	Destination        string        `json:"destination"`
	LogicalDestination string        `json:"logical_destination"`
	State              string        `json:"state"`
	ActiveChannels     int           `json:"active_channels"`
	PendingChannels    int           `json:"pending_channels"`
	WorkerRunning      bool          `json:"worker_running"`
	LastError          string        `json:"last_error,omitempty"`
	Health             health.Status `json:"health"`
}

// Shared owns the one physical connection to a destination and drains the
// messages of every active channel through it.
type Shared struct {
	lifecycle

	transport   Transport
	cfg         *config.Config
	baseLog     *slog.Logger
	failureHook func(FailedMessage)
	monitor     *health.Monitor
	worker      *worker

	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by mu.
	expected      string
	ready         []*Channel
	rearm         map[*Channel]bool
	pending       []pendingRef
	abandoned     []*Channel
	draining      bool
	connecting    bool
	connectedOnce bool
	outputClosed  bool
	lastErr       error
}

// NewShared creates the shared connection to destination. Nothing is dialled
// until a channel needs it.
func NewShared(destination string, transport Transport, opts ...Option) *Shared {
	s := &Shared{
		transport: transport,
		rearm:     make(map[*Channel]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg = config.DefaultConfig()
	}
	if s.baseLog == nil {
		s.baseLog = slog.Default()
	}

	log := s.baseLog.With("destination", destination)
	s.lifecycle.init(state.StateUnresolved, destination, "", log)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.monitor = health.NewMonitor(s.cfg, destination, s)
	s.worker = newWorker(s.ctx, s.cfg.IdleTimeout, log)

	return s
}

// NewChannel creates a channel multiplexed onto s. It starts connected if s
// has already proven viable.
func (s *Shared) NewChannel(opts ...ChannelOption) *Channel {
	c := &Channel{
		shared:   s,
		id:       uuid.NewString(),
		capacity: s.cfg.ChannelCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.capacity < 1 {
		c.capacity = 1
	}

	initial := state.StateUnresolved
	if current := s.State(); current.IsResolved() && current.IsUsable() {
		initial = state.StateConnected
	}
	c.lifecycle.init(initial, s.destination, c.id, s.log.With("channel", c.id))

	return c
}

// Destination returns the destination name s was created for.
func (s *Shared) Destination() string {
	return s.destination
}

// LogicalDestination returns the identity of the connected peer, or the
// expected one before the first connection.
func (s *Shared) LogicalDestination() string {
	s.mu.Lock()
	connected := s.connectedOnce
	expected := s.expected
	s.mu.Unlock()

	if connected {
		return s.transport.LogicalDestination()
	}
	return expected
}

// LastError returns the most recent connect or send failure.
func (s *Shared) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a snapshot of s.
func (s *Shared) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		Destination:    s.destination,
		State:          s.machine.Current().String(),
		ActiveChannels: len(s.ready),
	}
	for _, ref := range s.pending {
		if ref.value() != nil {
			stats.PendingChannels++
		}
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	stats.LogicalDestination = s.LogicalDestination()
	stats.WorkerRunning = s.worker.isRunning()
	stats.Health = s.monitor.GetStatus()
	return stats
}

// Resolve requests a connection attempt if none was made yet.
func (s *Shared) Resolve() {
	s.fire(state.EventResolve)
}

// Close stops s from resolving new channels. Active channels are drained
// before the connection is closed.
func (s *Shared) Close() {
	s.fire(state.EventClose)
}

// Shutdown closes s without waiting for pending sends. In-flight connect and
// send calls are cancelled.
func (s *Shared) Shutdown() {
	s.fire(state.EventShutdown)
	s.cancel()
}

// ConnectionLost reports a connection drop detected by the transport outside
// of a send. Failures during a send or connect are detected there instead.
func (s *Shared) ConnectionLost(err error) {
	s.mu.Lock()
	if s.draining || s.connecting {
		s.mu.Unlock()
		return
	}
	s.lastErr = err
	c := s.fireLocked(state.EventConnectionDown)
	s.mu.Unlock()

	s.after(c)
}

func (s *Shared) fire(ev state.Event) {
	s.mu.Lock()
	c := s.fireLocked(ev)
	s.mu.Unlock()

	s.after(c)
}

// fireLocked detaches the ready channels in the same critical section as a
// transition that abandons them, so the shared state is idle exactly when
// nothing is active.
func (s *Shared) fireLocked(ev state.Event) StateChange {
	c := s.lifecycle.fireLocked(ev)
	if c.Action.ClosesOutput() {
		s.outputClosed = true
	}
	if c.Action.FailsAll() {
		s.abandoned = append(s.abandoned, s.ready...)
		s.ready = nil
		clear(s.rearm)
	}
	return c
}

func (s *Shared) after(c StateChange) {
	if c.To.IsTerminal() && !c.From.IsTerminal() {
		s.log.Info("shared connection finished", "state", c.To.String())
		s.cancel()
		s.monitor.Stop()
	}
	s.finish(s, c)
}

// resolveFor answers a channel's connect request.
func (s *Shared) resolveFor(ch *Channel) {
	s.mu.Lock()
	current := s.machine.Current()

	switch {
	case current.IsResolved() && current.IsUsable():
		s.mu.Unlock()
		ch.up()

	case current.Any(state.Unconnected):
		s.prunePendingLocked()
		s.pending = append(s.pending, pendingRef{weak: weak.Make(ch)})
		c := s.fireLocked(state.EventResolve)
		s.mu.Unlock()
		s.after(c)

	default:
		s.mu.Unlock()
		ch.down()
	}
}

// retain holds a resolving channel strongly once it has queued a message and
// reports the queued work to s, so a later Close waits for the connection
// instead of abandoning it.
func (s *Shared) retain(ch *Channel) {
	s.mu.Lock()
	w := weak.Make(ch)
	found := false
	for i := range s.pending {
		if s.pending[i].weak == w {
			s.pending[i].strong = ch
			found = true
			break
		}
	}
	if !found {
		// The connect finished first and already answered ch.
		s.mu.Unlock()
		return
	}
	c := s.fireLocked(state.EventMessagesQueued)
	s.mu.Unlock()

	s.after(c)
}

// prunePendingLocked drops resolving channels that were collected.
func (s *Shared) prunePendingLocked() {
	live := s.pending[:0]
	for _, ref := range s.pending {
		if ref.value() != nil {
			live = append(live, ref)
		}
	}
	clear(s.pending[len(live):])
	s.pending = live
}

func (s *Shared) takePendingLocked() []*Channel {
	var waiting []*Channel
	for _, ref := range s.pending {
		if ch := ref.value(); ch != nil {
			waiting = append(waiting, ch)
		}
	}
	s.pending = nil
	return waiting
}

// activate adds ch to the ready FIFO. A channel already in it is rearmed so
// the drain loop keeps it even if it saw the queue empty. It returns false if
// s can no longer carry the channel's messages.
func (s *Shared) activate(ch *Channel) bool {
	s.mu.Lock()
	for _, c := range s.ready {
		if c == ch {
			s.rearm[ch] = true
			s.mu.Unlock()
			return true
		}
	}

	if s.outputClosed || !s.machine.Current().Any(state.Usable|state.StateClosing) {
		s.mu.Unlock()
		return false
	}

	s.ready = append(s.ready, ch)
	if len(s.ready) > 1 {
		s.mu.Unlock()
		return true
	}
	c := s.fireLocked(state.EventMessagesQueued)
	s.mu.Unlock()

	s.after(c)
	return true
}

// isActive reports whether ch is in the ready FIFO.
func (s *Shared) isActive(ch *Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.ready {
		if c == ch {
			return true
		}
	}
	return false
}

// retire updates the FIFO after the drain loop finished with its head. An
// emptied channel leaves unless it was rearmed; a channel with more work moves
// to the tail.
func (s *Shared) retire(ch *Channel, more bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ready) == 0 || s.ready[0] != ch {
		return
	}
	if !more && !s.rearm[ch] {
		s.ready[0] = nil
		s.ready = s.ready[1:]
		return
	}
	delete(s.rearm, ch)
	if len(s.ready) > 1 {
		s.ready = append(s.ready[1:], ch)
	}
}

func (s *Shared) connectAction() {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.mu.Unlock()

	s.worker.submit(s.connect)
}

func (s *Shared) startSendingAction() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.worker.submit(s.drain)
}

func (s *Shared) closeInputAction() {
	s.log.Info("shared connection closing", "state", s.State().String())
}

func (s *Shared) closeOutputAction() {
	if err := s.transport.Close(); err != nil {
		s.log.Warn("failed to close connection", "error", err)
	}

	s.mu.Lock()
	// An in-flight send or connect reports the outcome itself.
	if s.draining || s.connecting {
		s.mu.Unlock()
		return
	}
	ev := state.EventIdle
	if len(s.ready) > 0 {
		ev = state.EventConnectionDown
	}
	c := s.fireLocked(ev)
	s.mu.Unlock()

	s.after(c)
}

func (s *Shared) failAllAction() {
	s.mu.Lock()
	channels := s.abandoned
	s.abandoned = nil
	s.mu.Unlock()

	for _, ch := range channels {
		ch.down()
	}
}

// connect runs on the worker. It reports the outcome to s and then to every
// channel that waited for it.
func (s *Shared) connect(ctx context.Context) {
	s.mu.Lock()
	reconnect := s.connectedOnce
	expected := s.expected
	s.mu.Unlock()

	identity, err := s.attemptConnect(ctx, reconnect)
	if err == nil && expected != "" && identity != expected {
		if cerr := s.transport.Close(); cerr != nil {
			s.log.Warn("failed to close mismatched connection", "error", cerr)
		}
		err = fmt.Errorf("%w: expected %s, connected to %s", ErrIdentityMismatch, expected, identity)
	}

	s.mu.Lock()
	s.connecting = false
	var c StateChange
	if err != nil {
		s.lastErr = err
		c = s.fireLocked(state.EventConnectionDown)
	} else {
		s.connectedOnce = true
		s.expected = identity
		s.outputClosed = false
		c = s.fireLocked(state.EventConnectionUp)
	}
	waiting := s.takePendingLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("connection attempt failed", "reconnect", reconnect, "error", err)
	} else {
		s.log.Info("connection established", "identity", identity, "reconnect", reconnect)
	}

	s.after(c)

	accepted := c.To.IsResolved() && c.To.IsUsable()
	for _, ch := range waiting {
		if accepted {
			ch.up()
		} else {
			ch.down()
		}
	}
}

func (s *Shared) attemptConnect(ctx context.Context, reconnect bool) (string, error) {
	if err := s.monitor.BeforeConnect(ctx, reconnect); err != nil {
		return "", fmt.Errorf("connect to %s: %w", s.destination, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	identity, err := s.transport.Connect(cctx)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", s.destination, err)
	}
	return identity, nil
}

// drain runs on the worker. It sends one message at a time, rotating between
// active channels, until the FIFO is empty or a send fails.
func (s *Shared) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.ready) == 0 || s.outputClosed {
			s.draining = false
			ev := state.EventIdle
			if len(s.ready) > 0 {
				ev = state.EventConnectionDown
			}
			c := s.fireLocked(ev)
			s.mu.Unlock()

			s.after(c)
			return
		}
		ch := s.ready[0]
		s.mu.Unlock()

		p := ch.peek()
		if p == nil {
			s.retire(ch, false)
			continue
		}

		started := time.Now()
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.transport.Send(sctx, p.msg, p.service, p.param)
		cancel()

		if err != nil {
			s.log.Warn("send failed",
				"channel", ch.id,
				"message", p.msg.ID,
				"retries", p.retries,
				"error", err,
			)
			ch.sendFailed(p, err)

			s.mu.Lock()
			s.draining = false
			s.lastErr = err
			c := s.fireLocked(state.EventConnectionDown)
			s.mu.Unlock()

			s.after(c)
			return
		}

		s.log.Debug("message sent", "channel", ch.id, "message", p.msg.ID, "took", time.Since(started))
		s.monitor.RecordMessageSent()
		s.monitor.ResetReconnectBackoff()

		more := ch.acknowledge(p)
		s.retire(ch, more)
	}
}

// reportFailure records a force-failed message.
func (s *Shared) reportFailure(ch *Channel, p *pendingMessage, err error) {
	s.monitor.RecordMessagesFailed(1)
	s.log.Warn("message failed", "channel", ch.id, "message", p.msg.ID, "error", err)

	if s.failureHook == nil {
		return
	}
	s.failureHook(FailedMessage{
		Destination: s.destination,
		Channel:     ch.id,
		MessageID:   p.msg.ID,
		Service:     p.service,
		Param:       p.param,
		Body:        p.msg.Body,
		Retries:     p.retries,
		Err:         err,
		FailedAt:    time.Now(),
	})
}
