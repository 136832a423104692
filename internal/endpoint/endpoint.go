package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ihiteshgupta/peer-messenger/internal/config"
	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
	"github.com/ihiteshgupta/peer-messenger/internal/state"
	"github.com/ihiteshgupta/peer-messenger/internal/store"
)

var (
	// ErrClosed is returned once the endpoint was closed.
	ErrClosed = errors.New("endpoint closed")

	// ErrUnknownDestination is returned for a destination no messenger was
	// created for.
	ErrUnknownDestination = errors.New("unknown destination")

	// ErrInvalidDestination is returned for an empty destination or address.
	ErrInvalidDestination = errors.New("invalid destination")
)

// entry is the canonical messenger of one destination and the channel used
// by Send.
type entry struct {
	shared  *messenger.Shared
	channel *messenger.Channel
}

// Status describes the endpoint and every destination it knows.
type Status struct {
	PeerID       string            `json:"peer_id"`
	ListenAddr   string            `json:"listen_addr,omitempty"`
	Destinations []messenger.Stats `json:"destinations"`
	Failed       int               `json:"failed_messages"`
	Received     int               `json:"received_messages"`
}

// Endpoint owns the canonical messenger of every destination and records
// what happens to them.
type Endpoint struct {
	config  *config.Config
	store   *store.SQLiteStore
	factory TransportFactory
	log     *slog.Logger

	entries map[string]*entry
	closed  bool

	events         chan Event
	eventsClosed   bool
	eventsMu       sync.RWMutex
	eventListeners []func(Event)
	stateListeners []func(messenger.StateChange)
	msgListeners   []func(store.InboxMessage)

	wg sync.WaitGroup
	mu sync.RWMutex
}

// NewEndpoint creates an endpoint dialling destinations through factory.
func NewEndpoint(cfg *config.Config, storeDB *store.SQLiteStore, factory TransportFactory) *Endpoint {
	e := &Endpoint{
		config:  cfg,
		store:   storeDB,
		factory: factory,
		log:     slog.Default(),
		entries: make(map[string]*entry),
		events:  make(chan Event, 256),
	}

	// Start event processor
	e.wg.Add(1)
	go e.processEvents()

	return e
}

// PeerID returns the local peer identity.
func (e *Endpoint) PeerID() string {
	return e.config.PeerID
}

// Messenger returns the canonical shared connection to destination,
// creating it on first use and replacing it once it has terminated.
func (e *Endpoint) Messenger(destination string) (*messenger.Shared, error) {
	ent, err := e.lookup(destination, false)
	if err != nil {
		return nil, err
	}
	return ent.shared, nil
}

// Channel returns a new channel on the canonical connection to destination.
func (e *Endpoint) Channel(destination string, opts ...messenger.ChannelOption) (*messenger.Channel, error) {
	ent, err := e.lookup(destination, false)
	if err != nil {
		return nil, err
	}
	return e.newChannel(ent.shared, opts...), nil
}

// Submit queues body for destination on its default channel without waiting
// for delivery. It blocks only while the channel is saturated.
func (e *Endpoint) Submit(ctx context.Context, destination, service, param string, body []byte) (*messenger.Message, error) {
	ent, err := e.lookup(destination, true)
	if err != nil {
		return nil, err
	}

	msg := messenger.NewMessage(body)
	if err := ent.channel.Send(ctx, msg, service, param); err != nil {
		return nil, fmt.Errorf("failed to queue message for %s: %w", destination, err)
	}
	return msg, nil
}

// Send queues body for destination and waits until it was handed to the
// connection or failed.
func (e *Endpoint) Send(ctx context.Context, destination, service, param string, body []byte) (*messenger.Message, error) {
	msg, err := e.Submit(ctx, destination, service, param, body)
	if err != nil {
		return nil, err
	}
	if err := msg.Wait(ctx); err != nil {
		return msg, fmt.Errorf("failed to send message to %s: %w", destination, err)
	}
	return msg, nil
}

// Resolve starts connecting to destination ahead of the first message.
func (e *Endpoint) Resolve(destination string) (*messenger.Shared, error) {
	ent, err := e.lookup(destination, false)
	if err != nil {
		return nil, err
	}
	ent.shared.Resolve()
	return ent.shared, nil
}

// CloseDestination gracefully closes the connection to destination. Queued
// messages are still delivered.
func (e *Endpoint) CloseDestination(destination string) error {
	e.mu.Lock()
	ent, ok := e.entries[destination]
	var ch *messenger.Channel
	if ok {
		ch = ent.channel
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
	if ch != nil {
		ch.Close()
	}
	ent.shared.Close()
	return nil
}

// AwaitState waits until the connection to destination is in mask.
func (e *Endpoint) AwaitState(ctx context.Context, destination string, mask state.State) (state.State, error) {
	e.mu.RLock()
	ent, ok := e.entries[destination]
	e.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
	return ent.shared.AwaitState(ctx, mask)
}

// Destinations returns every destination with a messenger, sorted.
func (e *Endpoint) Destinations() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	dests := make([]string, 0, len(e.entries))
	for d := range e.entries {
		dests = append(dests, d)
	}
	sort.Strings(dests)
	return dests
}

// Stats returns the current view of the connection to destination.
func (e *Endpoint) Stats(destination string) (messenger.Stats, error) {
	e.mu.RLock()
	ent, ok := e.entries[destination]
	e.mu.RUnlock()

	if !ok {
		return messenger.Stats{}, fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
	return ent.shared.Stats(), nil
}

// Status returns the endpoint status with message counts from the journal.
func (e *Endpoint) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		PeerID:       e.config.PeerID,
		ListenAddr:   e.config.ListenAddr,
		Destinations: []messenger.Stats{},
	}

	for _, d := range e.Destinations() {
		if stats, err := e.Stats(d); err == nil {
			st.Destinations = append(st.Destinations, stats)
		}
	}

	var err error
	if st.Failed, err = e.store.Failures.Count(ctx, ""); err != nil {
		return nil, fmt.Errorf("failed to count failed messages: %w", err)
	}
	if st.Received, err = e.store.Inbox.Count(ctx, ""); err != nil {
		return nil, fmt.Errorf("failed to count received messages: %w", err)
	}
	return st, nil
}

// Store returns the journal.
func (e *Endpoint) Store() *store.SQLiteStore {
	return e.store
}

// Close shuts down every messenger and stops event processing. Events
// raised by the shutdown are still journaled.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	entries := make([]*entry, 0, len(e.entries))
	for _, ent := range e.entries {
		entries = append(entries, ent)
	}
	e.mu.Unlock()

	for _, ent := range entries {
		if ent.channel != nil {
			ent.channel.Shutdown()
		}
		ent.shared.Shutdown()
	}

	e.eventsMu.Lock()
	e.eventsClosed = true
	close(e.events)
	e.eventsMu.Unlock()

	e.wg.Wait()
}

// lookup returns the live entry for destination, replacing a terminated
// one. withChannel also makes sure the default channel can accept messages.
func (e *Endpoint) lookup(destination string, withChannel bool) (*entry, error) {
	identity, addr := ParseDestination(destination)
	if addr == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	ent, ok := e.entries[destination]
	if !ok || ent.shared.State().IsTerminal() {
		if ok {
			e.log.Info("replacing terminated messenger",
				"destination", destination,
				"state", ent.shared.State().String(),
			)
		}
		ent = &entry{shared: e.newShared(destination, identity, addr)}
		e.entries[destination] = ent
	}

	if withChannel && (ent.channel == nil || !ent.channel.State().IsUsable()) {
		ent.channel = e.newChannel(ent.shared)
	}
	return ent, nil
}

func (e *Endpoint) newShared(destination, identity, addr string) *messenger.Shared {
	t := e.factory(addr)

	opts := []messenger.Option{
		messenger.WithConfig(e.config),
		messenger.WithLogger(e.log),
		messenger.WithFailureHook(e.recordFailure),
	}
	if identity != "" {
		opts = append(opts, messenger.WithExpectedDestination(identity))
	}

	s := messenger.NewShared(destination, t, opts...)
	s.OnTransition(e.recordTransition)
	if n, ok := t.(lossNotifier); ok {
		n.OnConnectionLost(s.ConnectionLost)
	}
	return s
}

func (e *Endpoint) newChannel(s *messenger.Shared, opts ...messenger.ChannelOption) *messenger.Channel {
	ch := s.NewChannel(opts...)
	ch.OnTransition(e.recordTransition)
	return ch
}

func (e *Endpoint) recordTransition(c messenger.StateChange) {
	e.EmitEvent(NewEvent(EventStateChange, c))
}

func (e *Endpoint) recordFailure(f messenger.FailedMessage) {
	e.EmitEvent(NewEvent(EventMessageFailed, f))
}

// EmitEvent adds an event to the processing queue.
func (e *Endpoint) EmitEvent(evt Event) {
	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()

	if e.eventsClosed {
		return
	}
	select {
	case e.events <- evt:
	default:
		e.log.Warn("event queue full, dropping event", "type", evt.Type.String())
	}
}

// OnEvent registers a callback for all events.
func (e *Endpoint) OnEvent(handler func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventListeners = append(e.eventListeners, handler)
}

// OnStateChange registers a callback for state changes, called after the
// change was journaled.
func (e *Endpoint) OnStateChange(handler func(messenger.StateChange)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateListeners = append(e.stateListeners, handler)
}

// OnMessage registers a callback for received messages, called after the
// message was stored.
func (e *Endpoint) OnMessage(handler func(store.InboxMessage)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgListeners = append(e.msgListeners, handler)
}

// processEvents is the event processing goroutine.
func (e *Endpoint) processEvents() {
	defer e.wg.Done()

	for evt := range e.events {
		e.handleEvent(evt)
	}
}

func (e *Endpoint) handleEvent(evt Event) {
	// Notify listeners
	e.mu.RLock()
	listeners := make([]func(Event), len(e.eventListeners))
	copy(listeners, e.eventListeners)
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener(evt)
	}

	switch evt.Type {
	case EventMessage:
		e.handleMessage(evt)
	case EventStateChange:
		e.handleStateChange(evt)
	case EventMessageFailed:
		e.handleFailure(evt)
	}
}

func (e *Endpoint) handleStateChange(evt Event) {
	c, ok := evt.Payload.(StatePayload)
	if !ok {
		e.log.Error("invalid state change payload")
		return
	}

	ctx := context.Background()
	t := &store.Transition{
		Destination: c.Destination,
		Channel:     c.Channel,
		FromState:   c.From,
		ToState:     c.To,
		Event:       c.Event.String(),
		Action:      c.Action.String(),
		Timestamp:   c.At,
	}
	if err := e.store.State.LogTransition(ctx, t); err != nil {
		e.log.Error("failed to log transition", "destination", c.Destination, "error", err)
	}
	if err := e.store.State.SaveState(ctx, c.Destination, c.Channel, c.To); err != nil {
		e.log.Error("failed to save state", "destination", c.Destination, "error", err)
	}

	e.mu.RLock()
	listeners := make([]func(messenger.StateChange), len(e.stateListeners))
	copy(listeners, e.stateListeners)
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener(c)
	}
}

func (e *Endpoint) handleFailure(evt Event) {
	f, ok := evt.Payload.(FailurePayload)
	if !ok {
		e.log.Error("invalid failure payload")
		return
	}

	errText := ""
	if f.Err != nil {
		errText = f.Err.Error()
	}
	dead := &store.FailedMessage{
		MessageID:   f.MessageID,
		Destination: f.Destination,
		Channel:     f.Channel,
		Service:     f.Service,
		Param:       f.Param,
		Body:        f.Body,
		Retries:     f.Retries,
		Error:       errText,
		FailedAt:    f.FailedAt,
	}
	if err := e.store.Failures.Record(context.Background(), dead); err != nil {
		e.log.Error("failed to record dead letter", "message", f.MessageID, "error", err)
	}
}
