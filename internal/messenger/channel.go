package messenger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

// Channel is one logical sender's bounded queue onto a shared connection.
// Its machine is idle exactly when the queue is empty and saturated exactly
// when the queue is full.
type Channel struct {
	lifecycle

	shared         *Shared
	id             string
	capacity       int
	defaultService string
	defaultParam   string

	// Guarded by mu.
	queue        []*pendingMessage
	abandoned    []*pendingMessage
	outputClosed bool
}

// ID returns the channel ID.
func (c *Channel) ID() string {
	return c.id
}

// Destination returns the destination of the shared connection.
func (c *Channel) Destination() string {
	return c.destination
}

// Capacity returns the queue capacity.
func (c *Channel) Capacity() int {
	return c.capacity
}

// Len returns the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Submit queues msg without blocking. It returns ErrInputClosed once the
// channel was closed and ErrOverflow when the queue is full; in both cases
// msg is left untouched. Empty service or param fall back to the channel's
// defaults.
func (c *Channel) Submit(msg *Message, service, param string) error {
	if service == "" {
		service = c.defaultService
	}
	if param == "" {
		param = c.defaultParam
	}

	c.mu.Lock()
	if !c.machine.Current().IsUsable() {
		c.mu.Unlock()
		return ErrInputClosed
	}
	free := c.capacity - len(c.queue)
	if free < 1 {
		c.mu.Unlock()
		return ErrOverflow
	}

	wasEmpty := len(c.queue) == 0
	c.queue = append(c.queue, &pendingMessage{msg: msg, service: service, param: param})

	var ev state.Event
	switch {
	case free == 1:
		ev = state.EventSaturated
	case wasEmpty:
		ev = state.EventMessagesQueued
	default:
		c.mu.Unlock()
		return nil
	}
	ch := c.fireLocked(ev)
	c.mu.Unlock()

	c.finish(c, ch)

	if ch.From.Any(state.StateUnresolved|state.StateResolving) &&
		ch.To.Any(state.StateResolvePending|state.StateResolveSaturated) {
		c.shared.retain(c)
	}
	return nil
}

// Send queues msg, waiting for queue space while the channel is saturated.
// It fails with a *TerminalError once the channel stops accepting messages.
func (c *Channel) Send(ctx context.Context, msg *Message, service, param string) error {
	for {
		_, changed := c.snapshot()

		err := c.Submit(msg, service, param)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrOverflow) {
			return &TerminalError{
				Destination: c.destination,
				Channel:     c.State(),
				Shared:      c.shared.State(),
				Err:         err,
			}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Resolve requests a connection without queuing a message.
func (c *Channel) Resolve() {
	c.fire(state.EventResolve)
}

// Close stops accepting messages. Queued messages are still sent.
func (c *Channel) Close() {
	c.fire(state.EventClose)
}

// Shutdown stops accepting messages and abandons queued ones that are not
// already being sent.
func (c *Channel) Shutdown() {
	c.fire(state.EventShutdown)
}

func (c *Channel) fire(ev state.Event) {
	c.mu.Lock()
	ch := c.fireLocked(ev)
	c.mu.Unlock()

	c.finish(c, ch)
}

// fireLocked detaches the queue in the same critical section as a transition
// that abandons it.
func (c *Channel) fireLocked(ev state.Event) StateChange {
	ch := c.lifecycle.fireLocked(ev)
	if ch.Action.FailsAll() {
		c.abandoned = append(c.abandoned, c.queue...)
		c.queue = nil
	}
	return ch
}

// peek returns the head message, or nil when there is nothing to send. An
// empty queue reports idle; a closed output fails the head and reports the
// connection down.
func (c *Channel) peek() *pendingMessage {
	c.mu.Lock()
	if len(c.queue) == 0 {
		ch := c.fireLocked(state.EventIdle)
		c.mu.Unlock()
		c.finish(c, ch)
		return nil
	}

	if c.outputClosed {
		head := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		ch := c.fireLocked(state.EventConnectionDown)
		c.mu.Unlock()

		c.failMessage(head, ErrOutputClosed)
		c.finish(c, ch)
		return nil
	}

	head := c.queue[0]
	c.mu.Unlock()
	return head
}

// acknowledge removes p after it was sent and reports whether more messages
// remain.
func (c *Channel) acknowledge(p *pendingMessage) bool {
	c.mu.Lock()
	if len(c.queue) == 0 || c.queue[0] != p {
		more := len(c.queue) > 0
		c.mu.Unlock()
		return more
	}

	c.queue[0] = nil
	c.queue = c.queue[1:]
	more := len(c.queue) > 0
	ev := state.EventIdle
	if more {
		ev = state.EventMessagesQueued
	}
	ch := c.fireLocked(ev)
	c.mu.Unlock()

	p.msg.settle(StatusSent, nil)
	c.finish(c, ch)
	return more
}

// sendFailed records a failed send of p. The first failure keeps p at the head
// for one retry; a failure after the retry drops it.
func (c *Channel) sendFailed(p *pendingMessage, err error) {
	c.mu.Lock()
	if len(c.queue) == 0 || c.queue[0] != p {
		c.mu.Unlock()
		return
	}

	p.lastErr = err
	if p.retries < maxSendRetries {
		p.retries++
		c.mu.Unlock()
		return
	}

	c.queue[0] = nil
	c.queue = c.queue[1:]
	ev := state.EventIdle
	if len(c.queue) > 0 {
		ev = state.EventMessagesQueued
	}
	ch := c.fireLocked(ev)
	c.mu.Unlock()

	c.failMessage(p, err)
	c.finish(c, ch)
}

// up reports that the shared connection is usable.
func (c *Channel) up() {
	c.fire(state.EventConnectionUp)
}

// down reports that the shared connection cannot carry this channel.
func (c *Channel) down() {
	c.fire(state.EventConnectionDown)
}

func (c *Channel) failMessage(p *pendingMessage, err error) {
	if p.msg.settle(StatusFailed, err) {
		c.shared.reportFailure(c, p, err)
	}
}

func (c *Channel) connectAction() {
	c.shared.resolveFor(c)
}

func (c *Channel) startSendingAction() {
	if !c.shared.activate(c) {
		c.down()
	}
}

func (c *Channel) closeInputAction() {
	c.log.Debug("channel input closed", "queued", c.Len())
}

func (c *Channel) closeOutputAction() {
	c.mu.Lock()
	c.outputClosed = true

	var ev state.Event
	switch {
	case len(c.queue) == 0:
		ev = state.EventIdle
	case !c.shared.isActive(c):
		ev = state.EventConnectionDown
	default:
		// The drain loop fails the rest when it next visits this channel.
		c.mu.Unlock()
		return
	}
	ch := c.fireLocked(ev)
	c.mu.Unlock()

	c.finish(c, ch)
}

func (c *Channel) failAllAction() {
	c.mu.Lock()
	lost := c.abandoned
	c.abandoned = nil
	c.mu.Unlock()

	if len(lost) == 0 {
		return
	}

	cause := ErrMessengerClosed
	if !c.shared.State().IsUsable() {
		cause = ErrConnectionClosed
	}
	for _, p := range lost {
		err := cause
		if p.lastErr != nil {
			err = fmt.Errorf("%w: %w", cause, p.lastErr)
		}
		c.failMessage(p, err)
	}
}
