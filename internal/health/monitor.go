// Package health tracks the health of a shared connection and paces its
// reconnection attempts.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/peer-messenger/internal/config"
	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

// ErrMaxRetriesExceeded is returned when too many consecutive connection
// attempts have failed.
var ErrMaxRetriesExceeded = errors.New("max reconnection retries exceeded")

// StateSource reports the state of the monitored connection.
type StateSource interface {
	State() state.State
}

// Status represents the health status of one shared connection.
type Status struct {
	Destination     string    `json:"destination"`
	State           string    `json:"state"`
	Connected       bool      `json:"connected"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	LastSent        time.Time `json:"last_sent"`
	ConnectAttempts int       `json:"connect_attempts"`
	ReconnectCount  int       `json:"reconnect_count"`
	MessagesSent    int64     `json:"messages_sent"`
	MessagesFailed  int64     `json:"messages_failed"`
}

// Monitor tracks connection health and paces reconnection.
type Monitor struct {
	destination string
	source      StateSource
	log         *slog.Logger

	reconnectBackoff *backoff.ExponentialBackOff
	maxRetries       int
	retryCount       int

	startTime       time.Time
	lastSent        time.Time
	connectAttempts int
	reconnectCount  int
	messagesSent    atomic.Int64
	messagesFailed  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// NewMonitor creates a new health monitor for the connection to destination.
func NewMonitor(cfg *config.Config, destination string, source StateSource) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectBaseDelay
	bo.MaxInterval = cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0 // Never stop based on elapsed time
	bo.Reset()

	return &Monitor{
		destination:      destination,
		source:           source,
		log:              slog.Default().With("destination", destination),
		reconnectBackoff: bo,
		maxRetries:       cfg.ReconnectMaxRetries,
		startTime:        time.Now(),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Stop cancels any pending reconnect delay.
func (m *Monitor) Stop() {
	m.cancel()
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var current state.State
	if m.source != nil {
		current = m.source.State()
	}

	return Status{
		Destination:     m.destination,
		State:           current.String(),
		Connected:       current.Any(state.StateConnected | state.StateSending | state.StateSendingSaturated | state.StateClosing),
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		LastSent:        m.lastSent,
		ConnectAttempts: m.connectAttempts,
		ReconnectCount:  m.reconnectCount,
		MessagesSent:    m.messagesSent.Load(),
		MessagesFailed:  m.messagesFailed.Load(),
	}
}

// RecordMessageSent records a message handed to the connection.
func (m *Monitor) RecordMessageSent() {
	m.messagesSent.Add(1)
	m.mu.Lock()
	m.lastSent = time.Now()
	m.mu.Unlock()
}

// RecordMessagesFailed records messages that were force-failed.
func (m *Monitor) RecordMessagesFailed(n int) {
	m.messagesFailed.Add(int64(n))
}

// GetNextReconnectDelay returns the next reconnect delay using exponential backoff.
func (m *Monitor) GetNextReconnectDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount++
	return m.reconnectBackoff.NextBackOff()
}

// ResetReconnectBackoff resets the backoff to initial values.
func (m *Monitor) ResetReconnectBackoff() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnectBackoff.Reset()
	m.retryCount = 0
}

// IsMaxRetriesExceeded returns true if max reconnection retries have been exceeded.
func (m *Monitor) IsMaxRetriesExceeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.retryCount > m.maxRetries
}

// BeforeConnect is called before every connection attempt. A first
// resolution proceeds immediately; a reconnection waits for the next backoff
// interval. It fails when the retry budget is spent or ctx is done.
func (m *Monitor) BeforeConnect(ctx context.Context, reconnect bool) error {
	m.mu.Lock()
	m.connectAttempts++
	m.mu.Unlock()

	if !reconnect {
		return nil
	}

	delay := m.GetNextReconnectDelay()
	if m.IsMaxRetriesExceeded() {
		m.log.Error("max reconnection retries exceeded")
		return ErrMaxRetriesExceeded
	}

	m.mu.Lock()
	m.reconnectCount++
	m.mu.Unlock()

	m.log.Info("scheduling reconnect", "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return context.Canceled
	}
}
