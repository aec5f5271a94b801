package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// MaxSubscriptions caps how many channels one manager may hold open.
	MaxSubscriptions = 100

	defaultBaseBackoff       = 500 * time.Millisecond
	defaultMaxBackoff        = 30 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultBackfillLimit     = 200
)

var (
	// ErrTooManySubscriptions indicates the subscription cap was hit.
	ErrTooManySubscriptions = errors.New("subscription limit reached")
	// ErrHandlerRequired indicates Subscribe was called without a handler.
	ErrHandlerRequired = errors.New("event handler is required")
	// ErrChannelRequired indicates a channel name is required.
	ErrChannelRequired = errors.New("channel is required")
)

// Status describes the manager's connection lifecycle state.
type Status int

const (
	// StatusDisconnected means no connection attempt is in flight.
	StatusDisconnected Status = iota
	// StatusConnecting means a dial is in progress.
	StatusConnecting
	// StatusConnected means the websocket link is live.
	StatusConnected
	// StatusBackoff means the manager is waiting before redialing.
	StatusBackoff
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusBackoff:
		return "backoff"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Handler receives events for one subscribed channel. Handlers run on the
// manager's read loop and must not call back into the manager.
type Handler func(Event)

// Conn is one live framed connection to the server.
type Conn interface {
	WriteFrame(frame Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

// Dialer establishes connections to the realtime endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Backfiller fetches activity events missed while disconnected.
type Backfiller interface {
	EventsSince(ctx context.Context, since time.Time, limit int) ([]Event, error)
}

// Manager owns one logical realtime connection: it keeps the subscription
// and presence registries authoritative on the client side and replays them
// against every fresh connection, so a reconnect restores the session
// without caller involvement.
type Manager struct {
	dialer     Dialer
	backfiller Backfiller
	feed       *FeedBuffer

	baseBackoff       time.Duration
	maxBackoff        time.Duration
	heartbeatInterval time.Duration

	mu            sync.Mutex
	status        Status
	conn          Conn
	subscriptions map[string]Handler
	presence      map[string]string
	lastEventAt   time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithBackfiller wires gap recovery for reconnects.
func WithBackfiller(backfiller Backfiller) Option {
	return func(m *Manager) { m.backfiller = backfiller }
}

// WithFeedBuffer wires a rolling feed that deduplicates delivered events.
func WithFeedBuffer(feed *FeedBuffer) Option {
	return func(m *Manager) { m.feed = feed }
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(m *Manager) {
		if base > 0 {
			m.baseBackoff = base
		}
		if max > 0 {
			m.maxBackoff = max
		}
	}
}

// WithHeartbeatInterval overrides how often presence heartbeats are sent.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.heartbeatInterval = interval
		}
	}
}

// NewManager constructs a connection manager around a dialer.
func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:            dialer,
		baseBackoff:       defaultBaseBackoff,
		maxBackoff:        defaultMaxBackoff,
		heartbeatInterval: defaultHeartbeatInterval,
		status:            StatusDisconnected,
		subscriptions:     make(map[string]Handler),
		presence:          make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status reports the current connection lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Feed returns the wired feed buffer, if any.
func (m *Manager) Feed() *FeedBuffer {
	return m.feed
}

// Subscribe registers a handler for one channel. The registration survives
// reconnects; the manager resubscribes on every fresh connection.
func (m *Manager) Subscribe(channel string, handler Handler) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return ErrChannelRequired
	}
	if handler == nil {
		return ErrHandlerRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[channel]; !ok && len(m.subscriptions) >= MaxSubscriptions {
		return ErrTooManySubscriptions
	}
	m.subscriptions[channel] = handler
	if m.conn != nil {
		return m.writeFrameLocked(subscribeFrame(channel))
	}
	return nil
}

// Unsubscribe removes one channel registration. It is synchronous: once it
// returns, the handler will not be invoked again. Unsubscribing a channel
// that was never subscribed is a no-op.
func (m *Manager) Unsubscribe(channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[channel]; !ok {
		return
	}
	delete(m.subscriptions, channel)
	if m.conn != nil {
		_ = m.writeFrameLocked(Frame{
			Type:    "unsubscribe",
			Payload: mustJSON(subscribePayload{Channel: channel}),
		})
	}
}

// JoinPresence announces userID as viewing the given presence channel. The
// membership is rejoined automatically after reconnects and refreshed by
// heartbeats until LeavePresence is called.
func (m *Manager) JoinPresence(channel string, userID string) error {
	channel = strings.TrimSpace(channel)
	userID = strings.TrimSpace(userID)
	if channel == "" {
		return ErrChannelRequired
	}
	if userID == "" {
		return errors.New("user id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence[channel] = userID
	if m.conn != nil {
		return m.writeFrameLocked(presenceJoinFrame(channel, userID))
	}
	return nil
}

// LeavePresence withdraws the membership for one presence channel.
func (m *Manager) LeavePresence(channel string) {
	channel = strings.TrimSpace(channel)

	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.presence[channel]
	if !ok {
		return
	}
	delete(m.presence, channel)
	if m.conn != nil {
		_ = m.writeFrameLocked(Frame{
			Type:    "presence.leave",
			Payload: mustJSON(presencePayload{Channel: channel, UserID: userID}),
		})
	}
}

// Run drives the connection until the context ends: dial, restore session
// state, pump frames, and redial with capped exponential backoff after
// failures. It returns nil once the context is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.dialer == nil {
		return errors.New("dialer is required")
	}

	backoff := m.baseBackoff
	for {
		if err := ctx.Err(); err != nil {
			m.setStatus(StatusDisconnected)
			return nil
		}

		m.setStatus(StatusConnecting)
		conn, err := m.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setStatus(StatusDisconnected)
				return nil
			}
			log.Printf("realtime dial failed, retrying in %s: %v", backoff, err)
			if !m.waitBackoff(ctx, backoff) {
				m.setStatus(StatusDisconnected)
				return nil
			}
			backoff = m.nextBackoff(backoff)
			continue
		}

		if err := m.restoreSession(ctx, conn); err != nil {
			log.Printf("restore realtime session: %v", err)
			_ = conn.Close()
			if !m.waitBackoff(ctx, backoff) {
				m.setStatus(StatusDisconnected)
				return nil
			}
			backoff = m.nextBackoff(backoff)
			continue
		}
		backoff = m.baseBackoff

		m.pumpFrames(ctx, conn)
		m.dropConn(conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			m.setStatus(StatusDisconnected)
			return nil
		}

		m.setStatus(StatusBackoff)
		if !m.waitBackoff(ctx, backoff) {
			m.setStatus(StatusDisconnected)
			return nil
		}
		backoff = m.nextBackoff(backoff)
	}
}

// restoreSession replays subscriptions and presence memberships onto a fresh
// connection, then backfills the activity gap.
func (m *Manager) restoreSession(ctx context.Context, conn Conn) error {
	m.mu.Lock()
	channels := make([]string, 0, len(m.subscriptions))
	for channel := range m.subscriptions {
		channels = append(channels, channel)
	}
	memberships := make(map[string]string, len(m.presence))
	for channel, userID := range m.presence {
		memberships[channel] = userID
	}
	since := m.lastEventAt
	m.conn = conn
	m.status = StatusConnected
	m.mu.Unlock()

	for _, channel := range channels {
		if err := conn.WriteFrame(subscribeFrame(channel)); err != nil {
			return fmt.Errorf("resubscribe %s: %w", channel, err)
		}
	}
	for channel, userID := range memberships {
		if err := conn.WriteFrame(presenceJoinFrame(channel, userID)); err != nil {
			return fmt.Errorf("rejoin presence %s: %w", channel, err)
		}
	}

	if m.backfiller != nil && !since.IsZero() {
		events, err := m.backfiller.EventsSince(ctx, since, defaultBackfillLimit)
		if err != nil {
			// The live stream is up; a failed gap fetch costs old
			// events, not the connection.
			log.Printf("backfill activity gap: %v", err)
			return nil
		}
		for _, event := range events {
			m.dispatch("activity:global", event)
		}
	}
	return nil
}

// pumpFrames reads until the connection dies, dispatching events and
// answering nothing: acks and presence snapshots are informational here.
func (m *Manager) pumpFrames(ctx context.Context, conn Conn) {
	heartbeatStop := make(chan struct{})
	go m.runHeartbeat(conn, heartbeatStop)
	defer close(heartbeatStop)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("realtime read failed: %v", err)
			}
			return
		}
		if frame.Type != "event" {
			continue
		}
		var envelope eventEnvelope
		if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
			log.Printf("decode event frame: %v", err)
			continue
		}
		m.dispatch(envelope.Channel, envelope.Event)
	}
}

// dispatch routes one event to its channel handler. Events already seen by
// the feed buffer are dropped so backfill overlap never double-fires.
func (m *Manager) dispatch(channel string, event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !event.Timestamp.IsZero() && event.Timestamp.After(m.lastEventAt) {
		m.lastEventAt = event.Timestamp
	}
	if m.feed != nil && !m.feed.Insert(event) {
		return
	}
	if handler, ok := m.subscriptions[channel]; ok {
		handler(event)
	}
}

func (m *Manager) runHeartbeat(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			var userID string
			channels := make([]string, 0, len(m.presence))
			for channel, member := range m.presence {
				channels = append(channels, channel)
				userID = member
			}
			m.mu.Unlock()
			if err := conn.WriteFrame(Frame{
				Type:    "heartbeat",
				Payload: mustJSON(heartbeatPayload{UserID: userID, Channels: channels}),
			}); err != nil {
				return
			}
		}
	}
}

func (m *Manager) writeFrameLocked(frame Frame) error {
	if m.conn == nil {
		return nil
	}
	return m.conn.WriteFrame(frame)
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

func (m *Manager) dropConn(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *Manager) waitBackoff(ctx context.Context, wait time.Duration) bool {
	m.setStatus(StatusBackoff)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	return next
}

func subscribeFrame(channel string) Frame {
	return Frame{
		Type:    "subscribe",
		Payload: mustJSON(subscribePayload{Channel: channel}),
	}
}

func presenceJoinFrame(channel string, userID string) Frame {
	return Frame{
		Type:    "presence.join",
		Payload: mustJSON(presencePayload{Channel: channel, UserID: userID}),
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal frame payload: %v", err)
		return nil
	}
	return b
}
