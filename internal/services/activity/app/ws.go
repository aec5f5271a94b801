package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	activitydomain "github.com/cldcde/pulse/internal/services/activity/domain"
)

// wsPeer serializes writes to one websocket connection. Broadcast payloads
// arrive pre-encoded from the hub; direct replies go through the encoder.
// Both paths share the mutex so frames never interleave.
type wsPeer struct {
	mu      sync.Mutex
	conn    io.Writer
	encoder *json.Encoder
}

func newWSPeer(conn io.Writer) *wsPeer {
	return &wsPeer{
		conn:    conn,
		encoder: json.NewEncoder(conn),
	}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *wsPeer) deliver(_ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.conn.Write(payload)
	return err
}

// wsSession tracks one connection's subscriptions and presence memberships
// so teardown can release exactly what the connection acquired.
type wsSession struct {
	mu            sync.Mutex
	peer          *wsPeer
	subscriptions map[string]struct{}
	// presence maps channel key to the user id joined on this connection.
	presence map[string]string
}

func newWSSession(peer *wsPeer) *wsSession {
	return &wsSession{
		peer:          peer,
		subscriptions: make(map[string]struct{}),
		presence:      make(map[string]string),
	}
}

func (s *wsSession) addSubscription(channelKey string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[channelKey]; ok {
		return false, true
	}
	if len(s.subscriptions) >= maxSubscriptionsPerConn {
		return false, false
	}
	s.subscriptions[channelKey] = struct{}{}
	return true, true
}

func (s *wsSession) removeSubscription(channelKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[channelKey]; !ok {
		return false
	}
	delete(s.subscriptions, channelKey)
	return true
}

// setPresence records the membership this connection holds on channelKey and
// returns the previous user id, if the connection had already joined.
func (s *wsSession) setPresence(channelKey string, userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.presence[channelKey]
	s.presence[channelKey] = userID
	return previous, ok
}

func (s *wsSession) clearPresence(channelKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.presence[channelKey]
	if ok {
		delete(s.presence, channelKey)
	}
	return userID, ok
}

func (s *wsSession) drainPresence() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.presence
	s.presence = make(map[string]string)
	return drained
}

func newWSHandler(h *handler) http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		h.handleWSConn(conn)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}

func (h *handler) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(conn)
	session := newWSSession(peer)
	defer h.teardownWSSession(session)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "subscribe":
			h.handleSubscribeFrame(session, frame)
		case "unsubscribe":
			h.handleUnsubscribeFrame(session, frame)
		case "presence.join":
			h.handlePresenceJoinFrame(session, frame)
		case "presence.leave":
			h.handlePresenceLeaveFrame(session, frame)
		case "heartbeat":
			h.handleHeartbeatFrame(session, frame)
		default:
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

// teardownWSSession releases everything the connection held: hub
// subscriptions and any presence memberships joined through it. Presence
// departures are broadcast so remaining viewers see the member leave.
func (h *handler) teardownWSSession(session *wsSession) {
	h.hub.detach(session.peer)
	for channelKey, userID := range session.drainPresence() {
		if h.presence.Leave(channelKey, userID) {
			h.broadcastPresenceState(channelKey)
		}
	}
}

func (h *handler) handleSubscribeFrame(session *wsSession, frame wsFrame) {
	var payload subscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid subscribe payload")
		return
	}
	channelKey := strings.TrimSpace(payload.Channel)
	if channelKey == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "channel is required")
		return
	}

	added, ok := session.addSubscription(channelKey)
	if !ok {
		_ = writeWSError(session.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "subscription limit reached")
		return
	}
	if added {
		h.hub.subscribe(channelKey, session.peer)
	}
	_ = session.peer.writeFrame(wsFrame{
		Type:      "subscribed",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackPayload{Status: "ok", Channel: channelKey}),
	})
}

// handleUnsubscribeFrame detaches one channel. Repeats are acknowledged the
// same way; unsubscribing twice is not an error.
func (h *handler) handleUnsubscribeFrame(session *wsSession, frame wsFrame) {
	var payload subscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid unsubscribe payload")
		return
	}
	channelKey := strings.TrimSpace(payload.Channel)
	if channelKey == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "channel is required")
		return
	}

	if session.removeSubscription(channelKey) {
		h.hub.unsubscribe(channelKey, session.peer)
	}
	_ = session.peer.writeFrame(wsFrame{
		Type:      "unsubscribed",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackPayload{Status: "ok", Channel: channelKey}),
	})
}

func (h *handler) handlePresenceJoinFrame(session *wsSession, frame wsFrame) {
	var payload presencePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid presence payload")
		return
	}
	channelKey := strings.TrimSpace(payload.Channel)
	userID := strings.TrimSpace(payload.UserID)
	if channelKey == "" || userID == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "channel and user_id are required")
		return
	}
	// Presence memberships only exist on presence channels. Normalizing the
	// key here keeps "presence:ext-1" and "presence: ext-1" the same room.
	key, isPresence := strings.CutPrefix(channelKey, "presence:")
	if !isPresence || strings.TrimSpace(key) == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "channel must be a presence channel")
		return
	}
	channelKey = activitydomain.PresenceChannel(key)

	// One connection contributes at most one tracker join per channel, so
	// repeat join frames refresh the membership instead of inflating the
	// connection count the eventual leave cannot fully release.
	previousUserID, rejoined := session.setPresence(channelKey, userID)
	changed := false
	if rejoined && previousUserID != userID {
		changed = h.presence.Leave(channelKey, previousUserID)
	}
	if !rejoined || previousUserID != userID {
		if h.presence.Join(channelKey, userID) {
			changed = true
		}
	} else {
		h.presence.Heartbeat(channelKey, userID)
	}
	if changed {
		h.broadcastPresenceState(channelKey)
	}

	stateFrame, err := h.presenceStateFrame(channelKey)
	if err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INTERNAL", "failed to encode presence state")
		return
	}
	_ = session.peer.deliver(channelKey, stateFrame)
}

func (h *handler) handlePresenceLeaveFrame(session *wsSession, frame wsFrame) {
	var payload presencePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid presence payload")
		return
	}
	channelKey := strings.TrimSpace(payload.Channel)
	if channelKey == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "channel is required")
		return
	}

	userID, joined := session.clearPresence(channelKey)
	if joined && h.presence.Leave(channelKey, userID) {
		h.broadcastPresenceState(channelKey)
	}
	_ = session.peer.writeFrame(wsFrame{
		Type:      "presence.left",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackPayload{Status: "ok", Channel: channelKey}),
	})
}

// handleHeartbeatFrame refreshes presence deadlines for the channels the
// client reports, then acknowledges so the client can detect dead links.
func (h *handler) handleHeartbeatFrame(session *wsSession, frame wsFrame) {
	var payload heartbeatPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid heartbeat payload")
			return
		}
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID != "" {
		for _, channelKey := range payload.Channels {
			h.presence.Heartbeat(strings.TrimSpace(channelKey), userID)
		}
	}
	_ = session.peer.writeFrame(wsFrame{
		Type:      "heartbeat.ack",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackPayload{Status: "ok"}),
	})
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: false,
			},
		}),
	})
}
