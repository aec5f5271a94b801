// Package client maintains realtime subscriptions against a pulse server:
// it dials the websocket endpoint, resubscribes and rejoins presence after
// reconnects, backfills missed activity, and buffers the rolling feed.
package client

import (
	"encoding/json"
	"time"
)

// Event is one normalized activity event as broadcast by the server.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	UserID     string            `json:"userId,omitempty"`
	Username   string            `json:"username,omitempty"`
	TargetID   string            `json:"targetId,omitempty"`
	TargetName string            `json:"targetName,omitempty"`
	TargetType string            `json:"targetType,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Frame is one websocket message in either direction.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type eventEnvelope struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
}

type subscribePayload struct {
	Channel string `json:"channel"`
}

type presencePayload struct {
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
}

type heartbeatPayload struct {
	UserID   string   `json:"user_id"`
	Channels []string `json:"channels,omitempty"`
}
