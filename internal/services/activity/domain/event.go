package domain

import (
	"strings"
	"time"
)

// EventType classifies one normalized activity event.
type EventType string

const (
	// TypeExtensionAdded records a new extension published to the catalog.
	TypeExtensionAdded EventType = "extension_added"
	// TypeMCPAdded records a new MCP server published to the catalog.
	TypeMCPAdded EventType = "mcp_added"
	// TypeRatingAdded records a rating left on a catalog target.
	TypeRatingAdded EventType = "rating_added"
	// TypeReviewAdded records a review left on a catalog target.
	TypeReviewAdded EventType = "review_added"
	// TypeDownload records a download counter increase on a catalog target.
	TypeDownload EventType = "download"
	// TypeUserJoined records a new user registration.
	TypeUserJoined EventType = "user_joined"
	// TypeMilestoneReached records a one-time download threshold crossing.
	TypeMilestoneReached EventType = "milestone_reached"
)

// TargetType identifies which catalog surface an event points at.
type TargetType string

const (
	// TargetExtension marks events about catalog extensions.
	TargetExtension TargetType = "extension"
	// TargetMCP marks events about catalog MCP servers.
	TargetMCP TargetType = "mcp"
)

// ChannelActivityGlobal receives every normalized activity event.
const ChannelActivityGlobal = "activity:global"

// PresenceChannel names the presence channel for a page or target key.
func PresenceChannel(key string) string {
	return "presence:" + strings.TrimSpace(key)
}

// NotificationsChannel names the per-recipient notification channel.
func NotificationsChannel(userID string) string {
	return "notifications:" + strings.TrimSpace(userID)
}

// Event is one immutable, normalized record of a qualifying catalog mutation.
//
// Ordering is commit-time within a single source table; no cross-table total
// order exists. Consumers deduplicate by ID.
type Event struct {
	ID         string
	Type       EventType
	Timestamp  time.Time
	ActorID    string
	ActorName  string
	TargetID   string
	TargetName string
	TargetType TargetType
	Metadata   map[string]string
}

// ValidType reports whether value is a known event type.
func ValidType(value EventType) bool {
	switch value {
	case TypeExtensionAdded, TypeMCPAdded, TypeRatingAdded, TypeReviewAdded,
		TypeDownload, TypeUserJoined, TypeMilestoneReached:
		return true
	}
	return false
}

// ValidTargetType reports whether value is a known target type.
func ValidTargetType(value TargetType) bool {
	return value == TargetExtension || value == TargetMCP
}
