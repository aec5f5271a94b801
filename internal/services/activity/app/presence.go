package app

import (
	"strings"
	"sync"
	"time"
)

const defaultPresenceTimeout = 45 * time.Second

// PresenceMember is one user's visible membership in a channel.
type PresenceMember struct {
	UserID   string
	JoinedAt time.Time
}

type presenceEntry struct {
	joinedAt      time.Time
	lastHeartbeat time.Time
	connections   int
}

// PresenceTracker maintains the ephemeral viewer set per channel.
//
// Membership is keyed by (channel, user): concurrent joins from multiple
// connections of the same user collapse into one entry, and the entry only
// disappears once every connection has left or its heartbeat lapses. Nothing
// here is persisted; state rebuilds naturally as clients rejoin after a
// restart.
type PresenceTracker struct {
	mu       sync.Mutex
	channels map[string]map[string]*presenceEntry
	clock    func() time.Time
	timeout  time.Duration
}

// NewPresenceTracker constructs a tracker with the given heartbeat timeout.
func NewPresenceTracker(timeout time.Duration, clock func() time.Time) *PresenceTracker {
	if timeout <= 0 {
		timeout = defaultPresenceTimeout
	}
	if clock == nil {
		clock = time.Now
	}
	return &PresenceTracker{
		channels: make(map[string]map[string]*presenceEntry),
		clock:    clock,
		timeout:  timeout,
	}
}

// Join records one connection of userID viewing channelKey. It reports
// whether this created a new membership entry; repeat joins refresh the
// entry instead of duplicating it.
func (p *PresenceTracker) Join(channelKey string, userID string) bool {
	channelKey = strings.TrimSpace(channelKey)
	userID = strings.TrimSpace(userID)
	if channelKey == "" || userID == "" {
		return false
	}

	now := p.clock().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.channels[channelKey]
	if !ok {
		members = make(map[string]*presenceEntry)
		p.channels[channelKey] = members
	}
	entry, exists := members[userID]
	if exists {
		entry.connections++
		entry.joinedAt = now
		entry.lastHeartbeat = now
		return false
	}
	members[userID] = &presenceEntry{
		joinedAt:      now,
		lastHeartbeat: now,
		connections:   1,
	}
	return true
}

// Leave releases one connection of userID from channelKey. The membership
// entry is removed only when no other connection for that user remains; it
// reports whether the membership disappeared. Leaving a channel the user is
// not in is a no-op.
func (p *PresenceTracker) Leave(channelKey string, userID string) bool {
	channelKey = strings.TrimSpace(channelKey)
	userID = strings.TrimSpace(userID)
	if channelKey == "" || userID == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.channels[channelKey]
	if !ok {
		return false
	}
	entry, exists := members[userID]
	if !exists {
		return false
	}
	entry.connections--
	if entry.connections > 0 {
		return false
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(p.channels, channelKey)
	}
	return true
}

// Heartbeat refreshes the eviction deadline for one membership. Unknown
// memberships are ignored; the client is expected to rejoin.
func (p *PresenceTracker) Heartbeat(channelKey string, userID string) {
	channelKey = strings.TrimSpace(channelKey)
	userID = strings.TrimSpace(userID)
	if channelKey == "" || userID == "" {
		return
	}

	now := p.clock().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.channels[channelKey][userID]; ok {
		entry.lastHeartbeat = now
	}
}

// Members snapshots the current viewer set of a channel.
func (p *PresenceTracker) Members(channelKey string) []PresenceMember {
	channelKey = strings.TrimSpace(channelKey)

	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.channels[channelKey]
	members := make([]PresenceMember, 0, len(entries))
	for userID, entry := range entries {
		members = append(members, PresenceMember{UserID: userID, JoinedAt: entry.joinedAt})
	}
	return members
}

// PresenceEviction records one membership removed by heartbeat timeout.
type PresenceEviction struct {
	ChannelKey string
	UserID     string
}

// EvictExpired removes every membership whose heartbeat lapsed, matching the
// behavior of an ungraceful disconnect, and returns what was removed.
func (p *PresenceTracker) EvictExpired() []PresenceEviction {
	deadline := p.clock().UTC().Add(-p.timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	var evicted []PresenceEviction
	for channelKey, members := range p.channels {
		for userID, entry := range members {
			if entry.lastHeartbeat.Before(deadline) {
				delete(members, userID)
				evicted = append(evicted, PresenceEviction{ChannelKey: channelKey, UserID: userID})
			}
		}
		if len(members) == 0 {
			delete(p.channels, channelKey)
		}
	}
	return evicted
}
