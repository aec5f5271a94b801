package app

import (
	"testing"
	"time"
)

type tickingClock struct {
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	return c.now
}

func (c *tickingClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestTracker(timeout time.Duration) (*PresenceTracker, *tickingClock) {
	clock := &tickingClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
	return NewPresenceTracker(timeout, clock.Now), clock
}

func TestPresenceJoinReportsFreshMembership(t *testing.T) {
	t.Parallel()
	tracker, _ := newTestTracker(time.Minute)

	if !tracker.Join("presence:ext-1", "user-1") {
		t.Fatal("first join should create a membership")
	}
	if tracker.Join("presence:ext-1", "user-1") {
		t.Fatal("second join of same user should collapse into existing membership")
	}
	members := tracker.Members("presence:ext-1")
	if len(members) != 1 {
		t.Fatalf("members = %d, want 1", len(members))
	}
}

func TestPresenceLeaveRemovesOnlyLastConnection(t *testing.T) {
	t.Parallel()
	tracker, _ := newTestTracker(time.Minute)

	tracker.Join("presence:ext-1", "user-1")
	tracker.Join("presence:ext-1", "user-1")

	if tracker.Leave("presence:ext-1", "user-1") {
		t.Fatal("leave with a second connection open should keep the membership")
	}
	if !tracker.Leave("presence:ext-1", "user-1") {
		t.Fatal("final leave should remove the membership")
	}
	if members := tracker.Members("presence:ext-1"); len(members) != 0 {
		t.Fatalf("members after final leave = %d, want 0", len(members))
	}
}

func TestPresenceLeaveUnknownMembershipIsNoOp(t *testing.T) {
	t.Parallel()
	tracker, _ := newTestTracker(time.Minute)

	if tracker.Leave("presence:ext-1", "user-404") {
		t.Fatal("leaving an unknown membership should report nothing removed")
	}
}

func TestPresenceEvictionRemovesLapsedHeartbeats(t *testing.T) {
	t.Parallel()
	tracker, clock := newTestTracker(30 * time.Second)

	tracker.Join("presence:ext-1", "user-1")
	tracker.Join("presence:ext-1", "user-2")

	clock.Advance(20 * time.Second)
	tracker.Heartbeat("presence:ext-1", "user-2")

	clock.Advance(15 * time.Second)
	evicted := tracker.EvictExpired()
	if len(evicted) != 1 {
		t.Fatalf("evicted = %d memberships, want 1", len(evicted))
	}
	if evicted[0].UserID != "user-1" || evicted[0].ChannelKey != "presence:ext-1" {
		t.Fatalf("evicted = %+v, want user-1 on presence:ext-1", evicted[0])
	}

	members := tracker.Members("presence:ext-1")
	if len(members) != 1 || members[0].UserID != "user-2" {
		t.Fatalf("members after eviction = %+v, want only user-2", members)
	}
}

func TestPresenceEvictionIsEmptyWhenHeartbeatsFresh(t *testing.T) {
	t.Parallel()
	tracker, clock := newTestTracker(30 * time.Second)

	tracker.Join("presence:ext-1", "user-1")
	clock.Advance(10 * time.Second)

	if evicted := tracker.EvictExpired(); len(evicted) != 0 {
		t.Fatalf("evicted = %d memberships, want 0", len(evicted))
	}
}

func TestPresenceMembersSeparateChannels(t *testing.T) {
	t.Parallel()
	tracker, _ := newTestTracker(time.Minute)

	tracker.Join("presence:ext-1", "user-1")
	tracker.Join("presence:ext-2", "user-1")
	tracker.Join("presence:ext-2", "user-2")

	if members := tracker.Members("presence:ext-1"); len(members) != 1 {
		t.Fatalf("ext-1 members = %d, want 1", len(members))
	}
	if members := tracker.Members("presence:ext-2"); len(members) != 2 {
		t.Fatalf("ext-2 members = %d, want 2", len(members))
	}
}
