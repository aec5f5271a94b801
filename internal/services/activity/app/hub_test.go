package app

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type collectingSink struct {
	mu       sync.Mutex
	payloads []string
	failWith error
}

func (s *collectingSink) deliver(_ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.payloads = append(s.payloads, string(payload))
	return nil
}

func (s *collectingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	t.Parallel()
	hub := newChannelHub(nil)
	first := &collectingSink{}
	second := &collectingSink{}
	hub.subscribe("activity:global", first)
	hub.subscribe("activity:global", second)

	hub.broadcast("activity:global", []byte(`{"n":1}`))

	for _, sink := range []*collectingSink{first, second} {
		got := sink.snapshot()
		if len(got) != 1 || got[0] != `{"n":1}` {
			t.Fatalf("sink payloads = %v, want one {\"n\":1}", got)
		}
	}
}

// stallingSink blocks its first delivery until released, so a test can hold
// one broadcast inside the send phase while another broadcast runs.
type stallingSink struct {
	mu       sync.Mutex
	started  bool
	entered  chan struct{}
	release  chan struct{}
	payloads []string
}

func newStallingSink() *stallingSink {
	return &stallingSink{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *stallingSink) deliver(_ string, payload []byte) error {
	s.mu.Lock()
	first := !s.started
	s.started = true
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, string(payload))
	s.mu.Unlock()
	return nil
}

func (s *stallingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func TestHubSequentialBroadcastsKeepOrderWhenDeliveryStalls(t *testing.T) {
	t.Parallel()
	hub := newChannelHub(nil)
	sink := newStallingSink()
	hub.subscribe("activity:global", sink)

	firstDone := make(chan struct{})
	go func() {
		hub.broadcast("activity:global", []byte(`{"n":1}`))
		close(firstDone)
	}()
	<-sink.entered

	// The second broadcast starts only after the first has reserved its
	// slot; its delivery must wait behind the stalled one.
	secondDone := make(chan struct{})
	go func() {
		hub.broadcast("activity:global", []byte(`{"n":2}`))
		close(secondDone)
	}()
	time.Sleep(20 * time.Millisecond)
	close(sink.release)

	for _, done := range []chan struct{}{firstDone, secondDone} {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("broadcast did not finish")
		}
	}

	got := sink.snapshot()
	if len(got) != 2 || got[0] != `{"n":1}` || got[1] != `{"n":2}` {
		t.Fatalf("payload order = %v, want n:1 then n:2", got)
	}
}

func TestHubBroadcastSkipsOtherChannels(t *testing.T) {
	t.Parallel()
	hub := newChannelHub(nil)
	sink := &collectingSink{}
	hub.subscribe("notifications:user-1", sink)

	hub.broadcast("activity:global", []byte(`{"n":1}`))

	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("sink payloads = %v, want none", got)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	hub := newChannelHub(nil)
	sink := &collectingSink{}
	hub.subscribe("activity:global", sink)
	hub.unsubscribe("activity:global", sink)

	hub.broadcast("activity:global", []byte(`{"n":1}`))

	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("sink payloads = %v, want none after unsubscribe", got)
	}
}

func TestHubRemovesDeadSinks(t *testing.T) {
	t.Parallel()
	hub := newChannelHub(nil)
	dead := &collectingSink{failWith: errors.New("connection reset")}
	alive := &collectingSink{}
	hub.subscribe("activity:global", dead)
	hub.subscribe("activity:global", alive)

	hub.broadcast("activity:global", []byte(`{"n":1}`))
	hub.broadcast("activity:global", []byte(`{"n":2}`))

	if got := alive.snapshot(); len(got) != 2 {
		t.Fatalf("alive sink payloads = %d, want 2", len(got))
	}
}

func TestHubDetachRemovesSinkFromEveryChannel(t *testing.T) {
	t.Parallel()
	hub := newChannelHub(nil)
	sink := &collectingSink{}
	hub.subscribe("activity:global", sink)
	hub.subscribe("presence:ext-1", sink)

	hub.detach(sink)

	hub.broadcast("activity:global", []byte(`{"n":1}`))
	hub.broadcast("presence:ext-1", []byte(`{"n":2}`))
	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("sink payloads = %v, want none after detach", got)
	}
}

// A burst above the soft per-channel rate must still deliver every event in
// append order, just spread over later flush windows.
func TestHubBurstCoalescesWithoutDroppingOrReordering(t *testing.T) {
	t.Parallel()
	hub := newChannelHub(nil)
	sink := &collectingSink{}
	hub.subscribe("activity:global", sink)

	const total = 25
	for i := 0; i < total; i++ {
		hub.broadcast("activity:global", []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) == total {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	got := sink.snapshot()
	if len(got) != total {
		t.Fatalf("delivered = %d payloads, want %d", len(got), total)
	}
	for i, payload := range got {
		want := fmt.Sprintf(`{"n":%d}`, i)
		if payload != want {
			t.Fatalf("payload[%d] = %s, want %s", i, payload, want)
		}
	}
}
