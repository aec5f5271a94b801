package app

import (
	"log"
	"sync"
	"time"
)

// maxEventsPerChannelPerSecond is the soft ceiling on broadcast throughput
// for a single channel. Bursts above it are queued and flushed at the next
// window rather than dropped, so subscribers still see every event in
// append order.
const maxEventsPerChannelPerSecond = 10

// eventSink receives broadcast payloads for one subscriber. A non-nil error
// marks the sink dead and removes it from every channel it was attached to.
type eventSink interface {
	deliver(channelKey string, payload []byte) error
}

type hubChannel struct {
	mu          sync.Mutex
	subscribers map[eventSink]struct{}

	// sendMu is acquired while mu is still held, so payloads reach the
	// sinks in the same order their rate-window slots were reserved.
	sendMu sync.Mutex

	windowStart  time.Time
	sentInWindow int
	pending      [][]byte
	flushArmed   bool
}

// channelHub fans events out to websocket subscribers grouped by channel
// key. Channels are created on first subscribe and garbage collected when
// the last subscriber detaches.
type channelHub struct {
	mu       sync.Mutex
	channels map[string]*hubChannel
	clock    func() time.Time
}

func newChannelHub(clock func() time.Time) *channelHub {
	if clock == nil {
		clock = time.Now
	}
	return &channelHub{
		channels: make(map[string]*hubChannel),
		clock:    clock,
	}
}

func (h *channelHub) subscribe(channelKey string, sink eventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelKey]
	if !ok {
		ch = &hubChannel{subscribers: make(map[eventSink]struct{})}
		h.channels[channelKey] = ch
	}
	ch.mu.Lock()
	ch.subscribers[sink] = struct{}{}
	ch.mu.Unlock()
}

func (h *channelHub) unsubscribe(channelKey string, sink eventSink) {
	h.mu.Lock()
	ch, ok := h.channels[channelKey]
	h.mu.Unlock()
	if !ok {
		return
	}
	ch.mu.Lock()
	delete(ch.subscribers, sink)
	empty := len(ch.subscribers) == 0 && len(ch.pending) == 0
	ch.mu.Unlock()
	if empty {
		h.mu.Lock()
		if cur, ok := h.channels[channelKey]; ok && cur == ch {
			delete(h.channels, channelKey)
		}
		h.mu.Unlock()
	}
}

// detach removes a sink from every channel, for connection teardown.
func (h *channelHub) detach(sink eventSink) {
	h.mu.Lock()
	channels := make(map[string]*hubChannel, len(h.channels))
	for key, ch := range h.channels {
		channels[key] = ch
	}
	h.mu.Unlock()
	for key := range channels {
		h.unsubscribe(key, sink)
	}
}

// broadcast delivers payload to every subscriber of channelKey. Within the
// soft rate window delivery is immediate; past it, payloads queue behind any
// earlier backlog so ordering survives the burst.
func (h *channelHub) broadcast(channelKey string, payload []byte) {
	h.mu.Lock()
	ch, ok := h.channels[channelKey]
	h.mu.Unlock()
	if !ok {
		// Nobody listening; the event is already durable in the log.
		return
	}

	ch.mu.Lock()
	now := h.clock()
	if now.Sub(ch.windowStart) >= time.Second {
		ch.windowStart = now
		ch.sentInWindow = 0
	}
	if len(ch.pending) > 0 || ch.sentInWindow >= maxEventsPerChannelPerSecond {
		ch.pending = append(ch.pending, payload)
		if !ch.flushArmed {
			ch.flushArmed = true
			delay := time.Second - now.Sub(ch.windowStart)
			if delay <= 0 {
				delay = time.Millisecond
			}
			log.Printf("channel %s over %d events/sec, coalescing %d pending", channelKey, maxEventsPerChannelPerSecond, len(ch.pending))
			time.AfterFunc(delay, func() { h.flush(channelKey, ch) })
		}
		ch.mu.Unlock()
		return
	}
	ch.sentInWindow++
	sinks := snapshotSinks(ch)
	ch.sendMu.Lock()
	ch.mu.Unlock()

	dead := deliverToSinks(channelKey, sinks, payload)
	ch.sendMu.Unlock()
	removeSinks(ch, dead)
}

// flush drains the pending backlog one rate window at a time.
func (h *channelHub) flush(channelKey string, ch *hubChannel) {
	ch.mu.Lock()
	ch.windowStart = h.clock()
	ch.sentInWindow = 0
	n := len(ch.pending)
	if n > maxEventsPerChannelPerSecond {
		n = maxEventsPerChannelPerSecond
	}
	batch := ch.pending[:n]
	ch.pending = ch.pending[n:]
	ch.sentInWindow = n
	if len(ch.pending) > 0 {
		time.AfterFunc(time.Second, func() { h.flush(channelKey, ch) })
	} else {
		ch.flushArmed = false
	}
	sinks := snapshotSinks(ch)
	ch.sendMu.Lock()
	ch.mu.Unlock()

	var dead []eventSink
	for _, payload := range batch {
		dead = append(dead, deliverToSinks(channelKey, sinks, payload)...)
	}
	ch.sendMu.Unlock()
	removeSinks(ch, dead)
}

func deliverToSinks(channelKey string, sinks []eventSink, payload []byte) []eventSink {
	var dead []eventSink
	for _, sink := range sinks {
		if err := sink.deliver(channelKey, payload); err != nil {
			dead = append(dead, sink)
		}
	}
	return dead
}

func removeSinks(ch *hubChannel, dead []eventSink) {
	if len(dead) == 0 {
		return
	}
	ch.mu.Lock()
	for _, sink := range dead {
		delete(ch.subscribers, sink)
	}
	ch.mu.Unlock()
}

func snapshotSinks(ch *hubChannel) []eventSink {
	sinks := make([]eventSink, 0, len(ch.subscribers))
	for sink := range ch.subscribers {
		sinks = append(sinks, sink)
	}
	return sinks
}
