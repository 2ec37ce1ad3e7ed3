package state

import "sync"

// hubBufferSize is the nominal limit of 100 messages for the hub as a
// whole. The Hub does not reference it: it keeps no shared buffer of its
// own, and Broadcast delivers straight into each subscriber's queue, so
// the per-subscriber bound is the only one enforced.
const hubBufferSize = 100

// subscriberQueueSize is the bound on each subscriber's outbound channel.
// A slow subscriber drops messages past this bound rather than blocking
// the publisher or other subscribers.
const subscriberQueueSize = 32

// Subscription is a session's handle onto the broadcast hub. Messages
// is read by the session's broadcast-forwarder task; Close removes the
// subscription and must be called exactly once, on teardown.
type Subscription struct {
	id       uint64
	messages chan interface{}
	hub      *Hub
}

// Messages returns the channel the broadcast-forwarder task should range
// over (or select on) to receive fan-out messages.
func (s *Subscription) Messages() <-chan interface{} {
	return s.messages
}

// Send delivers msg directly to this subscriber only, without going
// through Hub.Broadcast. Used for point-to-point replies (offload-result
// routing) that must reach exactly one session rather than all of them.
// Non-blocking: reports false if the subscriber's queue is full.
func (s *Subscription) Send(msg interface{}) bool {
	select {
	case s.messages <- msg:
		return true
	default:
		return false
	}
}

// Close removes the subscription from the hub. Safe to call once; a
// second call is a no-op.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// Hub is a multi-subscriber broadcast fan-out. Broadcast never blocks: a
// subscriber whose queue is full silently drops the message rather than
// stall the publisher or any other subscriber.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan interface{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan interface{})}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan interface{}, subscriberQueueSize)
	h.subs[id] = ch
	return &Subscription{id: id, messages: ch, hub: h}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Broadcast enqueues msg to every subscriber. A subscriber whose channel
// is full is skipped for this message rather than blocked on.
func (h *Hub) Broadcast(msg interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscriptions. Intended
// for diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
