package bus

import (
	"sync"
	"sync/atomic"
)

type subscriberHolder struct {
	id     string
	policy DropPolicy

	sent    atomic.Uint64
	dropped atomic.Uint64

	// For DropNew policy
	ch chan<- Event

	// For DropOld policy
	latest *latestEventHolder
}

type bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriberHolder
	totalPublished atomic.Uint64
	closed         bool
}

// New creates a new event bus
func New() Bus {
	return &bus{
		subscribers: make(map[string]*subscriberHolder),
	}
}

// Subscribe registers a channel with DropNew policy
func (b *bus) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	if ch == nil {
		return ErrNilChannel
	}

	b.subscribers[id] = &subscriberHolder{id: id, policy: DropNew, ch: ch}
	return nil
}

// SubscribeDropOld registers a latest-only receiver
func (b *bus) SubscribeDropOld(id string) (EventReceiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	holder := &subscriberHolder{id: id, policy: DropOld, latest: newLatestEventHolder()}
	b.subscribers[id] = holder
	return holder.latest, nil
}

// Publish distributes ev to all subscribers without blocking
func (b *bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.totalPublished.Add(1)

	for _, holder := range b.subscribers {
		switch holder.policy {
		case DropNew:
			select {
			case holder.ch <- ev:
				holder.sent.Add(1)
			default:
				holder.dropped.Add(1)
			}

		case DropOld:
			// An unread event being replaced counts as a drop.
			replaced, err := holder.latest.set(ev)
			if err != nil {
				continue
			}
			holder.sent.Add(1)
			if replaced {
				holder.dropped.Add(1)
			}
		}
	}
}

// Unsubscribe removes a subscriber
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	holder, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if holder.latest != nil {
		holder.latest.Close()
	}

	delete(b.subscribers, id)
	return nil
}

// Stats returns a snapshot of global and per-subscriber counters
func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, holder := range b.subscribers {
		s := SubscriberStats{
			Policy:  holder.policy,
			Sent:    holder.sent.Load(),
			Dropped: holder.dropped.Load(),
		}
		stats.TotalSent += s.Sent
		stats.TotalDropped += s.Dropped
		stats.Subscribers[id] = s
	}
	return stats
}

// Close shuts down the bus and all DropOld receivers.
// DropNew channels are owned by their subscribers and are not closed.
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, holder := range b.subscribers {
		if holder.latest != nil {
			holder.latest.Close()
		}
	}
	b.subscribers = nil
}

// latestEventHolder implements EventReceiver for DropOld policy
type latestEventHolder struct {
	mu      sync.Mutex
	cond    *sync.Cond
	event   Event
	seq     uint64 // bumped on every set
	readSeq uint64 // seq of the last event handed out
	closed  bool
}

func newLatestEventHolder() *latestEventHolder {
	h := &latestEventHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *latestEventHolder) set(ev Event) (replaced bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false, ErrReceiverClosed
	}

	replaced = h.seq > h.readSeq
	h.event = ev
	h.seq++
	h.cond.Broadcast()
	return replaced, nil
}

// Receive blocks until an unseen event is available or the receiver closes
func (h *latestEventHolder) Receive() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.seq == h.readSeq && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return Event{}, false
	}

	h.readSeq = h.seq
	return h.event, true
}

// TryReceive returns the latest unseen event without blocking
func (h *latestEventHolder) TryReceive() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.seq == h.readSeq {
		return Event{}, false
	}
	h.readSeq = h.seq
	return h.event, true
}

// Close wakes any blocked Receive
func (h *latestEventHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
