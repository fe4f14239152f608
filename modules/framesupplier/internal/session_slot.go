package internal

import (
	"sync"
	"time"
)

// sessionSlot is a single-slot mailbox owned by one capture session.
//
// put overwrites, the reader blocks on cond until a delivery arrives or
// the slot is closed. A delivery pending at close is still handed over
// once. All fields are guarded by mu.
type sessionSlot struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *Delivery
	closed  bool

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64
}

func newSessionSlot() *sessionSlot {
	slot := &sessionSlot{lastConsumedAt: time.Now()}
	slot.cond = sync.NewCond(&slot.mu)
	return slot
}

func (slot *sessionSlot) put(d Delivery) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.closed {
		return
	}
	if slot.pending != nil {
		slot.consecutiveDrops++
		slot.totalDrops++
	}
	slot.pending = &d
	slot.cond.Signal()
}

func (slot *sessionSlot) read() (Delivery, bool) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	for slot.pending == nil && !slot.closed {
		slot.cond.Wait()
	}
	if slot.pending == nil {
		return Delivery{}, false
	}

	d := *slot.pending
	slot.pending = nil
	slot.lastConsumedAt = time.Now()
	slot.lastConsumedSeq = d.Seq
	slot.consecutiveDrops = 0
	return d, true
}

func (slot *sessionSlot) close() {
	slot.mu.Lock()
	slot.closed = true
	slot.cond.Broadcast()
	slot.mu.Unlock()
}

// Subscribe registers sessionID and returns its blocking reader.
//
// The reader returns ok=false once the session is unsubscribed or the
// supplier stops and its last pending delivery has been read; after Stop, Subscribe returns a reader that fails
// immediately. Subscribing an existing ID replaces (and closes) the
// previous slot.
//
// The reader MUST be called from a single goroutine.
func (s *supplier) Subscribe(sessionID string) func() (Delivery, bool) {
	if s.stopping.Load() {
		return func() (Delivery, bool) { return Delivery{}, false }
	}

	slot := newSessionSlot()
	if prev, loaded := s.slots.Swap(sessionID, slot); loaded {
		prev.(*sessionSlot).close()
	}

	// Stop may have drained the map between the check and the Swap.
	if s.stopping.Load() {
		slot.close()
		s.slots.CompareAndDelete(sessionID, slot)
	}

	return slot.read
}

// Unsubscribe closes the session's slot, waking a blocked reader.
// Idempotent.
func (s *supplier) Unsubscribe(sessionID string) {
	val, ok := s.slots.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	val.(*sessionSlot).close()
}
