// Package internal implements the latest-only observation mailbox.
//
// This package is INTERNAL - clients MUST use the public API in
// modules/framesupplier.
package internal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("framesupplier: already started")

// supplier is the concrete Supplier.
//
// Goroutine topology:
//   - 1 fixed: distributionLoop (Start → Stop)
//   - 0..N/8 transient: batch goroutines for large fan-outs
//   - N external: session goroutines blocked in their reader
type supplier struct {
	// Adapter → supplier.
	inboxMu   sync.Mutex
	inboxCond *sync.Cond
	inbox     *Observation
	published atomic.Uint64
	drops     atomic.Uint64

	// Supplier → sessions. sessionID (string) → *sessionSlot.
	slots sync.Map

	deliverySeq atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	stopping  atomic.Bool
}

// NewSupplier is called by framesupplier.New.
func NewSupplier() *supplier {
	s := &supplier{}
	s.inboxCond = sync.NewCond(&s.inboxMu)
	return s
}

// Start spawns the distribution loop and returns immediately.
func (s *supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.distributionLoop()

	// Parent cancellation must also wake the loop, which may be parked in
	// inboxCond.Wait with nothing published.
	go func() {
		<-s.ctx.Done()
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
	}()

	return nil
}

// Stop shuts the loop down, distributes an observation still waiting in
// the inbox, and closes every session slot. Readers receive their pending
// delivery before ok=false. Idempotent.
func (s *supplier) Stop() error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.startedMu.Lock()
	started := s.started
	s.startedMu.Unlock()

	if started {
		// A loop ended by parent cancellation has nothing left to flush.
		flush := s.ctx.Err() == nil
		s.cancel()
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
		s.wg.Wait()

		if flush {
			s.inboxMu.Lock()
			last := s.inbox
			s.inbox = nil
			s.inboxMu.Unlock()
			if last != nil {
				s.distribute(last)
			}
		}
	}

	s.slots.Range(func(key, value any) bool {
		value.(*sessionSlot).close()
		s.slots.Delete(key)
		return true
	})

	return nil
}

// distributionLoop waits for the inbox, takes the observation and fans it
// out to every session slot. Exits on ctx cancellation.
func (s *supplier) distributionLoop() {
	defer s.wg.Done()

	for {
		s.inboxMu.Lock()
		for s.inbox == nil {
			if s.ctx.Err() != nil {
				s.inboxMu.Unlock()
				return
			}
			s.inboxCond.Wait()
		}
		if s.ctx.Err() != nil {
			s.inboxMu.Unlock()
			return
		}

		obs := s.inbox
		s.inbox = nil
		s.inboxMu.Unlock()

		s.distribute(obs)
	}
}
