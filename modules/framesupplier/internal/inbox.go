package internal

// Publish hands one observation to the distribution loop.
//
// Never blocks: an unconsumed inbox observation is overwritten and counted
// in InboxDrops. After Stop, Publish is a no-op.
//
// Contract: obs MUST NOT be nil and MUST NOT be modified after Publish.
func (s *supplier) Publish(obs *Observation) {
	if s.stopping.Load() {
		return
	}

	s.inboxMu.Lock()
	if s.inbox != nil {
		s.drops.Add(1)
	}
	s.inbox = obs
	s.published.Add(1)
	s.inboxCond.Signal()
	s.inboxMu.Unlock()
}
