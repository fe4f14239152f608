package internal

import "time"

// idleThreshold marks a session idle when it has not consumed for this
// long. Recognizer-backed sources run well below 1 fps, so the bound is
// generous.
const idleThreshold = 30 * time.Second

// Stats returns a point-in-time snapshot; per-slot fields are read under
// the slot lock.
func (s *supplier) Stats() SupplierStats {
	sessions := make(map[string]SessionStats)

	s.slots.Range(func(key, value any) bool {
		id := key.(string)
		slot := value.(*sessionSlot)

		slot.mu.Lock()
		sessions[id] = SessionStats{
			SessionID:        id,
			LastConsumedAt:   slot.lastConsumedAt,
			LastConsumedSeq:  slot.lastConsumedSeq,
			ConsecutiveDrops: slot.consecutiveDrops,
			TotalDrops:       slot.totalDrops,
			IsIdle:           time.Since(slot.lastConsumedAt) > idleThreshold,
		}
		slot.mu.Unlock()
		return true
	})

	return SupplierStats{
		Published:  s.published.Load(),
		InboxDrops: s.drops.Load(),
		Sessions:   sessions,
	}
}
