package internal

import "sync"

// batchThreshold is the slot count above which distribution fans out in
// goroutines of batchThreshold slots each. Below it a plain loop is
// cheaper than spawning.
const batchThreshold = 8

// distribute stamps a delivery sequence and writes it to every slot.
//
// Large fan-outs are split across goroutines; distribute waits for all of
// them, so delivery N+1 never reaches a slot before N.
func (s *supplier) distribute(obs *Observation) {
	d := Delivery{Obs: obs, Seq: s.deliverySeq.Add(1)}

	var slots []*sessionSlot
	s.slots.Range(func(_, value any) bool {
		slots = append(slots, value.(*sessionSlot))
		return true
	})

	if len(slots) <= batchThreshold {
		for _, slot := range slots {
			slot.put(d)
		}
		return
	}

	var wg sync.WaitGroup
	for i := 0; i < len(slots); i += batchThreshold {
		end := min(i+batchThreshold, len(slots))
		wg.Add(1)
		go func(batch []*sessionSlot) {
			defer wg.Done()
			for _, slot := range batch {
				slot.put(d)
			}
		}(slots[i:end])
	}
	wg.Wait()
}
