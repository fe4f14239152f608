package framebus

// CalculateDropRate returns the share of deliveries lost across all
// subscribers (0.0 to 1.0). Returns 0.0 when nothing was delivered.
func CalculateDropRate(stats BusStats) float64 {
	total := stats.TotalSent + stats.TotalDropped
	if total == 0 {
		return 0.0
	}
	return float64(stats.TotalDropped) / float64(total)
}

// CalculateSubscriberDropRate returns the drop rate for one subscriber.
//
// For DropNew, Sent and Dropped partition the published events. For
// DropOld every event is stored (Sent) and Dropped counts the ones
// replaced before being read, so the rate is Dropped/Sent.
// Returns 0.0 for unknown subscribers or no activity.
func CalculateSubscriberDropRate(stats BusStats, subscriberID string) float64 {
	sub, exists := stats.Subscribers[subscriberID]
	if !exists {
		return 0.0
	}

	total := sub.Sent + sub.Dropped
	if sub.Policy == DropOld {
		total = sub.Sent
	}
	if total == 0 {
		return 0.0
	}
	return float64(sub.Dropped) / float64(total)
}
