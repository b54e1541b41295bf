package health

// Snapshot is a read-only, side-effect free view of the persistence core's
// health. All values are estimates taken at snapshot time and may lag the
// live state.
type Snapshot struct {
	// EntriesByType is the number of live cache entries per record type.
	EntriesByType map[string]int64 `json:"entries_by_type"`
	// TotalEntries is the number of live cache entries.
	TotalEntries int64 `json:"total_entries"`
	// ApproxValueBytes estimates the total byte size of stored values
	// (weighted median/average estimate, see EstimateTotalBytes).
	ApproxValueBytes int64 `json:"approx_value_bytes"`
	// QueueDepth is the current length of the priority event queue.
	QueueDepth int `json:"queue_depth"`
	// InFlight is the number of event handlers currently executing.
	InFlight int `json:"in_flight"`
	// DroppedEvents counts events dropped or evicted under queue pressure.
	DroppedEvents uint64 `json:"dropped_events"`
}

// EstimateTotalBytes estimates the total value payload size for a population
// of entryCount values sampled into the histogram. The estimate weights the
// median (60%) against the average (40%) so a few oversized payloads do not
// dominate the result.
func EstimateTotalBytes(h *SizeHistogram, entryCount int64) int64 {
	if h == nil || entryCount == 0 {
		return 0
	}
	perEntry := (h.MedianEstimate()*60 + h.AverageSize()*40) / 100
	return int64(perEntry) * entryCount
}
