package domain

// PricePoint is one mid-price observation.
type PricePoint struct {
	Timestamp float64 `json:"timestamp"`
	Mid       float64 `json:"mid"`
}

// PriceHistory is a bounded, time-windowed sequence of mid prices. The
// oldest retained entry is always within the retention window of the newest.
type PriceHistory struct {
	points    []PricePoint
	retention float64
}

// NewPriceHistory creates a history retaining the given window in seconds.
func NewPriceHistory(retentionSeconds float64) *PriceHistory {
	return &PriceHistory{retention: retentionSeconds}
}

// Append records a point and prunes entries older than the retention window
// relative to the newest entry.
func (h *PriceHistory) Append(timestamp, mid float64) {
	h.points = append(h.points, PricePoint{Timestamp: timestamp, Mid: mid})

	cutoff := h.points[len(h.points)-1].Timestamp - h.retention
	drop := 0
	for drop < len(h.points) && h.points[drop].Timestamp < cutoff {
		drop++
	}
	if drop > 0 {
		h.points = h.points[drop:]
	}
}

// Window returns the points whose timestamps fall within the given number of
// seconds before the newest entry.
func (h *PriceHistory) Window(seconds float64) []PricePoint {
	if len(h.points) == 0 {
		return nil
	}
	cutoff := h.points[len(h.points)-1].Timestamp - seconds
	out := make([]PricePoint, 0, len(h.points))
	for _, p := range h.points {
		if p.Timestamp >= cutoff {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of retained points.
func (h *PriceHistory) Len() int {
	return len(h.points)
}
