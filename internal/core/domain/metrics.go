package domain

import "time"

// DeliveryMetrics summarizes one observation window of a session's send path.
type DeliveryMetrics struct {
	Window       time.Duration
	Ticks        int
	Sent         int
	SkippedBusy  int
	MeanSendTime time.Duration
	Timestamp    time.Time
}

// BusyRatio is the share of ticks dropped because a send was still in flight.
func (m DeliveryMetrics) BusyRatio() float64 {
	if m.Ticks == 0 {
		return 0
	}
	return float64(m.SkippedBusy) / float64(m.Ticks)
}
