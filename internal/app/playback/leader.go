package playback

import "time"

// DefaultPublishInterval is how often the leader republishes its position.
const DefaultPublishInterval = 200 * time.Millisecond

// ClockPublisher samples the local position on every tick and decides whether
// it is published upstream. Every member ticks; only the leader publishes.
type ClockPublisher struct {
	interval  time.Duration
	published int
	skipped   int
}

// NewClockPublisher creates a publisher. A non-positive interval uses DefaultPublishInterval.
func NewClockPublisher(interval time.Duration) *ClockPublisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &ClockPublisher{interval: interval}
}

// Interval returns the tick interval.
func (p *ClockPublisher) Interval() time.Duration {
	return p.interval
}

// Tick returns the position to publish and true when the local member leads.
func (p *ClockPublisher) Tick(isLeader bool, position float64) (float64, bool) {
	if !isLeader {
		p.skipped++
		return 0, false
	}
	if position < 0 {
		position = 0
	}
	p.published++
	return position, true
}

// Published returns how many ticks produced an update.
func (p *ClockPublisher) Published() int {
	return p.published
}

// Skipped returns how many ticks were no-ops because the member did not lead.
func (p *ClockPublisher) Skipped() int {
	return p.skipped
}
