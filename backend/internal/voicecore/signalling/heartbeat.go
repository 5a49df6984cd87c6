package signalling

import (
	"math/rand"
	"time"
)

// Heartbeat schedules the jittered heartbeat ticks:
// a random initial delay in [0, interval), then a tick every interval.
// It also tracks consecutive missed HeartbeatAcks.
type Heartbeat struct {
	interval  time.Duration
	maxMissed int
	timer     *time.Timer
	missed    int
}

// DefaultMaxMissedAcks is the number of consecutive missed acks that
// terminates the socket when the caller doesn't override it via
// config.
const DefaultMaxMissedAcks = 2

// NewHeartbeat builds a Heartbeat armed with a random initial jitter
// in [0, interval), terminating after maxMissed consecutive unacked
// heartbeats.
func NewHeartbeat(interval time.Duration, maxMissed int) *Heartbeat {
	jitter := time.Duration(rand.Int63n(int64(interval)))
	return &Heartbeat{
		interval:  interval,
		maxMissed: maxMissed,
		timer:     time.NewTimer(jitter),
	}
}

// C is the channel to select on for the next heartbeat tick.
func (h *Heartbeat) C() <-chan time.Time {
	return h.timer.C
}

// Rearm resets the timer for the next regular-interval tick, called
// after each tick fires.
func (h *Heartbeat) Rearm() {
	h.timer.Reset(h.interval)
}

// Stop releases the timer's resources.
func (h *Heartbeat) Stop() {
	h.timer.Stop()
}

// Sent records that a heartbeat was sent awaiting an ack.
func (h *Heartbeat) Sent() {
	h.missed++
}

// Acked clears the missed-ack counter on receipt of a HeartbeatAck.
func (h *Heartbeat) Acked() {
	h.missed = 0
}

// Expired reports whether maxMissed consecutive heartbeats have gone
// unacknowledged.
func (h *Heartbeat) Expired() bool {
	return h.missed >= h.maxMissed
}
