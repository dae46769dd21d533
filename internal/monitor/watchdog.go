package monitor

import "time"

// Watchdog tracks the idle deadline of the PDU in progress on the frame
// timestamp clock.
type Watchdog struct {
	Idle     time.Duration
	deadline time.Time
	armed    bool
}

// Arm sets the deadline to t plus the idle period.
func (w *Watchdog) Arm(t time.Time) {
	w.deadline = t.Add(w.Idle)
	w.armed = true
}

func (w *Watchdog) Disarm() { w.armed = false }

// Expired reports whether t is at or past the deadline of an armed watchdog.
func (w *Watchdog) Expired(t time.Time) bool {
	return w.armed && !t.Before(w.deadline)
}
