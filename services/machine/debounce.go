package machine

import "brewcode-go/x/timex"

// Debouncer trusts a level only after it has been stable for stableMs.
// The brew lever is a mechanical microswitch; 50 ms covers its bounce.
type Debouncer struct {
	stableMs uint32

	level     bool
	candidate bool
	markMs    timex.Millis
	primed    bool
}

func NewDebouncer(stableMs uint32) *Debouncer {
	return &Debouncer{stableMs: stableMs}
}

// Update feeds a raw sample and returns the debounced level.
func (d *Debouncer) Update(now timex.Millis, raw bool) bool {
	if !d.primed {
		d.primed = true
		d.level = raw
		d.candidate = raw
		d.markMs = now
		return d.level
	}
	if raw != d.candidate {
		d.candidate = raw
		d.markMs = now
		return d.level
	}
	if raw != d.level && timex.Since(now, d.markMs) >= d.stableMs {
		d.level = raw
	}
	return d.level
}

// Level returns the current debounced level without a new sample.
func (d *Debouncer) Level() bool { return d.level }
