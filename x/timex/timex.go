package timex

import "time"

// Millis is a monotonic millisecond instant. All core timers compare
// instants through Since/Elapsed rather than raw subtraction so a
// wrapped 32-bit hardware counter upstream cannot produce a negative
// interval downstream.
type Millis int64

// NowMs returns Unix milliseconds as Millis.
func NowMs() Millis { return Millis(time.Now().UnixMilli()) }

// Since returns now-then, saturated at zero. A stale or wrapped 'then'
// never yields a negative elapsed time.
func Since(now, then Millis) uint32 {
	d := int64(now) - int64(then)
	if d < 0 {
		return 0
	}
	if d > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(d)
}

// Elapsed32 computes elapsed ticks between two free-running 32-bit
// counter reads. Unsigned subtraction is wrap-correct by construction.
func Elapsed32(now, since uint32) uint32 { return now - since }

// -----------------------------------------------------------------------------
// Clock
// -----------------------------------------------------------------------------

// Clock abstracts "now" so timer behaviour is testable without sleeping.
type Clock interface {
	Now() Millis
}

// Wall is the real clock.
type Wall struct{}

func (Wall) Now() Millis { return NowMs() }

// Manual is a hand-cranked clock for tests.
type Manual struct {
	ms Millis
}

func NewManual(start Millis) *Manual { return &Manual{ms: start} }

func (m *Manual) Now() Millis { return m.ms }

func (m *Manual) Advance(d uint32) { m.ms += Millis(d) }

func (m *Manual) Set(t Millis) { m.ms = t }
