package timex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSinceSaturatesAtZero(t *testing.T) {
	assert.Equal(t, uint32(0), Since(100, 200))
	assert.Equal(t, uint32(100), Since(200, 100))
	assert.Equal(t, uint32(0), Since(5, 5))
}

func TestSinceCapsAtMaxUint32(t *testing.T) {
	then := Millis(0)
	now := Millis(int64(^uint32(0)) + 10_000)
	assert.Equal(t, ^uint32(0), Since(now, then))
}

func TestElapsed32Wrap(t *testing.T) {
	// Counter wrapped between the two reads.
	since := uint32(0xFFFF_FFF0)
	now := uint32(0x10)
	assert.Equal(t, uint32(0x20), Elapsed32(now, since))
}

func TestManualClock(t *testing.T) {
	c := NewManual(1000)
	assert.Equal(t, Millis(1000), c.Now())
	c.Advance(250)
	assert.Equal(t, Millis(1250), c.Now())
	c.Set(50)
	assert.Equal(t, Millis(50), c.Now())
}
