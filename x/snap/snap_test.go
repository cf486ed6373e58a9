package snap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	A, B uint64
}

func TestEmptyCell(t *testing.T) {
	var c Cell[pair]
	_, ok := c.Load()
	assert.False(t, ok)
	assert.Equal(t, uint32(0), c.Generation())
}

func TestStoreLoad(t *testing.T) {
	var c Cell[pair]
	c.Store(pair{1, 1})
	got, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, pair{1, 1}, got)

	c.Store(pair{2, 2})
	got, _ = c.Load()
	assert.Equal(t, pair{2, 2}, got)
	assert.Equal(t, uint32(2), c.Generation())
}

// Writer publishes pairs whose halves must always match; any tear shows
// up as A != B.
func TestNoTornReads(t *testing.T) {
	var c Cell[pair]
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := uint64(1); i <= 50_000; i++ {
			c.Store(pair{i, i})
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, ok := c.Load()
		if ok && v.A != v.B {
			t.Fatalf("torn read: %+v", v)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
