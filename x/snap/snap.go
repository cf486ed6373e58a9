// Package snap provides a double-buffered, generation-counted cell for
// handing one structure from a single writer to any number of readers
// across execution contexts. A reader may retry once or twice under
// contention but never observes a torn value; the writer never blocks
// and never allocates. Staleness by one write is the documented and
// accepted contract.
package snap

import "sync/atomic"

// Cell is a single-writer multi-reader snapshot holder.
// The zero value is empty; Load reports ok=false until the first Store.
type Cell[T any] struct {
	gen  atomic.Uint32 // even: slot gen/2&1 is stable; odd: write in progress
	slot [2]T
}

// Store publishes v. Must be called from exactly one goroutine.
func (c *Cell[T]) Store(v T) {
	g := c.gen.Load()
	// Mark write-in-progress, fill the inactive slot, then flip.
	c.gen.Store(g + 1)
	c.slot[((g/2)+1)&1] = v
	c.gen.Store(g + 2)
}

// Load returns the latest published value. ok is false before the first
// Store. Safe from any goroutine.
func (c *Cell[T]) Load() (v T, ok bool) {
	for {
		g1 := c.gen.Load()
		if g1 == 0 {
			return v, false
		}
		if g1&1 != 0 {
			continue // writer mid-flight; the window is a few stores
		}
		v = c.slot[(g1/2)&1]
		if c.gen.Load() == g1 {
			return v, true
		}
	}
}

// Generation returns the publish count, for change detection.
func (c *Cell[T]) Generation() uint32 { return c.gen.Load() / 2 }
