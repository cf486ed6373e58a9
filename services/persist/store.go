// Package persist owns the two flash records: durable configuration and
// brew statistics. RAM is authoritative; flash is a best-effort mirror.
// A save failure is reported and forgotten, never retried in a loop.
package persist

import (
	"sync"

	"brewcode-go/internal/platform"
	"brewcode-go/types"
	"brewcode-go/x/snap"
)

const (
	// ramHistory bounds the in-RAM brew ring; older shots fall off.
	ramHistory = 100

	// Statistics hit flash only every flushEvery brews. The config
	// record (which carries the cleaning counters) rides the same
	// cadence so a shot never costs more than one erase pair.
	flushEvery = 10
)

// Defaults applied when the config record is missing or corrupt. The
// zero electrical limits fail EnvLimits.Valid(), which is exactly what
// keeps a factory-fresh board in setup mode until commissioned.
func DefaultConfig() types.MachineConfig {
	return types.MachineConfig{
		Gains: [types.NumBoilers]types.PIDGains{
			types.BoilerBrew:  {Kp: 8, Ki: 0.25, Kd: 30},
			types.BoilerSteam: {Kp: 5, Ki: 0.1, Kd: 10},
		},
		Setpoints:      [types.NumBoilers]float32{93, 125},
		Strategy:       types.StrategyBrewOnly,
		PriorityBoiler: types.BoilerBrew,
		PreInfusion:    types.PreInfusion{Enabled: false, OnMs: 3000, PauseMs: 2000},
		Cleaning:       types.Cleaning{Threshold: 100},
	}
}

// Store loads both records at construction and serves them from RAM.
// Config reads on the control path go through a snapshot cell so the
// control core never takes the writer mutex.
type Store struct {
	flash  platform.Flash
	layout platform.Layout

	mu        sync.Mutex
	cfg       types.MachineConfig
	stats     types.BrewStats
	unflushed uint32

	cell snap.Cell[types.MachineConfig]
}

func NewStore(flash platform.Flash, layout platform.Layout) *Store {
	s := &Store{flash: flash, layout: layout}

	buf := make([]byte, configSize)
	if err := flash.ReadAt(buf, layout.ConfigOff); err == nil {
		if c, derr := decodeConfig(buf); derr == nil {
			s.cfg = c
		} else {
			s.cfg = DefaultConfig()
		}
	} else {
		s.cfg = DefaultConfig()
	}

	sbuf := make([]byte, statsSize)
	if err := flash.ReadAt(sbuf, layout.StatsOff); err == nil {
		if st, derr := decodeStats(sbuf); derr == nil {
			s.stats = st
		}
	}

	s.cell.Store(s.cfg)
	return s
}

// Config returns the latest published configuration. Lock-free; safe
// from the control core.
func (s *Store) Config() types.MachineConfig {
	c, ok := s.cell.Load()
	if !ok {
		return DefaultConfig()
	}
	return c
}

// SetupMode reports whether the electrical limits are still unset.
func (s *Store) SetupMode() bool { return !s.Config().Env.Valid() }

// Update applies a mutation, publishes it, and mirrors it to flash.
// The new configuration is live even when the flash write fails.
func (s *Store) Update(mutate func(*types.MachineConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.cfg)
	s.cell.Store(s.cfg)
	return s.writeRecord(s.layout.ConfigOff, encodeConfig(s.cfg))
}

// RecordBrew folds one finished shot into the statistics and bumps the
// cleaning counter. Flash is touched only on the flush cadence.
func (s *Store) RecordBrew(rec types.BrewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.stats
	st.TotalBrews++
	st.TotalMs += uint64(rec.DurationMs)
	if st.MinMs == 0 || rec.DurationMs < st.MinMs {
		st.MinMs = rec.DurationMs
	}
	if rec.DurationMs > st.MaxMs {
		st.MaxMs = rec.DurationMs
	}
	st.LastBrewMs = rec.StartMs
	st.History = append(st.History, rec)
	if len(st.History) > ramHistory {
		st.History = st.History[len(st.History)-ramHistory:]
	}

	s.cfg.Cleaning.BrewsSinceLast++
	s.cell.Store(s.cfg)

	s.unflushed++
	if s.unflushed < flushEvery {
		return nil
	}
	return s.flushLocked()
}

// Flush forces both records to flash, regardless of cadence. Called on
// orderly shutdown paths (mode change to idle, bootloader entry).
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	s.unflushed = 0
	if err := s.writeRecord(s.layout.StatsOff, encodeStats(s.stats)); err != nil {
		return err
	}
	return s.writeRecord(s.layout.ConfigOff, encodeConfig(s.cfg))
}

// Stats returns a copy; the history slice is cloned so callers cannot
// alias the live ring.
func (s *Store) Stats() types.BrewStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.History = append([]types.BrewRecord(nil), s.stats.History...)
	return out
}

// CleaningDue reports whether the reminder threshold has been crossed.
func (s *Store) CleaningDue() bool {
	c := s.Config().Cleaning
	return c.Threshold > 0 && c.BrewsSinceLast >= c.Threshold
}

// CleaningDone records a completed cleaning cycle.
func (s *Store) CleaningDone() error {
	return s.Update(func(c *types.MachineConfig) {
		c.Cleaning.TotalCycles++
		c.Cleaning.BrewsSinceLast = 0
	})
}

// CleaningReset zeroes the since-last counter without crediting a cycle.
func (s *Store) CleaningReset() error {
	return s.Update(func(c *types.MachineConfig) { c.Cleaning.BrewsSinceLast = 0 })
}

func (s *Store) SetCleaningThreshold(n uint32) error {
	return s.Update(func(c *types.MachineConfig) { c.Cleaning.Threshold = n })
}

// writeRecord erases the record's block and programs the encoded bytes
// page by page. Record sizes here are far below one erase block.
func (s *Store) writeRecord(off uint32, p []byte) error {
	if err := s.flash.EraseBlock(off); err != nil {
		return err
	}
	page := s.flash.Geometry().PageSize
	for n := uint32(0); n < uint32(len(p)); n += page {
		end := n + page
		if end > uint32(len(p)) {
			end = uint32(len(p))
		}
		if err := s.flash.ProgramPage(off+n, p[n:end]); err != nil {
			return err
		}
	}
	return nil
}
