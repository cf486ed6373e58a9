package types

// ---- Brew statistics ----

// BrewRecord is one finished shot. Timestamps are Unix ms; duration is
// computed exactly once when the phase machine enters PostBrew.
type BrewRecord struct {
	StartMs    int64
	DurationMs uint32
	Reason     StopReason
}

// BrewStats is the RAM view of the statistics flash record. The RAM ring
// holds more history than the flash copy retains.
type BrewStats struct {
	TotalBrews uint32
	TotalMs    uint64
	MinMs      uint32
	MaxMs      uint32
	LastBrewMs int64
	History    []BrewRecord // newest last, bounded
}

// AvgMs derives the mean; stored separately on flash for boot-time readers.
func (s BrewStats) AvgMs() uint32 {
	if s.TotalBrews == 0 {
		return 0
	}
	return uint32(s.TotalMs / uint64(s.TotalBrews))
}
