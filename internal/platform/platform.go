// Package platform is the hardware escape hatch. Everything above it is
// plain checked Go; everything below it is build-tagged per target, with
// host fakes so the whole core runs in tests and in the simulator.
package platform

import (
	"brewcode-go/types"
)

// Outputs drives the actuators. Duty percentages are 0..100; callers have
// already clamped. Implementations must be cheap: these run every cycle.
type Outputs interface {
	SetHeaterDuty(b types.BoilerID, pct uint8)
	SetPump(pct uint8)
	SetSolenoid(open bool)
	// AllOff unconditionally zeroes every heater, pump and solenoid
	// output. Idempotent; the safety supervisor leans on that.
	AllOff()
}

// Watchdog is the hardware watchdog timer.
type Watchdog interface {
	// Kick feeds the watchdog through the normal driver path. Called
	// exactly once per control cycle, after the safety check.
	Kick()
	// RawFeed feeds the watchdog by direct register write. The only
	// caller is the self-reprogram path, where driver code may live in
	// flash that is currently unreadable.
	RawFeed()
}

// Sys owns chip-level control.
type Sys interface {
	// Reset triggers a hardware reset via the reset-control register.
	// On real hardware it does not return.
	Reset()
}

// Sensors yields the latest filtered reading set. Producing it is the
// sensor collaborator's job; the core only consumes.
type Sensors interface {
	Latest() types.SensorSnapshot
}

// Link is the point-to-point connection to the communication node.
// Read blocks for at most timeoutMs and returns errcode.Timeout when
// nothing arrived.
type Link interface {
	Read(p []byte, timeoutMs uint32) (int, error)
	Write(p []byte) (int, error)
}

// SectorCopy is one step of an installation plan: Len bytes from the
// staging region into the resident region, both sector-aligned.
type SectorCopy struct {
	From uint32 // staging offset
	To   uint32 // resident offset
	Len  uint32
}

// SelfProgrammer is the sealed bare-metal surface of the bootloader's
// installation phase. On hardware the implementation runs entirely from
// RAM, suspends execute-in-place, feeds the watchdog by register write,
// and resets the chip on completion without returning. The host
// implementation copies bytes in memory and records the reset.
type SelfProgrammer interface {
	CriticalSelfReprogram(plan []SectorCopy) error
}

// Platform bundles one target's implementations.
type Platform struct {
	Out     Outputs
	Flash   Flash
	Layout  Layout
	WDT     Watchdog
	Sys     Sys
	Sensors Sensors
	Link    Link
	Prog    SelfProgrammer

	// ResetByWatchdog reports that the previous boot ended in a watchdog
	// reset, read from the reset-cause register at startup. The safety
	// supervisor latches it as a fault until an operator reset.
	ResetByWatchdog bool
}
