// Package safety owns the per-cycle safety verdict. It runs first in
// every control cycle and can force everything else into an all-outputs-
// off state. Nothing here blocks and nothing here allocates.
package safety

import (
	"sync/atomic"

	"brewcode-go/internal/platform"
	"brewcode-go/types"
	"brewcode-go/x/timex"
)

const (
	// Absolute temperature ceilings. Anything valid above these is a
	// critical fault regardless of setpoints.
	maxBrewTempC  float32 = 115
	maxSteamTempC float32 = 145

	// Consecutive invalid readings before a sensor is declared failed.
	sensorFailThreshold = 10

	// Silence from the communication node before we flag it.
	commTimeoutMs uint32 = 10_000
)

// Supervisor computes SafetyStatus once per cycle. CRITICAL latches; the
// only way out is Reset with every flag clear.
type Supervisor struct {
	out platform.Outputs
	wdt platform.Watchdog

	lastHeartbeat atomic.Int64 // timex.Millis; written from the comms context

	envValid func() bool

	expectBrew  bool
	expectSteam bool
	brewFails   int
	steamFails  int

	watchdogTripped bool // previous boot ended in a watchdog reset
	latched         bool
	status          types.SafetyStatus
	safeEntered     bool
}

func New(out platform.Outputs, wdt platform.Watchdog, envValid func() bool) *Supervisor {
	return &Supervisor{out: out, wdt: wdt, envValid: envValid, expectBrew: true, expectSteam: true}
}

// ExpectSensors declares which boiler sensors the hardware variant
// fits. A reading that is absent by design is not a sensor failure;
// heat-exchanger builds have no brew boiler probe, single-boiler builds
// no steam probe.
func (s *Supervisor) ExpectSensors(brew, steam bool) {
	s.expectBrew = brew
	s.expectSteam = steam
}

// NoteWatchdogReset marks that the hardware reported a watchdog-caused
// reboot. Called once at boot, from the reset-cause register.
func (s *Supervisor) NoteWatchdogReset() { s.watchdogTripped = true }

// Heartbeat records traffic from the communication node. Safe to call
// from the comms context.
func (s *Supervisor) Heartbeat(now timex.Millis) { s.lastHeartbeat.Store(int64(now)) }

// Check evaluates the cycle's verdict. Must run before any actuation.
func (s *Supervisor) Check(now timex.Millis, sens types.SensorSnapshot) types.SafetyStatus {
	var flags types.SafetyFlag
	sev := types.SeverityOK

	raise := func(f types.SafetyFlag, at types.Severity) {
		flags |= f
		if at > sev {
			sev = at
		}
	}

	if sens.BrewTempValid && sens.BrewTempC > maxBrewTempC {
		raise(types.FlagOverTemp, types.SeverityCritical)
	}
	if sens.SteamTempValid && sens.SteamTempC > maxSteamTempC {
		raise(types.FlagOverTemp, types.SeverityCritical)
	}

	if sens.WaterLow {
		raise(types.FlagWaterLow, types.SeverityWarning)
	}

	s.brewFails = countFail(s.brewFails, sens.BrewTempValid || !s.expectBrew)
	s.steamFails = countFail(s.steamFails, sens.SteamTempValid || !s.expectSteam)
	if s.brewFails == sensorFailThreshold || s.steamFails == sensorFailThreshold {
		println("[safety] sensor failure threshold reached")
	}
	if s.brewFails >= sensorFailThreshold || s.steamFails >= sensorFailThreshold {
		raise(types.FlagSensorFailure, types.SeverityFault)
	}

	if hb := s.lastHeartbeat.Load(); hb != 0 {
		if timex.Since(now, timex.Millis(hb)) > commTimeoutMs {
			raise(types.FlagCommTimeout, types.SeverityFault)
		}
	}

	if s.watchdogTripped {
		raise(types.FlagWatchdog, types.SeverityFault)
	}

	// Setup mode: heating is gated elsewhere; the machine itself keeps
	// operating, so this never escalates past a warning.
	if s.envValid != nil && !s.envValid() {
		raise(types.FlagEnvConfigInvalid, types.SeverityWarning)
	}

	if sev == types.SeverityCritical {
		s.latched = true
	}
	if s.latched {
		sev = types.SeverityCritical
		s.EnterSafeState()
	} else {
		s.safeEntered = false
	}

	s.status = types.SafetyStatus{Severity: sev, Flags: flags}
	return s.status
}

// KickWatchdog feeds the hardware timer. Called exactly once per cycle,
// strictly after Check, so a stalled loop starves the watchdog instead
// of masking a fault.
func (s *Supervisor) KickWatchdog() { s.wdt.Kick() }

// EnterSafeState zeroes every output. Idempotent.
func (s *Supervisor) EnterSafeState() {
	if s.safeEntered {
		return
	}
	s.out.AllOff()
	s.safeEntered = true
	println("[safety] safe state: all outputs off")
}

// Reset is the sole path out of a latched critical and the only thing
// that clears the watchdog-reboot latch. It succeeds when every flag
// except the watchdog latch itself is clear, meaning the operator fixed
// the cause first. Must run on the control context.
func (s *Supervisor) Reset() bool {
	if s.status.Flags&^types.FlagWatchdog != 0 {
		return false
	}
	s.latched = false
	s.watchdogTripped = false
	s.status.Flags &^= types.FlagWatchdog
	if s.status.Flags == 0 {
		s.status.Severity = types.SeverityOK
	}
	return true
}

// Status returns the last computed verdict without re-evaluating.
func (s *Supervisor) Status() types.SafetyStatus { return s.status }

func countFail(n int, valid bool) int {
	if valid {
		return 0
	}
	if n < sensorFailThreshold {
		return n + 1
	}
	return n
}
