// Package machine owns the top-level machine state and the nested
// brew-phase machine. It decides pump and solenoid; heaters belong to
// the control loop. Update runs once per control cycle.
package machine

import (
	"brewcode-go/internal/platform"
	"brewcode-go/types"
	"brewcode-go/x/timex"
)

const (
	// Temperature bands around the mode-relevant setpoint.
	readyTolC    float32 = 1.0 // within this: ready
	needHeatTolC float32 = 2.0 // below setpoint by more: heat first
	reheatDropC  float32 = 5.0 // Ready falls back to Heating past this

	leverDebounceMs uint32 = 50

	// Dispensing valve stays open this long after a stop so line
	// pressure bleeds through the portafilter instead of spraying.
	postBrewDrainMs uint32 = 2000

	pumpFullPct uint8 = 100
)

// ConfigSource is the slice of configuration the state machine needs.
type ConfigSource interface {
	Config() types.MachineConfig
}

// Machine evaluates state transitions once per cycle from sensors, mode,
// safety verdict and brew signals.
type Machine struct {
	mt      types.MachineType
	profile types.MachineProfile
	cfg     ConfigSource
	out     platform.Outputs

	state types.MachineState
	mode  types.MachineMode
	phase types.BrewPhase

	lever     *Debouncer
	prevLever bool

	startReq  bool
	stopReq   bool
	weightReq bool

	startedByLever bool

	brewStartMs timex.Millis
	legMarkMs   timex.Millis
	drainUntil  timex.Millis
	stopReason  types.StopReason
	recorded    bool

	pumpPct  uint8
	solenoid bool

	// OnBrewFinished fires exactly once per brew, on entry to PostBrew.
	OnBrewFinished func(types.BrewRecord)
}

func New(profile types.MachineProfile, cfg ConfigSource, out platform.Outputs) *Machine {
	mt, _ := profile.MachineTypeOf()
	return &Machine{
		mt:      mt,
		profile: profile,
		cfg:     cfg,
		out:     out,
		state:   types.StateInit,
		lever:   NewDebouncer(leverDebounceMs),
	}
}

func (m *Machine) State() types.MachineState { return m.state }
func (m *Machine) Mode() types.MachineMode   { return m.mode }
func (m *Machine) Phase() types.BrewPhase    { return m.phase }

// BrewStartMs is nonzero only while a brew is dispensing.
func (m *Machine) BrewStartMs() timex.Millis {
	if m.state == types.StateBrewing {
		return m.brewStartMs
	}
	return 0
}

func (m *Machine) PumpPct() uint8    { return m.pumpPct }
func (m *Machine) SolenoidOpen() bool { return m.solenoid }

// SetMode switches the target boiler. Rejected while Brewing so the
// extraction cannot change boiler targets mid-shot.
func (m *Machine) SetMode(mode types.MachineMode) bool {
	if m.state == types.StateBrewing {
		return false
	}
	m.mode = mode
	return true
}

// RequestBrewStart queues a start command for the next cycle.
func (m *Machine) RequestBrewStart() { m.startReq = true }

// RequestBrewStop queues a stop command for the next cycle.
func (m *Machine) RequestBrewStop() { m.stopReq = true }

// WeightStop is the external scale collaborator's automatic stop.
func (m *Machine) WeightStop() { m.weightReq = true }

// relevantTemp picks the reading and setpoint the current mode cares
// about. Heat-exchanger variants have no active brew boiler; the
// passive group head reading substitutes.
func (m *Machine) relevantTemp(sens types.SensorSnapshot) (temp, setpoint float32, valid bool) {
	mc := m.cfg.Config()
	switch m.mode {
	case types.ModeSteam:
		setpoint = mc.Setpoints[types.BoilerSteam]
		if m.mt == types.MachineSingleBoiler {
			return sens.BrewTempC, setpoint, sens.BrewTempValid
		}
		return sens.SteamTempC, setpoint, sens.SteamTempValid
	default: // ModeBrew
		setpoint = mc.Setpoints[types.BoilerBrew]
		if m.mt == types.MachineHeatExchanger {
			return sens.GroupTempC + m.profile.GroupOffset, setpoint, sens.GroupTempValid
		}
		return sens.BrewTempC, setpoint, sens.BrewTempValid
	}
}

// Update evaluates one cycle. The safety supervisor has already run.
func (m *Machine) Update(now timex.Millis, sens types.SensorSnapshot, safe types.SafetyStatus) {
	lever := m.lever.Update(now, sens.BrewSwitch)
	leverRose := lever && !m.prevLever
	m.prevLever = lever

	if !safe.Clear() {
		target := types.StateFault
		if safe.Severity == types.SeverityCritical {
			target = types.StateSafe
		}
		if m.state != target {
			m.abortBrew()
			m.state = target
		}
		m.consumeRequests()
		m.applyOutputs(sens)
		return
	}

	switch m.state {
	case types.StateInit:
		m.state = types.StateIdle

	case types.StateFault, types.StateSafe:
		// Verdict is clear again (Safe implies the latch was reset).
		m.state = types.StateIdle

	case types.StateIdle:
		if m.mode != types.ModeIdle {
			if temp, sp, ok := m.relevantTemp(sens); ok && temp >= sp-needHeatTolC {
				m.state = types.StateReady
			} else {
				m.state = types.StateHeating
			}
		}

	case types.StateHeating:
		if m.mode == types.ModeIdle {
			m.state = types.StateIdle
		} else if temp, sp, ok := m.relevantTemp(sens); ok && temp >= sp-readyTolC {
			m.state = types.StateReady
		}

	case types.StateReady:
		switch {
		case m.mode == types.ModeIdle:
			m.state = types.StateIdle
		case m.stopOverridePending():
			// An external stop outranks any start arriving this cycle.
		default:
			if temp, sp, ok := m.relevantTemp(sens); ok && temp < sp-reheatDropC {
				m.state = types.StateHeating
				break
			}
			if m.mode == types.ModeBrew && !sens.WaterLow {
				if m.startReq || leverRose {
					m.startBrew(now, leverRose && !m.startReq)
				}
			}
		}

	case types.StateBrewing:
		// Weight stop is checked before the lever: when both signals
		// land in one cycle the recorded reason is the scale's.
		switch {
		case m.weightReq:
			m.stopBrew(now, types.StopWeight)
		case m.stopReq:
			m.stopBrew(now, types.StopCommand)
		case m.startedByLever && !lever:
			m.stopBrew(now, types.StopLever)
		default:
			m.tickBrewPhase(now)
		}
	}

	m.consumeRequests()
	m.tickDrain(now)
	m.applyOutputs(sens)
}

func (m *Machine) stopOverridePending() bool { return m.stopReq || m.weightReq }

func (m *Machine) consumeRequests() {
	m.startReq = false
	m.stopReq = false
	m.weightReq = false
}

func (m *Machine) startBrew(now timex.Millis, byLever bool) {
	m.state = types.StateBrewing
	m.brewStartMs = now
	m.legMarkMs = now
	m.recorded = false
	m.stopReason = types.StopNone
	m.startedByLever = byLever

	pi := m.cfg.Config().PreInfusion
	if pi.Enabled {
		m.phase = types.PhasePreInfusion
		m.pumpPct = pumpFullPct
	} else {
		m.phase = types.PhaseBrewing
		m.pumpPct = pumpFullPct
	}
	m.solenoid = true
}

// tickBrewPhase advances pre-infusion legs and full-pressure brewing.
func (m *Machine) tickBrewPhase(now timex.Millis) {
	if m.phase != types.PhasePreInfusion {
		return
	}
	pi := m.cfg.Config().PreInfusion
	elapsed := timex.Since(now, m.legMarkMs)
	if m.pumpPct > 0 {
		if elapsed >= pi.OnMs {
			// Wetting done; soak with the valve still open.
			m.pumpPct = 0
			m.legMarkMs = now
		}
	} else if elapsed >= pi.PauseMs {
		m.phase = types.PhaseBrewing
		m.pumpPct = pumpFullPct
	}
}

func (m *Machine) stopBrew(now timex.Millis, reason types.StopReason) {
	duration := timex.Since(now, m.brewStartMs)
	m.stopReason = reason
	m.phase = types.PhasePostBrew
	m.pumpPct = 0
	m.drainUntil = now + timex.Millis(postBrewDrainMs)
	m.state = types.StateReady

	if !m.recorded {
		m.recorded = true
		if m.OnBrewFinished != nil {
			m.OnBrewFinished(types.BrewRecord{
				StartMs:    int64(m.brewStartMs),
				DurationMs: duration,
				Reason:     reason,
			})
		}
	}
}

// tickDrain closes the valve once the post-brew delay elapses. The
// phase outlives Brewing by design: the machine is already Ready while
// the valve bleeds down.
func (m *Machine) tickDrain(now timex.Millis) {
	if m.phase == types.PhasePostBrew && now >= m.drainUntil {
		m.phase = types.PhaseNone
		m.solenoid = false
	}
}

// abortBrew drops an in-flight brew without recording it; a shot cut by
// a fault is not statistics.
func (m *Machine) abortBrew() {
	if m.state != types.StateBrewing && m.phase == types.PhaseNone {
		return
	}
	m.phase = types.PhaseNone
	m.pumpPct = 0
	m.solenoid = false
	m.recorded = true
}

func (m *Machine) applyOutputs(sens types.SensorSnapshot) {
	pump := m.pumpPct
	if sens.WaterLow {
		pump = 0 // never run the pump dry
	}
	m.out.SetPump(pump)
	m.out.SetSolenoid(m.solenoid)
}
