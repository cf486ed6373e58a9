package types

// ---- Machine state ----

// MachineState is the top-level state owned by the state machine.
// Transitions are evaluated once per control cycle; nobody else writes it.
type MachineState uint8

const (
	StateInit MachineState = iota
	StateIdle
	StateHeating
	StateReady
	StateBrewing
	StateFault
	StateSafe
)

func (s MachineState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StateHeating:
		return "heating"
	case StateReady:
		return "ready"
	case StateBrewing:
		return "brewing"
	case StateFault:
		return "fault"
	case StateSafe:
		return "safe"
	default:
		return "unknown"
	}
}

// MachineMode selects which boiler the state machine and control loop
// care about. Set by command, independently of MachineState.
type MachineMode uint8

const (
	ModeIdle MachineMode = iota
	ModeBrew
	ModeSteam
)

func (m MachineMode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeBrew:
		return "brew"
	case ModeSteam:
		return "steam"
	default:
		return "unknown"
	}
}

// ---- Brew phase (nested, valid only while StateBrewing) ----

type BrewPhase uint8

const (
	PhaseNone BrewPhase = iota
	PhasePreInfusion
	PhaseBrewing
	PhasePostBrew
)

func (p BrewPhase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhasePreInfusion:
		return "preinfusion"
	case PhaseBrewing:
		return "brewing"
	case PhasePostBrew:
		return "postbrew"
	default:
		return "unknown"
	}
}

// StopReason records which signal ended a brew. When several signals
// arrive in the same cycle the automatic weight stop wins over the lever.
type StopReason uint8

const (
	StopNone StopReason = iota
	StopWeight
	StopLever
	StopCommand
)
