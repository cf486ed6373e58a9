package types

// ---- Machine variants ----

// MachineType is the closed set of hardware variants. Dispatch on it is a
// plain switch; the set is fixed at build time.
type MachineType uint8

const (
	MachineDualBoiler MachineType = iota
	MachineSingleBoiler
	MachineHeatExchanger
)

func (t MachineType) String() string {
	switch t {
	case MachineDualBoiler:
		return "dual_boiler"
	case MachineSingleBoiler:
		return "single_boiler"
	case MachineHeatExchanger:
		return "heat_exchanger"
	}
	return "unknown"
}

// HXControlMode selects how a heat-exchanger variant regulates its single
// boiler: against steam temperature, against the pressure transducer, or
// not at all (an external mechanical pressurestat does the switching).
type HXControlMode uint8

const (
	HXSteamTemp HXControlMode = iota
	HXPressure
	HXPressurestatMonitor
)

// ---- Boilers ----

// BoilerID indexes the per-boiler arrays. Brew is always 0; variants
// without a steam boiler simply never address 1.
type BoilerID uint8

const (
	BoilerBrew  BoilerID = 0
	BoilerSteam BoilerID = 1

	NumBoilers = 2
)

// PIDGains as stored in config and carried on the link (milli-units there).
type PIDGains struct {
	Kp float32
	Ki float32
	Kd float32
}

// ---- Heating strategies ----

// HeatingStrategy arbitrates two heater demands under the electrical
// current budget. Only the dual-boiler variant has a choice; the others
// are pinned to BrewOnly.
type HeatingStrategy uint8

const (
	StrategyBrewOnly HeatingStrategy = iota
	StrategySequential
	StrategyParallel
	StrategySmartStagger
)

func (s HeatingStrategy) String() string {
	switch s {
	case StrategyBrewOnly:
		return "brew_only"
	case StrategySequential:
		return "sequential"
	case StrategyParallel:
		return "parallel"
	case StrategySmartStagger:
		return "smart_stagger"
	}
	return "unknown"
}
