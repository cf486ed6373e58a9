package control

import (
	"brewcode-go/types"
	"brewcode-go/x/mathx"
)

const (
	// Hard duty ceiling after arbitration; conducted-emissions margin.
	maxDutyPct float32 = 95

	// Sequential: steam may heat once brew has reached this fraction of
	// its setpoint.
	sequentialThreshold float32 = 0.80
)

// heaterCurrent estimates instantaneous draw of one heater at a duty.
func heaterCurrent(dutyPct, watts, voltage float32) float32 {
	if voltage <= 0 {
		return 0
	}
	return watts / voltage * dutyPct / 100
}

// Arbitrate resolves two heater demands against the current budget.
// brewAtThreshold reports whether the brew boiler has reached the
// sequential enable fraction of its setpoint. Inputs and outputs are
// duty percent; outputs are additionally clamped to the 95 % ceiling.
func Arbitrate(
	s types.HeatingStrategy,
	brewDemand, steamDemand float32,
	brewAtThreshold bool,
	budgetA, brewWatts, steamWatts, voltage float32,
	priority types.BoilerID,
) (brewDuty, steamDuty float32) {
	brewDuty = mathx.Clamp(brewDemand, 0, 100)
	steamDuty = mathx.Clamp(steamDemand, 0, 100)

	switch s {
	case types.StrategyBrewOnly:
		steamDuty = 0

	case types.StrategySequential:
		if !brewAtThreshold {
			steamDuty = 0
		}

	case types.StrategyParallel:
		ib := heaterCurrent(brewDuty, brewWatts, voltage)
		is := heaterCurrent(steamDuty, steamWatts, voltage)
		if sum := ib + is; sum > budgetA && sum > 0 {
			scale := budgetA / sum
			brewDuty *= scale
			steamDuty *= scale
		}

	case types.StrategySmartStagger:
		type boiler struct {
			duty  *float32
			watts float32
		}
		pri := boiler{&brewDuty, brewWatts}
		sec := boiler{&steamDuty, steamWatts}
		if priority == types.BoilerSteam {
			pri, sec = sec, pri
		}
		// Priority boiler first, clamped to the whole budget; the
		// secondary gets whatever current remains.
		*pri.duty = mathx.Clamp(*pri.duty, 0, dutyAtCurrent(budgetA, pri.watts, voltage))
		rem := budgetA - heaterCurrent(*pri.duty, pri.watts, voltage)
		if rem < 0 {
			rem = 0
		}
		*sec.duty = mathx.Clamp(*sec.duty, 0, dutyAtCurrent(rem, sec.watts, voltage))
	}

	brewDuty = mathx.Clamp(brewDuty, 0, maxDutyPct)
	steamDuty = mathx.Clamp(steamDuty, 0, maxDutyPct)
	return brewDuty, steamDuty
}

// dutyAtCurrent inverts heaterCurrent: the duty that draws amps.
func dutyAtCurrent(amps, watts, voltage float32) float32 {
	if watts <= 0 || voltage <= 0 {
		return 0
	}
	return mathx.Clamp(amps*voltage/watts*100, 0, 100)
}

// IsStrategyAllowed validates a strategy against the machine variant and
// the worst-case current its arbitration can request. BrewOnly is the
// no-op default and always passes.
func IsStrategyAllowed(
	s types.HeatingStrategy,
	mt types.MachineType,
	budgetA, brewWatts, steamWatts, voltage float32,
) bool {
	if s == types.StrategyBrewOnly {
		return true
	}
	if mt != types.MachineDualBoiler {
		return false
	}
	if voltage <= 0 || budgetA <= 0 {
		return false
	}
	ib := brewWatts / voltage
	is := steamWatts / voltage

	switch s {
	case types.StrategyParallel:
		// Both heaters may be commanded together; validation is
		// conservative even though arbitration scales at runtime.
		return ib+is <= budgetA
	case types.StrategySequential, types.StrategySmartStagger:
		// At most one heater at high duty at a time.
		larger := ib
		if is > larger {
			larger = is
		}
		return larger <= budgetA
	}
	return false
}

// NormalizeStrategy applies the boot-time fallback: a persisted strategy
// that is no longer allowed degrades Sequential-ward, then to BrewOnly.
func NormalizeStrategy(
	s types.HeatingStrategy,
	mt types.MachineType,
	budgetA, brewWatts, steamWatts, voltage float32,
) types.HeatingStrategy {
	if IsStrategyAllowed(s, mt, budgetA, brewWatts, steamWatts, voltage) {
		return s
	}
	if IsStrategyAllowed(types.StrategySequential, mt, budgetA, brewWatts, steamWatts, voltage) {
		return types.StrategySequential
	}
	return types.StrategyBrewOnly
}
