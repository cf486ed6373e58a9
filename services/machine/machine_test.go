package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewcode-go/internal/platform"
	"brewcode-go/types"
	"brewcode-go/x/timex"
)

type fixedCfg struct{ c types.MachineConfig }

func (f *fixedCfg) Config() types.MachineConfig { return f.c }

type rig struct {
	m     *Machine
	out   *platform.RecordedOutputs
	cfg   *fixedCfg
	clock *timex.Manual
	sens  types.SensorSnapshot
	safe  types.SafetyStatus
	recs  []types.BrewRecord
}

func newRig(profileType string) *rig {
	r := &rig{
		out:   &platform.RecordedOutputs{},
		clock: timex.NewManual(10_000),
		cfg: &fixedCfg{c: types.MachineConfig{
			Env:       types.EnvLimits{NominalVoltage: 230, MaxCurrentDraw: 16},
			Setpoints: [types.NumBoilers]float32{93, 125},
			PreInfusion: types.PreInfusion{Enabled: false, OnMs: 3000, PauseMs: 2000},
		}},
		sens: types.SensorSnapshot{
			BrewTempC: 25, SteamTempC: 25, GroupTempC: 25,
			BrewTempValid: true, SteamTempValid: true, GroupTempValid: true,
			WaterLevelPct: 80,
		},
		safe: types.SafetyStatus{Severity: types.SeverityOK},
	}
	r.m = New(types.MachineProfile{Type: profileType}, r.cfg, r.out)
	r.m.OnBrewFinished = func(rec types.BrewRecord) { r.recs = append(r.recs, rec) }
	return r
}

// step advances the clock and runs one cycle.
func (r *rig) step(ms uint32) {
	r.clock.Advance(ms)
	r.m.Update(r.clock.Now(), r.sens, r.safe)
}

// run cycles at 100 ms until the duration elapses.
func (r *rig) run(totalMs uint32) {
	for t := uint32(0); t < totalMs; t += 100 {
		r.step(100)
	}
}

// pressLever holds the lever and cycles past the debounce window.
func (r *rig) pressLever() {
	r.sens.BrewSwitch = true
	r.step(10)
	r.step(60) // stable past 50 ms
}

func (r *rig) releaseLever() {
	r.sens.BrewSwitch = false
	r.step(10)
	r.step(60)
}

func TestInitGoesIdleOnce(t *testing.T) {
	r := newRig("dual_boiler")
	r.step(100)
	assert.Equal(t, types.StateIdle, r.m.State())
}

func TestIdleStaysIdleInIdleMode(t *testing.T) {
	r := newRig("dual_boiler")
	r.run(1000)
	assert.Equal(t, types.StateIdle, r.m.State())
}

func TestColdStartHeatsToReady(t *testing.T) {
	r := newRig("dual_boiler")
	r.step(100)
	require.True(t, r.m.SetMode(types.ModeBrew))
	r.step(100)
	assert.Equal(t, types.StateHeating, r.m.State())

	// 92.0 °C is inside the ready tolerance of a 93.0 setpoint.
	r.sens.BrewTempC = 92.0
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
}

func TestIdleWithWarmBoilerSkipsHeating(t *testing.T) {
	r := newRig("dual_boiler")
	r.step(100)
	r.sens.BrewTempC = 91.5
	r.m.SetMode(types.ModeBrew)
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
}

func TestReadyTolerantOfPIDRipple(t *testing.T) {
	r := newRig("dual_boiler")
	r.step(100)
	r.sens.BrewTempC = 93
	r.m.SetMode(types.ModeBrew)
	r.step(100)
	require.Equal(t, types.StateReady, r.m.State())

	// Small ripple stays Ready; a real droop re-heats.
	r.sens.BrewTempC = 89.5
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
	r.sens.BrewTempC = 87.5
	r.step(100)
	assert.Equal(t, types.StateHeating, r.m.State())
}

func TestHeatingBackToIdleOnModeIdle(t *testing.T) {
	r := newRig("dual_boiler")
	r.step(100)
	r.m.SetMode(types.ModeBrew)
	r.step(100)
	require.Equal(t, types.StateHeating, r.m.State())
	r.m.SetMode(types.ModeIdle)
	r.step(100)
	assert.Equal(t, types.StateIdle, r.m.State())
}

func (r *rig) toReady(t *testing.T) {
	t.Helper()
	r.step(100)
	require.True(t, r.m.SetMode(types.ModeBrew))
	r.sens.BrewTempC = 93
	r.step(100)
	require.Equal(t, types.StateReady, r.m.State())
}

func TestEndToEndLeverBrew(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)

	r.pressLever()
	require.Equal(t, types.StateBrewing, r.m.State())
	assert.Equal(t, types.PhaseBrewing, r.m.Phase())
	_, pump, sol := r.out.State()
	assert.Equal(t, uint8(100), pump)
	assert.True(t, sol)
	assert.NotZero(t, r.m.BrewStartMs())

	start := r.m.BrewStartMs()
	r.run(20_000)
	r.releaseLever()

	assert.Equal(t, types.StateReady, r.m.State())
	assert.Equal(t, types.PhasePostBrew, r.m.Phase())
	_, pump, sol = r.out.State()
	assert.Zero(t, pump)
	assert.True(t, sol, "valve drains after stop")

	// Exactly one record, duration about the 20 s hold.
	require.Len(t, r.recs, 1)
	assert.Equal(t, int64(start), r.recs[0].StartMs)
	assert.InDelta(t, 20_000, int(r.recs[0].DurationMs), 200)
	assert.Equal(t, types.StopLever, r.recs[0].Reason)

	// Valve closes only after the 2000 ms drain.
	r.run(1800)
	_, _, sol = r.out.State()
	assert.True(t, sol)
	r.run(400)
	_, _, sol = r.out.State()
	assert.False(t, sol)
	assert.Equal(t, types.PhaseNone, r.m.Phase())
	assert.Len(t, r.recs, 1, "no double record")
}

func TestPreInfusionLegs(t *testing.T) {
	r := newRig("dual_boiler")
	r.cfg.c.PreInfusion = types.PreInfusion{Enabled: true, OnMs: 1000, PauseMs: 800}
	r.toReady(t)

	r.m.RequestBrewStart()
	r.step(100)
	require.Equal(t, types.PhasePreInfusion, r.m.Phase())
	_, pump, sol := r.out.State()
	assert.Equal(t, uint8(100), pump)
	assert.True(t, sol)

	// Wetting leg ends: pump off, valve open.
	r.run(1100)
	require.Equal(t, types.PhasePreInfusion, r.m.Phase())
	_, pump, sol = r.out.State()
	assert.Zero(t, pump)
	assert.True(t, sol)

	// Soak leg ends: full pressure.
	r.run(900)
	assert.Equal(t, types.PhaseBrewing, r.m.Phase())
	_, pump, _ = r.out.State()
	assert.Equal(t, uint8(100), pump)
}

func TestWeightStopBeatsLeverInSameCycle(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)
	r.pressLever()
	require.Equal(t, types.StateBrewing, r.m.State())
	r.run(8000)

	// Both signals land before the same cycle.
	r.sens.BrewSwitch = false
	r.m.WeightStop()
	r.step(100)

	require.Len(t, r.recs, 1)
	assert.Equal(t, types.StopWeight, r.recs[0].Reason)
}

func TestCommandStop(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)
	r.m.RequestBrewStart()
	r.step(100)
	require.Equal(t, types.StateBrewing, r.m.State())

	r.run(5000)
	r.m.RequestBrewStop()
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
	require.Len(t, r.recs, 1)
	assert.Equal(t, types.StopCommand, r.recs[0].Reason)
}

func TestStopOverrideBlocksStartInSameCycle(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)

	r.m.RequestBrewStart()
	r.m.RequestBrewStop()
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State(), "stop outranks start")
	assert.Empty(t, r.recs)
}

func TestModeChangeRejectedWhileBrewing(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)
	r.m.RequestBrewStart()
	r.step(100)
	require.Equal(t, types.StateBrewing, r.m.State())

	assert.False(t, r.m.SetMode(types.ModeSteam))
	assert.Equal(t, types.ModeBrew, r.m.Mode())

	r.m.RequestBrewStop()
	r.step(100)
	assert.True(t, r.m.SetMode(types.ModeSteam))
}

func TestLeverIgnoredUntilDebounced(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)

	// A 20 ms spike never becomes a brew.
	r.sens.BrewSwitch = true
	r.step(20)
	r.sens.BrewSwitch = false
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
}

func TestWaterLowBlocksStartAndPump(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)

	r.sens.WaterLow = true
	r.m.RequestBrewStart()
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
	_, pump, _ := r.out.State()
	assert.Zero(t, pump)
}

func TestFaultAbortsBrewWithoutRecord(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)
	r.m.RequestBrewStart()
	r.step(100)
	require.Equal(t, types.StateBrewing, r.m.State())

	r.safe = types.SafetyStatus{Severity: types.SeverityFault, Flags: types.FlagSensorFailure}
	r.step(100)
	assert.Equal(t, types.StateFault, r.m.State())
	assert.Equal(t, types.PhaseNone, r.m.Phase())
	assert.Empty(t, r.recs, "aborted shot is not statistics")

	// Clear verdict: back to Idle, not Ready.
	r.safe = types.SafetyStatus{Severity: types.SeverityOK}
	r.step(100)
	assert.Equal(t, types.StateIdle, r.m.State())
}

func TestCriticalEntersSafe(t *testing.T) {
	r := newRig("dual_boiler")
	r.toReady(t)

	r.safe = types.SafetyStatus{Severity: types.SeverityCritical, Flags: types.FlagOverTemp}
	r.step(100)
	assert.Equal(t, types.StateSafe, r.m.State())

	// Latched: stays Safe while the supervisor keeps reporting critical.
	r.step(100)
	assert.Equal(t, types.StateSafe, r.m.State())
}

func TestHXUsesGroupTempForBrewReadiness(t *testing.T) {
	r := newRig("heat_exchanger")
	r.m = New(types.MachineProfile{Type: "heat_exchanger", GroupOffset: 2}, r.cfg, r.out)
	r.step(100)
	r.m.SetMode(types.ModeBrew)

	// Brew boiler reading is absent on an HX machine.
	r.sens.BrewTempValid = false
	r.sens.GroupTempC = 90.5 // +2 offset = 92.5, within tolerance of 93
	r.step(100)
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
}

func TestSteamModeWatchesSteamBoiler(t *testing.T) {
	r := newRig("dual_boiler")
	r.step(100)
	r.m.SetMode(types.ModeSteam)
	r.sens.SteamTempC = 124.5
	r.step(100)
	assert.Equal(t, types.StateReady, r.m.State())
}
