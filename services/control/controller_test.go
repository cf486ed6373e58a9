package control

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brewcode-go/internal/platform"
	"brewcode-go/types"
)

type fixedCfg struct{ c types.MachineConfig }

func (f *fixedCfg) Config() types.MachineConfig { return f.c }

func dualCfg() *fixedCfg {
	return &fixedCfg{c: types.MachineConfig{
		Env:       types.EnvLimits{NominalVoltage: 230, MaxCurrentDraw: 16},
		Gains:     [types.NumBoilers]types.PIDGains{{Kp: 4, Ki: 0.1, Kd: 2}, {Kp: 5, Ki: 0.05, Kd: 1}},
		Setpoints: [types.NumBoilers]float32{93, 125},
		Strategy:  types.StrategyParallel,
	}}
}

func dualProfile() types.MachineProfile {
	return types.MachineProfile{Type: "dual_boiler", BrewWatts: 1400, SteamWatts: 1200, PumpWatts: 50}
}

func coldSensors() types.SensorSnapshot {
	return types.SensorSnapshot{
		BrewTempC: 25, SteamTempC: 25,
		BrewTempValid: true, SteamTempValid: true,
	}
}

func TestHeatersOffWhenSafetyNotClear(t *testing.T) {
	out := &platform.RecordedOutputs{}
	c := New(dualProfile(), dualCfg(), out)

	c.Update(0.1, false, true, types.ModeBrew, coldSensors())
	h, _, _ := out.State()
	assert.Equal(t, [types.NumBoilers]uint8{0, 0}, h)
}

func TestHeatersOffInIdleModeAndSetupMode(t *testing.T) {
	out := &platform.RecordedOutputs{}
	c := New(dualProfile(), dualCfg(), out)

	c.Update(0.1, true, true, types.ModeIdle, coldSensors())
	h, _, _ := out.State()
	assert.Equal(t, uint8(0), h[types.BoilerBrew])

	c.Update(0.1, true, false, types.ModeBrew, coldSensors())
	h, _, _ = out.State()
	assert.Equal(t, uint8(0), h[types.BoilerBrew])
}

func TestDualBoilerColdStartHeatsBoth(t *testing.T) {
	out := &platform.RecordedOutputs{}
	c := New(dualProfile(), dualCfg(), out)

	c.Update(0.1, true, true, types.ModeBrew, coldSensors())
	h, _, _ := out.State()
	assert.NotZero(t, h[types.BoilerBrew])
	assert.NotZero(t, h[types.BoilerSteam])

	// 16 A budget: Parallel never asks for more.
	ib := heaterCurrent(float32(h[types.BoilerBrew]), 1400, 230)
	is := heaterCurrent(float32(h[types.BoilerSteam]), 1200, 230)
	assert.LessOrEqual(t, ib+is, float32(16.01))
}

func TestInvalidSensorZeroesDemand(t *testing.T) {
	out := &platform.RecordedOutputs{}
	c := New(dualProfile(), dualCfg(), out)

	sens := coldSensors()
	sens.BrewTempValid = false
	c.Update(0.1, true, true, types.ModeBrew, sens)
	h, _, _ := out.State()
	assert.Zero(t, h[types.BoilerBrew])
	assert.NotZero(t, h[types.BoilerSteam])
}

func TestSingleBoilerFollowsMode(t *testing.T) {
	out := &platform.RecordedOutputs{}
	cfg := dualCfg()
	cfg.c.Strategy = types.StrategyBrewOnly
	profile := types.MachineProfile{Type: "single_boiler", BrewWatts: 1200}
	c := New(profile, cfg, out)

	c.Update(0.1, true, true, types.ModeSteam, coldSensors())
	assert.Equal(t, float32(125), c.pids[types.BoilerBrew].Target())

	c.Update(0.1, true, true, types.ModeBrew, coldSensors())
	assert.Equal(t, float32(93), c.pids[types.BoilerBrew].Target())

	h, _, _ := out.State()
	assert.NotZero(t, h[types.BoilerBrew])
	assert.Zero(t, h[types.BoilerSteam])
}

func TestHXPressurestatMonitorOutputsZero(t *testing.T) {
	out := &platform.RecordedOutputs{}
	profile := types.MachineProfile{Type: "heat_exchanger", HXMode: "pressurestat", SteamWatts: 1400}
	c := New(profile, dualCfg(), out)

	sens := coldSensors()
	sens.PressureBar = 0.4
	sens.PressureValid = true
	c.Update(0.1, true, true, types.ModeBrew, sens)
	h, _, _ := out.State()
	assert.Equal(t, [types.NumBoilers]uint8{0, 0}, h)
}

func TestHXSteamTempDrivesSteamHeater(t *testing.T) {
	out := &platform.RecordedOutputs{}
	profile := types.MachineProfile{Type: "heat_exchanger", HXMode: "steam_temp", SteamWatts: 1400}
	c := New(profile, dualCfg(), out)

	c.Update(0.1, true, true, types.ModeBrew, coldSensors())
	h, _, _ := out.State()
	assert.Zero(t, h[types.BoilerBrew])
	assert.NotZero(t, h[types.BoilerSteam])
}

func TestEstimatedPower(t *testing.T) {
	out := &platform.RecordedOutputs{}
	c := New(dualProfile(), dualCfg(), out)
	c.Update(0.1, true, true, types.ModeBrew, coldSensors())

	b, s := c.Duties()
	want := float32(b)/100*1400 + float32(s)/100*1200 + 50
	assert.InDelta(t, float64(want), float64(c.EstimatedPowerW(100)), 0.01)
}
