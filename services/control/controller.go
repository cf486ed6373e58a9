// Package control owns the per-cycle heater decision: one PID per
// boiler, machine-variant demand dispatch, and heating-strategy
// arbitration under the site's electrical current budget. The pump and
// solenoid are the state machine's problem, not ours.
package control

import (
	"brewcode-go/internal/platform"
	"brewcode-go/types"
	"brewcode-go/x/mathx"
)

// ConfigSource yields the current durable configuration. Reads are
// lock-free on the control context.
type ConfigSource interface {
	Config() types.MachineConfig
}

// Controller is the control-loop half of the core. Update runs once per
// control period on the control context.
type Controller struct {
	mt      types.MachineType
	hx      types.HXControlMode
	profile types.MachineProfile
	cfg     ConfigSource
	out     platform.Outputs

	pids [types.NumBoilers]*PID

	brewDuty  uint8
	steamDuty uint8
}

func New(profile types.MachineProfile, cfg ConfigSource, out platform.Outputs) *Controller {
	mt, _ := profile.MachineTypeOf()
	c := &Controller{
		mt:      mt,
		hx:      profile.HXModeOf(),
		profile: profile,
		cfg:     cfg,
		out:     out,
	}
	mc := cfg.Config()
	for i := range c.pids {
		c.pids[i] = NewPID(mc.Gains[i], mc.Setpoints[i])
	}
	return c
}

// Duties returns the last commanded heater duties for the snapshot.
func (c *Controller) Duties() (brew, steam uint8) { return c.brewDuty, c.steamDuty }

// Setpoint returns the active (ramped) setpoint of a boiler.
func (c *Controller) Setpoint(b types.BoilerID) float32 { return c.pids[b].Setpoint() }

// EstimatedPowerW sums heater duties scaled by their wattages plus pump
// draw, used when no power meter is fitted.
func (c *Controller) EstimatedPowerW(pumpPct uint8) float32 {
	p := float32(c.brewDuty)/100*c.profile.BrewWatts +
		float32(c.steamDuty)/100*c.profile.SteamWatts
	if pumpPct > 0 {
		p += float32(pumpPct) / 100 * c.profile.PumpWatts
	}
	return p
}

// Update runs the control decision for this cycle. clear is the safety
// verdict; envOK is the environmental-limits gate. Either being false,
// or Mode=Idle, forces every heater to zero.
func (c *Controller) Update(dtSec float32, clear, envOK bool, mode types.MachineMode, sens types.SensorSnapshot) {
	mc := c.cfg.Config()
	for i := range c.pids {
		c.pids[i].SetGains(mc.Gains[i])
	}

	if !clear || !envOK || mode == types.ModeIdle {
		c.setDuties(0, 0)
		return
	}

	switch c.mt {
	case types.MachineDualBoiler:
		c.updateDual(dtSec, mc, sens)
	case types.MachineSingleBoiler:
		c.updateSingle(dtSec, mc, mode, sens)
	case types.MachineHeatExchanger:
		c.updateHX(dtSec, mc, sens)
	}
}

func (c *Controller) updateDual(dtSec float32, mc types.MachineConfig, sens types.SensorSnapshot) {
	c.pids[types.BoilerBrew].SetTarget(mc.Setpoints[types.BoilerBrew])
	c.pids[types.BoilerSteam].SetTarget(mc.Setpoints[types.BoilerSteam])

	var brewDemand, steamDemand float32
	if sens.BrewTempValid {
		brewDemand = c.pids[types.BoilerBrew].Update(sens.BrewTempC, dtSec)
	}
	if sens.SteamTempValid {
		steamDemand = c.pids[types.BoilerSteam].Update(sens.SteamTempC, dtSec)
	}

	atThreshold := sens.BrewTempValid &&
		sens.BrewTempC >= sequentialThreshold*c.pids[types.BoilerBrew].Setpoint()

	brew, steam := Arbitrate(
		mc.Strategy, brewDemand, steamDemand, atThreshold,
		mc.Env.MaxCurrentDraw, c.profile.BrewWatts, c.profile.SteamWatts,
		mc.Env.NominalVoltage, mc.PriorityBoiler,
	)
	c.setDuties(brew, steam)
}

func (c *Controller) updateSingle(dtSec float32, mc types.MachineConfig, mode types.MachineMode, sens types.SensorSnapshot) {
	// One boiler, one sensor; the mode decides which setpoint it chases.
	target := mc.Setpoints[types.BoilerBrew]
	if mode == types.ModeSteam {
		target = mc.Setpoints[types.BoilerSteam]
	}
	c.pids[types.BoilerBrew].SetTarget(target)

	var demand float32
	if sens.BrewTempValid {
		demand = c.pids[types.BoilerBrew].Update(sens.BrewTempC, dtSec)
	}
	c.setDuties(mathx.Clamp(demand, 0, maxDutyPct), 0)
}

func (c *Controller) updateHX(dtSec float32, mc types.MachineConfig, sens types.SensorSnapshot) {
	pid := c.pids[types.BoilerSteam]
	pid.SetTarget(mc.Setpoints[types.BoilerSteam])

	var demand float32
	switch c.hx {
	case types.HXSteamTemp:
		if sens.SteamTempValid {
			demand = pid.Update(sens.SteamTempC, dtSec)
		}
	case types.HXPressure:
		// Setpoints[BoilerSteam] is bar in this mode.
		if sens.PressureValid {
			demand = pid.Update(sens.PressureBar, dtSec)
		}
	case types.HXPressurestatMonitor:
		// The mechanical pressurestat switches; we only watch.
		demand = 0
	}
	c.setDuties(0, mathx.Clamp(demand, 0, maxDutyPct))
}

func (c *Controller) setDuties(brew, steam float32) {
	c.brewDuty = uint8(brew + 0.5)
	c.steamDuty = uint8(steam + 0.5)
	c.out.SetHeaterDuty(types.BoilerBrew, c.brewDuty)
	c.out.SetHeaterDuty(types.BoilerSteam, c.steamDuty)
}
