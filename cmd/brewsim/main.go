// brewsim runs the full control core on the host against a first-order
// thermal model, driven by a YAML scenario of timed events. Useful for
// tuning gains and watching state transitions without hardware.
//
// Usage:
//
//	brewsim -scenario morning.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"brewcode-go/bus"
	"brewcode-go/internal/platform"
	"brewcode-go/services/comms"
	"brewcode-go/services/core"
	"brewcode-go/services/persist"
	"brewcode-go/services/profile"
	"brewcode-go/services/safety"
	"brewcode-go/types"
	"brewcode-go/x/timex"
)

// Scenario is the YAML input. Times are milliseconds from simulation start.
type Scenario struct {
	Profile    string  `yaml:"profile"`     // embedded profile name, e.g. "dual_boiler"
	DurationMs uint32  `yaml:"duration_ms"` // total simulated time
	Voltage    float32 `yaml:"voltage"`     // site limits; zero leaves setup mode on
	MaxCurrent float32 `yaml:"max_current"`

	Thermal Thermal `yaml:"thermal"`
	Events  []Event `yaml:"events"`
}

// Thermal parameterizes one first-order boiler model per boiler: at full
// duty the water gains heat_rate degrees per second, and loses
// loss_coeff*(T-ambient) degrees per second regardless of duty.
type Thermal struct {
	AmbientC      float32 `yaml:"ambient_c"`
	BrewHeatRate  float32 `yaml:"brew_heat_rate"`  // °C/s at 100% duty
	SteamHeatRate float32 `yaml:"steam_heat_rate"` // °C/s at 100% duty
	LossCoeff     float32 `yaml:"loss_coeff"`      // 1/s
}

type Event struct {
	AtMs   uint32  `yaml:"at_ms"`
	Action string  `yaml:"action"` // see apply()
	Value  float32 `yaml:"value"`  // action-specific
}

func main() {
	var (
		path    = flag.String("scenario", "", "YAML scenario file")
		verbose = flag.Bool("v", false, "log every control cycle")
	)
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}

	sc, err := loadScenario(*path)
	if err != nil {
		log.Fatal("scenario", zap.Error(err))
	}
	if err := run(log, sc, *verbose); err != nil {
		log.Fatal("simulation", zap.Error(err))
	}
}

func loadScenario(path string) (Scenario, error) {
	var sc Scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return sc, fmt.Errorf("%s: %w", path, err)
	}
	if sc.DurationMs == 0 {
		sc.DurationMs = 120_000
	}
	if sc.Thermal.BrewHeatRate == 0 {
		sc.Thermal.BrewHeatRate = 1.5
	}
	if sc.Thermal.SteamHeatRate == 0 {
		sc.Thermal.SteamHeatRate = 2.0
	}
	if sc.Thermal.LossCoeff == 0 {
		sc.Thermal.LossCoeff = 0.002
	}
	if sc.Thermal.AmbientC == 0 {
		sc.Thermal.AmbientC = 22
	}
	sort.SliceStable(sc.Events, func(i, j int) bool { return sc.Events[i].AtMs < sc.Events[j].AtMs })
	return sc, nil
}

// sim owns the deterministic world: a manual clock, the fake platform and
// the boiler model, stepped one control cycle at a time.
type sim struct {
	log *zap.Logger
	sc  Scenario

	out  *platform.RecordedOutputs
	sens *platform.FakeSensors

	loop  *core.Loop
	store *persist.Store
	cmds  *bus.Connection

	brewC    float32
	steamC   float32
	waterLow bool
	lever    bool
	nextSeq  uint16
}

func run(log *zap.Logger, sc Scenario, verbose bool) error {
	plat, _, out, sens, _ := platform.NewHostPlatform()
	clock := timex.NewManual(1_000)
	b := bus.NewBus(32)
	ctx := context.Background()

	build := sc.Profile
	if build == "" {
		build = "dual_boiler"
	}
	prof := profile.NewService(build).Start(ctx, b.NewConnection("profile"))

	store := persist.NewStore(plat.Flash, plat.Layout)
	if sc.Voltage != 0 {
		err := store.Update(func(c *types.MachineConfig) {
			c.Env = types.EnvLimits{NominalVoltage: sc.Voltage, MaxCurrentDraw: sc.MaxCurrent}
		})
		if err != nil {
			return err
		}
	}
	safe := safety.New(plat.Out, plat.WDT, func() bool { return !store.SetupMode() })
	loop := core.New(plat, prof, store, safe, b.NewConnection("core"), clock)

	s := &sim{
		log:    log,
		sc:     sc,
		out:    out,
		sens:   sens,
		loop:   loop,
		store:  store,
		cmds:   b.NewConnection("sim"),
		brewC:  sc.Thermal.AmbientC,
		steamC: sc.Thermal.AmbientC,
	}
	// The supervisor treats silence after first contact as a comm fault,
	// so ping it the way the comm service would.
	safe.Heartbeat(clock.Now())
	heartbeatEvery := uint32(1_000)
	var sinceBeat uint32

	log.Info("starting",
		zap.String("profile", build),
		zap.Uint32("duration_ms", sc.DurationMs),
		zap.Bool("setup_mode", store.SetupMode()))

	events := sc.Events
	for t := uint32(0); t < sc.DurationMs; t += core.CyclePeriodMs {
		for len(events) > 0 && events[0].AtMs <= t {
			s.apply(events[0])
			events = events[1:]
		}
		s.stepThermal(float32(core.CyclePeriodMs) / 1000)
		s.pushSensors()

		sinceBeat += core.CyclePeriodMs
		if sinceBeat >= heartbeatEvery {
			safe.Heartbeat(clock.Now())
			sinceBeat = 0
		}

		clock.Advance(core.CyclePeriodMs)
		loop.RunOnce(clock.Now())

		if verbose || t%1_000 == 0 {
			s.report(t)
		}
	}

	stats := store.Stats()
	log.Info("finished",
		zap.Uint32("total_brews", stats.TotalBrews),
		zap.Int("history", len(stats.History)))
	for i, rec := range stats.History {
		log.Info("brew",
			zap.Int("n", i+1),
			zap.Uint32("duration_ms", rec.DurationMs),
			zap.Uint8("stop_reason", uint8(rec.Reason)))
	}
	return nil
}

// stepThermal advances both boiler temperatures by dt seconds using the
// heater duties the core commanded last cycle.
func (s *sim) stepThermal(dt float32) {
	heater, pump, _ := s.out.State()
	th := s.sc.Thermal

	s.brewC += dt * (float32(heater[types.BoilerBrew])/100*th.BrewHeatRate - th.LossCoeff*(s.brewC-th.AmbientC))
	s.steamC += dt * (float32(heater[types.BoilerSteam])/100*th.SteamHeatRate - th.LossCoeff*(s.steamC-th.AmbientC))
	if pump > 0 {
		// Fresh water into the brew boiler pulls it down while pumping.
		s.brewC -= dt * 0.8
	}
}

func (s *sim) pushSensors() {
	level := uint8(80)
	if s.waterLow {
		level = 5
	}
	s.sens.Set(types.SensorSnapshot{
		BrewTempC:      s.brewC,
		SteamTempC:     s.steamC,
		GroupTempC:     s.brewC,
		PressureBar:    steamPressureBar(s.steamC),
		WaterLevelPct:  level,
		BrewTempValid:  true,
		SteamTempValid: true,
		GroupTempValid: true,
		PressureValid:  true,
		WaterLow:       s.waterLow,
		BrewSwitch:     s.lever,
	})
}

// steamPressureBar approximates saturated steam gauge pressure from the
// boiler temperature. Linear fit is plenty for a simulation.
func steamPressureBar(tempC float32) float32 {
	if tempC < 100 {
		return 0
	}
	return (tempC - 100) * 0.05
}

func (s *sim) apply(ev Event) {
	s.log.Info("event", zap.Uint32("at_ms", ev.AtMs), zap.String("action", ev.Action))
	switch ev.Action {
	case "lever_on":
		s.lever = true
	case "lever_off":
		s.lever = false
	case "water_low":
		s.waterLow = true
	case "water_ok":
		s.waterLow = false
	case "brew_start":
		s.command(types.CmdBrewStart, nil)
	case "brew_stop":
		s.command(types.CmdBrewStop, nil)
	case "mode_brew":
		s.command(types.CmdSetMode, []byte{byte(types.ModeBrew)})
	case "mode_steam":
		s.command(types.CmdSetMode, []byte{byte(types.ModeSteam)})
	case "set_brew_temp":
		s.setpoint(types.BoilerBrew, ev.Value)
	case "set_steam_temp":
		s.setpoint(types.BoilerSteam, ev.Value)
	default:
		s.log.Warn("unknown action ignored", zap.String("action", ev.Action))
	}
}

func (s *sim) command(ct types.CommandType, payload []byte) {
	s.nextSeq++
	cmd := types.Command{Type: ct, Seq: s.nextSeq, Payload: payload}
	s.cmds.Publish(s.cmds.NewMessage(comms.TopicCommand, &cmd, false))
}

func (s *sim) setpoint(b types.BoilerID, temp float32) {
	err := s.store.Update(func(c *types.MachineConfig) { c.Setpoints[b] = temp })
	if err != nil {
		s.log.Warn("setpoint not persisted", zap.Error(err))
	}
}

func (s *sim) report(t uint32) {
	snap, ok := s.loop.Status()
	if !ok {
		return
	}
	s.log.Info("cycle",
		zap.Duration("t", time.Duration(t)*time.Millisecond),
		zap.String("state", types.MachineState(snap.State).String()),
		zap.Float32("brew_c", s.brewC),
		zap.Float32("steam_c", s.steamC),
		zap.Uint8("brew_duty", snap.BrewDutyPct),
		zap.Uint8("steam_duty", snap.SteamDutyPct),
		zap.Uint8("pump", snap.PumpPct))
}
