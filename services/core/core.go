// Package core runs the control context: a fixed-period loop that reads
// sensors, takes the safety verdict, steps the machine state and the
// heater control, and publishes the status snapshot. It also applies
// machine-owned commands arriving from the comms context over the bus.
package core

import (
	"context"
	"sync/atomic"
	"time"

	"brewcode-go/bus"
	"brewcode-go/internal/platform"
	"brewcode-go/services/comms"
	"brewcode-go/services/control"
	"brewcode-go/services/machine"
	"brewcode-go/services/persist"
	"brewcode-go/services/safety"
	"brewcode-go/types"
	"brewcode-go/x/snap"
	"brewcode-go/x/timex"
)

// CyclePeriodMs is the control cadence. Thermal time constants sit in
// the tens of seconds; 100 ms leaves margin for everything else.
const CyclePeriodMs = 100

type Loop struct {
	plat  *platform.Platform
	safe  *safety.Supervisor
	mach  *machine.Machine
	ctrl  *control.Controller
	store *persist.Store
	conn  *bus.Connection
	clock timex.Clock

	cmdSub  *bus.Subscription
	cell    snap.Cell[types.StatusSnapshot]
	startMs timex.Millis
	lastMs  timex.Millis
	parked  atomic.Bool

	cleaning bool
}

func New(plat *platform.Platform, profile types.MachineProfile, store *persist.Store,
	safe *safety.Supervisor, conn *bus.Connection, clock timex.Clock) *Loop {

	l := &Loop{
		plat:  plat,
		safe:  safe,
		mach:  machine.New(profile, store, plat.Out),
		ctrl:  control.New(profile, store, plat.Out),
		store: store,
		conn:  conn,
		clock: clock,
	}
	switch mt, _ := profile.MachineTypeOf(); mt {
	case types.MachineSingleBoiler:
		safe.ExpectSensors(true, false)
	case types.MachineHeatExchanger:
		safe.ExpectSensors(false, true)
	}
	// A persisted strategy can become unaffordable when the profile or
	// the site limits changed since it was set. Degrade it once at boot.
	if cfg := store.Config(); cfg.Env.Valid() {
		mt, _ := profile.MachineTypeOf()
		want := control.NormalizeStrategy(cfg.Strategy, mt,
			cfg.Env.MaxCurrentDraw, profile.BrewWatts, profile.SteamWatts, cfg.Env.NominalVoltage)
		if want != cfg.Strategy {
			println("core: strategy no longer allowed, falling back")
			if err := store.Update(func(c *types.MachineConfig) { c.Strategy = want }); err != nil {
				println("core: strategy fallback not persisted:", err.Error())
			}
		}
	}
	l.mach.OnBrewFinished = func(rec types.BrewRecord) {
		if err := store.RecordBrew(rec); err != nil {
			println("core: record brew:", err.Error())
		}
	}
	l.cmdSub = conn.Subscribe(comms.TopicCommand)
	l.startMs = clock.Now()
	l.lastMs = l.startMs
	return l
}

// Status returns the latest published snapshot.
func (l *Loop) Status() (types.StatusSnapshot, bool) { return l.cell.Load() }

// Parked reports whether the loop has ceded the hardware.
func (l *Loop) Parked() bool { return l.parked.Load() }

// Run ticks the loop until ctx is cancelled. On hardware this goroutine
// is pinned to the control core.
func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(CyclePeriodMs * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.RunOnce(l.clock.Now())
		}
	}
}

// RunOnce executes one cycle at the given instant. Split out so tests
// and the simulator can drive time by hand.
func (l *Loop) RunOnce(now timex.Millis) {
	if l.parked.Load() {
		return
	}
	l.drainCommands()
	if l.parked.Load() {
		return
	}

	sens := l.plat.Sensors.Latest()
	verdict := l.safe.Check(now, sens)
	l.safe.KickWatchdog()

	l.mach.Update(now, sens, verdict)

	dt := float32(timex.Since(now, l.lastMs)) / 1000
	l.lastMs = now
	l.ctrl.Update(dt, verdict.Clear(), !l.store.SetupMode(), l.mach.Mode(), sens)

	l.cell.Store(l.snapshot(now, sens, verdict))
}

func (l *Loop) drainCommands() {
	for {
		select {
		case msg := <-l.cmdSub.Channel():
			if cmd, ok := msg.Payload.(*types.Command); ok {
				l.apply(*cmd)
			}
		default:
			return
		}
	}
}

func (l *Loop) apply(cmd types.Command) {
	switch cmd.Type {
	case types.CmdBrewStart:
		if l.mach.State() == types.StateReady && l.mach.Mode() == types.ModeBrew {
			l.mach.RequestBrewStart()
			l.reply(cmd.Seq, types.AckSuccess)
		} else {
			l.reply(cmd.Seq, types.AckRejected)
		}
	case types.CmdBrewStop:
		if l.mach.State() == types.StateBrewing {
			l.mach.RequestBrewStop()
			l.reply(cmd.Seq, types.AckSuccess)
		} else {
			l.reply(cmd.Seq, types.AckRejected)
		}
	case types.CmdSetMode:
		if len(cmd.Payload) != 1 || cmd.Payload[0] > uint8(types.ModeSteam) {
			l.reply(cmd.Seq, types.AckInvalidArgument)
			return
		}
		if l.mach.SetMode(types.MachineMode(cmd.Payload[0])) {
			l.reply(cmd.Seq, types.AckSuccess)
		} else {
			l.reply(cmd.Seq, types.AckRejected)
		}
	case types.CmdCleanStart:
		if l.mach.State() == types.StateBrewing || l.cleaning {
			l.reply(cmd.Seq, types.AckRejected)
			return
		}
		l.cleaning = true
		l.reply(cmd.Seq, types.AckSuccess)
	case types.CmdCleanStop:
		if !l.cleaning {
			l.reply(cmd.Seq, types.AckRejected)
			return
		}
		l.cleaning = false
		if err := l.store.CleaningDone(); err != nil {
			l.reply(cmd.Seq, types.AckFailed)
			return
		}
		l.reply(cmd.Seq, types.AckSuccess)
	case types.CmdSafetyReset:
		// Operator acknowledgment after fixing the cause; the machine
		// leaves Fault or Safe on its own once the verdict is clear.
		if l.safe.Reset() {
			l.reply(cmd.Seq, types.AckSuccess)
		} else {
			l.reply(cmd.Seq, types.AckRejected)
		}
	case types.CmdEnterBootloader:
		// Comms already acked; just cede the hardware cleanly.
		l.plat.Out.AllOff()
		l.parked.Store(true)
	}
}

func (l *Loop) reply(seq uint16, st types.AckStatus) {
	l.conn.Publish(l.conn.NewMessage(comms.TopicAck, &types.Ack{Seq: seq, Status: st}, false))
}

func deciC(v float32) int16 {
	if v < 0 {
		return int16(v*10 - 0.5)
	}
	return int16(v*10 + 0.5)
}

func (l *Loop) snapshot(now timex.Millis, sens types.SensorSnapshot, verdict types.SafetyStatus) types.StatusSnapshot {
	brewDuty, steamDuty := l.ctrl.Duties()
	s := types.StatusSnapshot{
		BrewTempDeciC:  deciC(sens.BrewTempC),
		SteamTempDeciC: deciC(sens.SteamTempC),
		BrewSetDeciC:   deciC(l.ctrl.Setpoint(types.BoilerBrew)),
		SteamSetDeciC:  deciC(l.ctrl.Setpoint(types.BoilerSteam)),
		PressureCBar:   uint16(sens.PressureBar*100 + 0.5),
		BrewDutyPct:    brewDuty,
		SteamDutyPct:   steamDuty,
		PumpPct:        l.mach.PumpPct(),
		State:          uint8(l.mach.State()),
		WaterLevelPct:  sens.WaterLevelPct,
		UptimeS:        timex.Since(now, l.startMs) / 1000,
		BrewStartMs:    int64(l.mach.BrewStartMs()),
	}

	power := sens.PowerW
	if power == 0 {
		power = l.ctrl.EstimatedPowerW(s.PumpPct)
	}
	if power > 0 {
		s.PowerW = uint16(power + 0.5)
	}

	if l.mach.State() == types.StateBrewing {
		s.Flags |= types.StatusBrewing
	}
	if s.PumpPct > 0 {
		s.Flags |= types.StatusPumpOn
	}
	if brewDuty > 0 || steamDuty > 0 {
		s.Flags |= types.StatusHeating
	}
	if sens.WaterLow {
		s.Flags |= types.StatusWaterLow
	}
	if verdict.Severity >= types.SeverityFault {
		s.Flags |= types.StatusAlarm
	}
	if l.store.CleaningDue() {
		s.Flags |= types.StatusCleanDue
	}
	s.Safety = verdict.Flags
	s.Severity = uint8(verdict.Severity)
	return s
}
