package main

import (
	"context"
	"time"

	"brewcode-go/bus"
	"brewcode-go/internal/platform"
	"brewcode-go/services/boot"
	"brewcode-go/services/comms"
	"brewcode-go/services/core"
	"brewcode-go/services/persist"
	"brewcode-go/services/profile"
	"brewcode-go/services/safety"
	"brewcode-go/x/timex"
)

// buildProfile selects the embedded machine profile this image drives.
// Overridable at link time: -ldflags "-X main.buildProfile=heat_exchanger"
var buildProfile = "dual_boiler"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot: brewcode, profile", buildProfile)

	plat, err := platform.NewTarget()
	if err != nil {
		println("fatal: platform:", err.Error())
		return
	}

	ctx := context.Background()
	b := bus.NewBus(16)
	clock := timex.Wall{}

	prof := profile.NewService(buildProfile).Start(ctx, b.NewConnection("profile"))

	store := persist.NewStore(plat.Flash, plat.Layout)
	if store.SetupMode() {
		println("setup mode: environmental limits not commissioned, heating disabled")
	}

	safe := safety.New(plat.Out, plat.WDT, func() bool { return !store.SetupMode() })
	if plat.ResetByWatchdog {
		println("safety: previous boot ended in a watchdog reset")
		safe.NoteWatchdogReset()
	}

	loop := core.New(plat, prof, store, safe, b.NewConnection("core"), clock)
	go loop.Run(ctx)

	svc := comms.New(comms.Deps{
		Link:      plat.Link,
		Store:     store,
		Conn:      b.NewConnection("comms"),
		Profile:   prof,
		Clock:     clock,
		Heartbeat: safe.Heartbeat,
		Status:    loop.Status,
		EnterBoot: func() error {
			// Wait for the control core to park before the update owns
			// the hardware.
			for !loop.Parked() {
				time.Sleep(core.CyclePeriodMs * time.Millisecond)
			}
			err := boot.NewUpdater(plat, clock).Run()
			if err != nil {
				// No way back into the normal loop without a fresh boot.
				plat.Sys.Reset()
			}
			return err
		},
	})
	svc.Run(ctx)
}
