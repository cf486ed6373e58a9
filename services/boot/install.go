package boot

import (
	"hash/crc32"

	"brewcode-go/errcode"
	"brewcode-go/internal/platform"
	"brewcode-go/x/timex"
)

// Updater owns one complete firmware update: receive, verify, install.
type Updater struct {
	link   platform.Link
	flash  platform.Flash
	layout platform.Layout
	prog   platform.SelfProgrammer
	sys    platform.Sys
	clock  timex.Clock

	// Lockout parks the companion execution context before the install
	// phase so nothing fetches instructions from flash mid-erase.
	Lockout func()

	// Session deadline overrides, zero means default.
	ChunkTimeoutMs uint32
	TotalTimeoutMs uint32
}

func NewUpdater(p *platform.Platform, clock timex.Clock) *Updater {
	return &Updater{
		link:   p.Link,
		flash:  p.Flash,
		layout: p.Layout,
		prog:   p.Prog,
		sys:    p.Sys,
		clock:  clock,
	}
}

// Plan slices the staged image into sector copy steps. Every step is
// sector-aligned; the last sector is copied whole even when the image
// ends mid-sector.
func Plan(layout platform.Layout, imageLen uint32) []platform.SectorCopy {
	var plan []platform.SectorCopy
	sec := layout.SectorSize
	for off := uint32(0); off < imageLen; off += sec {
		n := sec
		if off+n > layout.ResidentSize {
			break
		}
		plan = append(plan, platform.SectorCopy{
			From: layout.StagingOff + off,
			To:   layout.ResidentOff + off,
			Len:  n,
		})
	}
	return plan
}

// Run performs the update. A protocol abort returns with the resident
// region untouched. Once the staged image verifies, the companion
// context is locked out and control passes to the self-programmer; on
// real hardware that call resets the chip and never returns. Any error
// after that point is terminal and answered with a reset.
func (u *Updater) Run() error {
	sess := NewSession(u.link, u.flash, u.layout, u.clock)
	if u.ChunkTimeoutMs != 0 {
		sess.ChunkTimeoutMs = u.ChunkTimeoutMs
	}
	if u.TotalTimeoutMs != 0 {
		sess.TotalTimeoutMs = u.TotalTimeoutMs
	}

	n, want, err := sess.Receive()
	if err != nil {
		return err
	}

	if err := u.verifyStaged(n, want); err != nil {
		u.sendErr(err)
		return err
	}

	if u.Lockout != nil {
		u.Lockout()
	}
	if err := u.prog.CriticalSelfReprogram(Plan(u.layout, n)); err != nil {
		// Resident flash is in an unknown state. Report, then force a
		// fresh boot; resuming the normal loop is not an option.
		u.sendErr(err)
		u.sys.Reset()
		return err
	}
	return nil
}

// verifyStaged re-reads the staged bytes and checks them against the
// CRC accumulated during receive. This is the last gate before the
// uninterruptible window opens.
func (u *Updater) verifyStaged(imageLen, want uint32) error {
	buf := make([]byte, u.flash.Geometry().PageSize)
	var got uint32
	for off := uint32(0); off < imageLen; off += uint32(len(buf)) {
		n := uint32(len(buf))
		if off+n > imageLen {
			n = imageLen - off
		}
		if err := u.flash.ReadAt(buf[:n], u.layout.StagingOff+off); err != nil {
			return err
		}
		got = crc32.Update(got, crc32.IEEETable, buf[:n])
	}
	if got != want {
		return errcode.BootChecksum
	}
	return nil
}

func (u *Updater) sendErr(err error) {
	_, _ = u.link.Write([]byte{wireByte(err)})
}
