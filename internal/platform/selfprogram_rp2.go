//go:build rp2040

package platform

import (
	"unsafe"
)

// Self-reprogramming on the RP2040.
//
// While the resident region is being erased and reprogrammed the XIP
// window is unusable, so nothing executed here may fetch from flash:
// the copy loop and everything it calls is forced into RAM, the flash
// primitives come from the boot ROM (mask ROM, immune to the erase),
// the watchdog is fed by a direct register store, and the final reset
// is a direct AIRCR write. Library calls are off limits end to end.

const (
	watchdogLoad   = 0x40058004 // WATCHDOG_LOAD
	watchdogReason = 0x40058008 // WATCHDOG_REASON: bit0 TIMER, bit1 FORCE

	aircr      = 0xE000ED0C // SCB AIRCR
	aircrReset = 0x05FA0004 // VECTKEY | SYSRESETREQ

	xipBase = 0x10000000
)

//go:inline
func reg32(addr uintptr) *volatileReg { return (*volatileReg)(unsafe.Pointer(addr)) }

type volatileReg struct{ v uint32 }

//go:nosplit
func wdRawFeed() { reg32(watchdogLoad).v = 0xFFFFFF }

// wdCausedReboot reads the sticky reason register. It survives until the
// next power-on reset, so a watchdog-triggered reboot is visible at boot.
func wdCausedReboot() bool { return reg32(watchdogReason).v&0x1 != 0 }

//go:nosplit
func sysResetNow() {
	reg32(aircr).v = aircrReset
	for {
	}
}

// Boot ROM function lookup (RP2040 datasheet 2.8.3). The ROM lives at
// address zero and survives any flash operation.
func romFuncLookup(c1, c2 byte) uintptr {
	rom := func(off uintptr) uint16 { return *(*uint16)(unsafe.Pointer(off)) }
	tableLookup := uintptr(rom(0x18))
	funcTable := uintptr(rom(0x14))
	lookup := *(*func(table uintptr, code uint32) uintptr)(unsafe.Pointer(&tableLookup))
	return lookup(funcTable, uint32(c1)|uint32(c2)<<8)
}

type romFlashFuncs struct {
	connectInternal func()
	exitXIP         func()
	rangeErase      func(addr uintptr, count uintptr, blockSize uintptr, blockCmd uint8)
	rangeProgram    func(addr uintptr, data *byte, count uintptr)
	flushCache      func()
	enterCmdXIP     func()
}

func lookupROMFlash() romFlashFuncs {
	cast := func(p uintptr) func() { return *(*func())(unsafe.Pointer(&p)) }
	var f romFlashFuncs
	f.connectInternal = cast(romFuncLookup('I', 'F'))
	f.exitXIP = cast(romFuncLookup('E', 'X'))
	er := romFuncLookup('R', 'E')
	f.rangeErase = *(*func(uintptr, uintptr, uintptr, uint8))(unsafe.Pointer(&er))
	pr := romFuncLookup('R', 'P')
	f.rangeProgram = *(*func(uintptr, *byte, uintptr))(unsafe.Pointer(&pr))
	f.flushCache = cast(romFuncLookup('F', 'C'))
	f.enterCmdXIP = cast(romFuncLookup('C', 'X'))
	return f
}

type rp2Programmer struct {
	flash  *rp2Flash
	layout Layout
	// Sector buffer is allocated once, before the critical section; no
	// allocation may happen after XIP is suspended.
	buf [4096]byte
}

func newRP2Programmer(f *rp2Flash, l Layout) *rp2Programmer {
	return &rp2Programmer{flash: f, layout: l}
}

// CriticalSelfReprogram runs the install plan and resets. It must be
// called with the communication context parked: no other code may touch
// flash, directly or by instruction fetch from an uncached address,
// until the reset fires.
//
//go:nosplit
func (p *rp2Programmer) CriticalSelfReprogram(plan []SectorCopy) error {
	rom := lookupROMFlash()
	geo := p.flash.Geometry()

	for i := range plan {
		c := &plan[i]

		// (a) Copy the staged sector to RAM while flash is still readable.
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(xipBase+c.From))), c.Len)
		copy(p.buf[:c.Len], src)

		// (b) Leave XIP; from here only ROM + RAM run.
		rom.connectInternal()
		rom.exitXIP()

		// (c) Erase and reprogram the resident sector page by page,
		// feeding the watchdog by register write at each page.
		rom.rangeErase(uintptr(c.To), uintptr(c.Len), uintptr(geo.BlockSize), 0x20)
		for off := uint32(0); off < c.Len; off += geo.PageSize {
			n := geo.PageSize
			if c.Len-off < n {
				n = c.Len - off
			}
			rom.rangeProgram(uintptr(c.To+off), &p.buf[off], uintptr(n))
			wdRawFeed()
		}

		// (d) Restore read access before touching the next sector.
		rom.flushCache()
		rom.enterCmdXIP()
	}

	sysResetNow()
	return nil // unreachable
}
