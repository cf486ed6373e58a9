//go:build !rp2040

package platform

import (
	"sync"
	"time"

	"brewcode-go/errcode"
	"brewcode-go/types"
)

// ----------------------------- Flash (host) ----------------------------------

// MemFlash emulates a NOR part in RAM: erase floats a block to 0xFF,
// program can only clear bits. Programming bits from 0 to 1 is silently
// lossy exactly like real hardware, so codec bugs show up in tests.
type MemFlash struct {
	mu   sync.Mutex
	geo  Geometry
	data []byte

	// FailAfter breaks the part after N more erase/program ops (0 = never).
	FailAfter int
}

func NewMemFlash(size uint32) *MemFlash {
	f := &MemFlash{
		geo:  Geometry{Size: size, PageSize: 256, BlockSize: 4096},
		data: make([]byte, size),
	}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

func (f *MemFlash) Geometry() Geometry { return f.geo }

func (f *MemFlash) ReadAt(p []byte, off uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uint64(off)+uint64(len(p)) > uint64(f.geo.Size) {
		return errcode.FlashBounds
	}
	copy(p, f.data[off:])
	return nil
}

func (f *MemFlash) wear() error {
	if f.FailAfter > 0 {
		f.FailAfter--
		if f.FailAfter == 0 {
			return errcode.FlashFault
		}
	}
	return nil
}

func (f *MemFlash) EraseBlock(off uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off%f.geo.BlockSize != 0 {
		return errcode.FlashAlign
	}
	if uint64(off)+uint64(f.geo.BlockSize) > uint64(f.geo.Size) {
		return errcode.FlashBounds
	}
	if err := f.wear(); err != nil {
		return err
	}
	for i := uint32(0); i < f.geo.BlockSize; i++ {
		f.data[off+i] = 0xFF
	}
	return nil
}

func (f *MemFlash) ProgramPage(off uint32, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off%f.geo.PageSize != 0 {
		return errcode.FlashAlign
	}
	if len(p) == 0 || uint32(len(p)) > f.geo.PageSize {
		return errcode.FlashAlign
	}
	if uint64(off)+uint64(len(p)) > uint64(f.geo.Size) {
		return errcode.FlashBounds
	}
	if err := f.wear(); err != nil {
		return err
	}
	for i, b := range p {
		f.data[off+uint32(i)] &= b
	}
	return nil
}

// Bytes returns a copy of a region, for test assertions.
func (f *MemFlash) Bytes(off, n uint32) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, n)
	copy(out, f.data[off:off+n])
	return out
}

// ----------------------------- Outputs (host) ---------------------------------

type RecordedOutputs struct {
	mu       sync.Mutex
	Heater   [types.NumBoilers]uint8
	Pump     uint8
	Solenoid bool
}

func (o *RecordedOutputs) SetHeaterDuty(b types.BoilerID, pct uint8) {
	o.mu.Lock()
	o.Heater[b] = pct
	o.mu.Unlock()
}

func (o *RecordedOutputs) SetPump(pct uint8) {
	o.mu.Lock()
	o.Pump = pct
	o.mu.Unlock()
}

func (o *RecordedOutputs) SetSolenoid(open bool) {
	o.mu.Lock()
	o.Solenoid = open
	o.mu.Unlock()
}

func (o *RecordedOutputs) AllOff() {
	o.mu.Lock()
	o.Heater = [types.NumBoilers]uint8{}
	o.Pump = 0
	o.Solenoid = false
	o.mu.Unlock()
}

// State returns a consistent copy for assertions.
func (o *RecordedOutputs) State() (heater [types.NumBoilers]uint8, pump uint8, solenoid bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Heater, o.Pump, o.Solenoid
}

// ----------------------------- Watchdog / Sys (host) --------------------------

type FakeWatchdog struct {
	mu       sync.Mutex
	Kicks    int
	RawFeeds int
}

func (w *FakeWatchdog) Kick() {
	w.mu.Lock()
	w.Kicks++
	w.mu.Unlock()
}

func (w *FakeWatchdog) RawFeed() {
	w.mu.Lock()
	w.RawFeeds++
	w.mu.Unlock()
}

type FakeSys struct {
	mu    sync.Mutex
	Resets int
}

func (s *FakeSys) Reset() {
	s.mu.Lock()
	s.Resets++
	s.mu.Unlock()
}

func (s *FakeSys) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Resets
}

// ----------------------------- Sensors (host) ---------------------------------

type FakeSensors struct {
	mu   sync.Mutex
	snap types.SensorSnapshot
}

func (s *FakeSensors) Set(v types.SensorSnapshot) {
	s.mu.Lock()
	s.snap = v
	s.mu.Unlock()
}

func (s *FakeSensors) Latest() types.SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// ----------------------------- Link (host) ------------------------------------

// ChanLink is an in-memory duplex link. The test side feeds inbound
// bytes and inspects outbound ones.
type ChanLink struct {
	rx chan byte

	mu sync.Mutex
	tx []byte
}

func NewChanLink() *ChanLink {
	return &ChanLink{rx: make(chan byte, 8192)}
}

func (l *ChanLink) Read(p []byte, timeoutMs uint32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case b := <-l.rx:
		p[0] = b
		n := 1
		for n < len(p) {
			select {
			case b := <-l.rx:
				p[n] = b
				n++
			default:
				return n, nil
			}
		}
		return n, nil
	case <-timer.C:
		return 0, errcode.Timeout
	}
}

func (l *ChanLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	l.tx = append(l.tx, p...)
	l.mu.Unlock()
	return len(p), nil
}

// Feed queues inbound bytes as if the comm node sent them.
func (l *ChanLink) Feed(p []byte) {
	for _, b := range p {
		l.rx <- b
	}
}

// TxBytes drains and returns everything written so far.
func (l *ChanLink) TxBytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.tx
	l.tx = nil
	return out
}

// ----------------------------- Self-programmer (host) -------------------------

// HostProgrammer performs the staging->resident copy directly on a
// MemFlash. No XIP exists on the host, so the "critical" part reduces to
// erase+program with watchdog feeds at sector boundaries.
type HostProgrammer struct {
	Flash *MemFlash
	WDT   Watchdog
	Sys   Sys
}

func (h *HostProgrammer) CriticalSelfReprogram(plan []SectorCopy) error {
	geo := h.Flash.Geometry()
	buf := make([]byte, 0, 4096)
	for _, c := range plan {
		buf = buf[:c.Len]
		if err := h.Flash.ReadAt(buf, c.From); err != nil {
			return err
		}
		for off := uint32(0); off < c.Len; off += geo.BlockSize {
			if err := h.Flash.EraseBlock(c.To + off); err != nil {
				return err
			}
		}
		for off := uint32(0); off < c.Len; off += geo.PageSize {
			end := off + geo.PageSize
			if end > c.Len {
				end = c.Len
			}
			if err := h.Flash.ProgramPage(c.To+off, buf[off:end]); err != nil {
				return err
			}
		}
		h.WDT.RawFeed()
	}
	h.Sys.Reset()
	return nil
}

// ----------------------------- Bundle (host) ----------------------------------

// NewTarget returns the platform for the build target. On the host that
// is the in-memory fake set.
func NewTarget() (*Platform, error) {
	p, _, _, _, _ := NewHostPlatform()
	return p, nil
}

// NewHostPlatform wires the full fake set for tests and the simulator.
func NewHostPlatform() (*Platform, *MemFlash, *RecordedOutputs, *FakeSensors, *ChanLink) {
	layout := DefaultLayout()
	flash := NewMemFlash(0x200000)
	out := &RecordedOutputs{}
	sensors := &FakeSensors{}
	link := NewChanLink()
	wdt := &FakeWatchdog{}
	sys := &FakeSys{}
	p := &Platform{
		Out:     out,
		Flash:   flash,
		Layout:  layout,
		WDT:     wdt,
		Sys:     sys,
		Sensors: sensors,
		Link:    link,
		Prog:    &HostProgrammer{Flash: flash, WDT: wdt, Sys: sys},
	}
	return p, flash, out, sensors, link
}
