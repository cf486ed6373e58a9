//go:build rp2040

package platform

import (
	"context"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"brewcode-go/errcode"
	"brewcode-go/types"
)

// Pin assignments for the controller board. SSR outputs are active high.
const (
	pinHeaterBrew  = machine.Pin(2) // PWM slice 1A
	pinHeaterSteam = machine.Pin(4) // PWM slice 2A
	pinPump        = machine.Pin(6) // PWM slice 3A
	pinSolenoid    = machine.Pin(8)

	pinLinkTX = machine.Pin(0)
	pinLinkRX = machine.Pin(1)

	// SSR switching wants a slow PWM period; mains zero-cross does the rest.
	heaterPWMPeriodNs = 1_000_000_000 / 5 // 5 Hz
)

type pwmSlice interface {
	Configure(cfg machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Set(ch uint8, value uint32)
	Top() uint32
}

type rp2Out struct {
	pin machine.Pin
	pwm pwmSlice
	ch  uint8
}

func newRP2Out(pin machine.Pin, pwm pwmSlice, periodNs uint64) (*rp2Out, error) {
	if err := pwm.Configure(machine.PWMConfig{Period: periodNs}); err != nil {
		return nil, err
	}
	ch, err := pwm.Channel(pin)
	if err != nil {
		return nil, err
	}
	return &rp2Out{pin: pin, pwm: pwm, ch: ch}, nil
}

func (o *rp2Out) setPct(pct uint8) {
	if pct > 100 {
		pct = 100
	}
	o.pwm.Set(o.ch, o.pwm.Top()*uint32(pct)/100)
}

// rp2Outputs drives the SSRs and the solenoid.
type rp2Outputs struct {
	heater [types.NumBoilers]*rp2Out
	pump   *rp2Out
}

func (o *rp2Outputs) SetHeaterDuty(b types.BoilerID, pct uint8) {
	if h := o.heater[b]; h != nil {
		h.setPct(pct)
	}
}

func (o *rp2Outputs) SetPump(pct uint8) { o.pump.setPct(pct) }

func (o *rp2Outputs) SetSolenoid(open bool) { pinSolenoid.Set(open) }

func (o *rp2Outputs) AllOff() {
	for _, h := range o.heater {
		if h != nil {
			h.setPct(0)
		}
	}
	o.pump.setPct(0)
	pinSolenoid.Low()
}

// rp2Watchdog wraps the hardware watchdog. RawFeed pokes the LOAD
// register directly; see selfprogram_rp2.go for why Kick is off limits
// during installation.
type rp2Watchdog struct{}

func (rp2Watchdog) Kick()    { machine.Watchdog.Update() }
func (rp2Watchdog) RawFeed() { wdRawFeed() }

type rp2Sys struct{}

func (rp2Sys) Reset() { sysResetNow() }

// uartPort adapts the uartx link UART to drivers.UART, the interface
// the rest of the drivers ecosystem speaks. Board pins are fixed here;
// drivers.UARTConfig only carries the baud rate.
type uartPort struct{ u *uartx.UART }

var _ drivers.UART = (*uartPort)(nil)

func (p *uartPort) Configure(cfg drivers.UARTConfig) error {
	return p.u.Configure(uartx.UARTConfig{
		BaudRate: cfg.BaudRate,
		TX:       pinLinkTX,
		RX:       pinLinkRX,
	})
}

func (p *uartPort) Read(b []byte) (int, error)  { return p.u.Read(b) }
func (p *uartPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *uartPort) Buffered() int               { return p.u.Buffered() }

func (p *uartPort) ReadByte() (byte, error) {
	var b [1]byte
	_, err := p.u.Read(b[:])
	return b[0], err
}

// rp2Link is the platform link. Writes and configuration go through the
// drivers.UART port so an ecosystem shim (logic analyser, mux) can wrap
// it; timeout reads need uartx's context receive, which the interface
// does not carry.
type rp2Link struct {
	u    *uartx.UART
	port drivers.UART
}

func newRP2Link(baud uint32) *rp2Link {
	u := uartx.UART0
	port := &uartPort{u: u}
	if err := port.Configure(drivers.UARTConfig{BaudRate: baud}); err != nil {
		println("platform: link uart configure:", err.Error())
	}
	return &rp2Link{u: u, port: port}
}

func (l *rp2Link) Read(p []byte, timeoutMs uint32) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()
	n, err := l.u.RecvSomeContext(ctx, p)
	if err != nil {
		return n, errcode.Timeout
	}
	return n, nil
}

func (l *rp2Link) Write(p []byte) (int, error) { return l.port.Write(p) }

// rp2Flash adapts the on-board QSPI flash behind the XIP window.
type rp2Flash struct{ geo Geometry }

func (f *rp2Flash) Geometry() Geometry { return f.geo }

func (f *rp2Flash) ReadAt(p []byte, off uint32) error {
	if uint64(off)+uint64(len(p)) > uint64(f.geo.Size) {
		return errcode.FlashBounds
	}
	_, err := machine.Flash.ReadAt(p, int64(off))
	if err != nil {
		return errcode.FlashFault
	}
	return nil
}

func (f *rp2Flash) EraseBlock(off uint32) error {
	if off%f.geo.BlockSize != 0 {
		return errcode.FlashAlign
	}
	if uint64(off)+uint64(f.geo.BlockSize) > uint64(f.geo.Size) {
		return errcode.FlashBounds
	}
	if err := machine.Flash.EraseBlocks(int64(off/f.geo.BlockSize), 1); err != nil {
		return errcode.FlashFault
	}
	return nil
}

func (f *rp2Flash) ProgramPage(off uint32, p []byte) error {
	if off%f.geo.PageSize != 0 || len(p) == 0 || uint32(len(p)) > f.geo.PageSize {
		return errcode.FlashAlign
	}
	if uint64(off)+uint64(len(p)) > uint64(f.geo.Size) {
		return errcode.FlashBounds
	}
	if _, err := machine.Flash.WriteAt(p, int64(off)); err != nil {
		return errcode.FlashFault
	}
	return nil
}

// rp2Sensors drains retained readings published by the sensor node's
// driver stack into a local copy. The filtering happened upstream.
type rp2Sensors struct {
	latest types.SensorSnapshot
}

func (s *rp2Sensors) Latest() types.SensorSnapshot { return s.latest }

func (s *rp2Sensors) Update(v types.SensorSnapshot) { s.latest = v }

// NewTarget returns the platform for the build target.
func NewTarget() (*Platform, error) { return NewRP2Platform() }

// NewRP2Platform wires the real hardware.
func NewRP2Platform() (*Platform, error) {
	brew, err := newRP2Out(pinHeaterBrew, machine.PWM1, heaterPWMPeriodNs)
	if err != nil {
		return nil, err
	}
	steam, err := newRP2Out(pinHeaterSteam, machine.PWM2, heaterPWMPeriodNs)
	if err != nil {
		return nil, err
	}
	pump, err := newRP2Out(pinPump, machine.PWM3, heaterPWMPeriodNs)
	if err != nil {
		return nil, err
	}
	pinSolenoid.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinSolenoid.Low()

	// Read the reason register before arming the watchdog for this boot.
	tripped := wdCausedReboot()

	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1000})
	machine.Watchdog.Start()

	layout := DefaultLayout()
	flash := &rp2Flash{geo: Geometry{Size: 0x200000, PageSize: 256, BlockSize: 4096}}

	out := &rp2Outputs{heater: [types.NumBoilers]*rp2Out{brew, steam}, pump: pump}
	p := &Platform{
		Out:     out,
		Flash:   flash,
		Layout:  layout,
		WDT:     rp2Watchdog{},
		Sys:     rp2Sys{},
		Sensors: &rp2Sensors{},
		Link:    newRP2Link(115200),
		Prog:    newRP2Programmer(flash, layout),

		ResetByWatchdog: tripped,
	}
	return p, nil
}
