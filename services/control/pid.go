package control

import (
	"github.com/chewxy/math32"

	"brewcode-go/types"
	"brewcode-go/x/mathx"
	"brewcode-go/x/ramp"
)

const (
	OutputMin float32 = 0
	OutputMax float32 = 100

	// Derivative low-pass smoothing factor. Raw derivative of a noisy
	// thermistor reading would dominate the output.
	derivAlpha float32 = 0.1

	// Below this, ki is treated as off and the integral is cleared so a
	// later gain change does not release accumulated windup.
	kiEpsilon float32 = 1e-6

	// Setpoint ramp rate. Stepping the setpoint steps the current draw.
	setpointRampPerSec float32 = 2.0
)

// PID is one boiler's controller. One instance per boiler, mutated once
// per control cycle by its owner.
type PID struct {
	gains types.PIDGains

	setpoint float32 // active, ramped
	target   float32 // commanded

	integral float32
	lastErr  float32
	dFilt    float32
	lastOut  float32
	primed   bool
}

func NewPID(g types.PIDGains, setpoint float32) *PID {
	return &PID{gains: g, setpoint: setpoint, target: setpoint}
}

func (p *PID) SetGains(g types.PIDGains) { p.gains = g }

func (p *PID) Gains() types.PIDGains { return p.gains }

// SetTarget moves the commanded setpoint; the active one ramps toward it.
func (p *PID) SetTarget(t float32) { p.target = t }

func (p *PID) Target() float32 { return p.target }

func (p *PID) Setpoint() float32 { return p.setpoint }

func (p *PID) LastOutput() float32 { return p.lastOut }

// Update computes the demand (0..100) from the filtered process value.
func (p *PID) Update(pv, dtSec float32) float32 {
	if dtSec <= 0 || math32.IsNaN(pv) {
		return p.lastOut
	}

	p.setpoint = ramp.Toward(p.setpoint, p.target, setpointRampPerSec, dtSec)

	err := p.setpoint - pv

	// Anti-windup: keep ki*integral inside the output span so the
	// integral alone can never pin the output.
	if p.gains.Ki <= kiEpsilon {
		p.integral = 0
	} else {
		p.integral += err * dtSec
		lim := OutputMax / p.gains.Ki
		p.integral = mathx.Clamp(p.integral, -lim, lim)
	}

	var d float32
	if p.primed {
		d = (err - p.lastErr) / dtSec
	}
	p.dFilt += derivAlpha * (d - p.dFilt)
	p.lastErr = err
	p.primed = true

	out := p.gains.Kp*err + p.gains.Ki*p.integral + p.gains.Kd*p.dFilt
	p.lastOut = mathx.Clamp(out, OutputMin, OutputMax)
	return p.lastOut
}

// Reset clears accumulated state, keeping gains and setpoints.
func (p *PID) Reset() {
	p.integral = 0
	p.lastErr = 0
	p.dFilt = 0
	p.lastOut = 0
	p.primed = false
}
