package ramp

import "github.com/chewxy/math32"

// Toward moves cur toward target by at most ratePerSec*dtSec.
// rate<=0 or a non-finite input snaps straight to the target; boiler
// setpoints step instead of chasing garbage.
func Toward(cur, target, ratePerSec, dtSec float32) float32 {
	if ratePerSec <= 0 || math32.IsNaN(cur) || math32.IsInf(cur, 0) {
		return target
	}
	step := ratePerSec * dtSec
	d := target - cur
	if math32.Abs(d) <= step {
		return target
	}
	if d > 0 {
		return cur + step
	}
	return cur - step
}
