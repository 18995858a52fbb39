package kinematic

import "math"

const (
	idleRPM = 800.0
	maxRPM  = 6000.0
)

// engine spins toward the rpm its throttle asks for. It keeps ticking while
// the vehicle sleeps.
type engine struct {
	rpm      float64
	idle     float64
	max      float64
	throttle float64
}

func newEngine() *engine {
	return &engine{rpm: idleRPM, idle: idleRPM, max: maxRPM}
}

func (e *engine) RPM() float64 { return e.rpm }

func (e *engine) Update(dt float64, substeps int) {
	if substeps < 1 {
		substeps = 1
	}
	target := e.idle + e.throttle*(e.max-e.idle)
	h := dt / float64(substeps)
	for i := 0; i < substeps; i++ {
		e.rpm += (target - e.rpm) * math.Min(1, h*3)
	}
}
