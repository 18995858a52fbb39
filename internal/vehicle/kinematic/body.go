package kinematic

import (
	"fmt"
	"math"

	"github.com/simfleet/server/internal/assets"
	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

const (
	// quietSpeed is the speed below which a step counts as quiet.
	quietSpeed = 0.05
	// MaySleepAfter is the number of quiet steps after which a simulated,
	// non-leading instance becomes a sleep candidate.
	MaySleepAfter = 10
	// lookAhead is how far ahead, in seconds, the predicted boxes reach.
	lookAhead = 0.5
	// remoteBlend is how far a remote instance moves toward its last sample
	// per reconciliation.
	remoteBlend = 0.5

	engineForce = 9000.0
	brakeForce  = 15000.0
	dragCoeff   = 0.4
	turnRate    = 0.6
	wheelRadius = 0.45
)

// Controls are the driver inputs, each in [-1, 1] (throttle, steer) or
// [0, 1] (brake).
type Controls struct {
	Throttle float64
	Brake    float64
	Steer    float64
}

func (c Controls) clamped() Controls {
	return Controls{
		Throttle: clamp(c.Throttle, -1, 1),
		Brake:    clamp(c.Brake, 0, 1),
		Steer:    clamp(c.Steer, -1, 1),
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

type wheel struct {
	offset geom.Vec3
	load   float64
	spin   float64
}

// Body is a point-mass vehicle with wheels. It stands in for a full
// node/beam solver and drives the sleep counter the way one would.
type Body struct {
	def  *assets.Definition
	env  *Env
	name string

	spawn    geom.Vec3
	velocity geom.Vec3
	heading  float64
	controls Controls
	mass     float64
	clock    float64

	wheels []wheel
	engine *engine
	driver Driver

	remote     vehicle.StreamState
	haveRemote bool

	label  string
	visual geom.Vec3
	closed bool
}

var (
	_ vehicle.Body           = (*Body)(nil)
	_ vehicle.RemoteReceiver = (*Body)(nil)
)

// Speed returns the ground speed in m/s.
func (b *Body) Speed() float64 {
	return math.Hypot(b.velocity.X, b.velocity.Z)
}

func (b *Body) Velocity() geom.Vec3 { return b.velocity }
func (b *Body) Heading() float64    { return b.heading }
func (b *Body) Controls() Controls  { return b.controls }
func (b *Body) Label() string       { return b.label }

// SetControls overrides the driver inputs until the next AI update.
func (b *Body) SetControls(c Controls) { b.controls = c.clamped() }

func (b *Body) forward() geom.Vec3 {
	return geom.Vec3{X: math.Sin(b.heading), Z: math.Cos(b.heading)}
}

func (b *Body) Step(v *vehicle.Instance, dt float64) {
	b.clock += dt
	switch v.State {
	case vehicle.GoSleep:
		v.State = vehicle.Sleeping
		b.velocity = geom.Vec3{}
		return
	case vehicle.Sleeping, vehicle.Networked, vehicle.Recycle, vehicle.NetworkedInvalid:
		return
	}
	if b.engine != nil {
		b.engine.throttle = math.Abs(b.controls.Throttle)
		b.engine.Update(dt, 4)
	}

	speed := b.velocity.Length()
	signed := speed
	if b.velocity.X*b.forward().X+b.velocity.Z*b.forward().Z < 0 {
		signed = -speed
	}
	b.heading += b.controls.Steer * turnRate * signed / math.Max(b.def.HalfExtents[2], 1) * dt

	force := b.controls.Throttle*engineForce - dragCoeff*signed*math.Abs(signed)
	accel := force / b.mass
	next := signed + accel*dt
	if b.controls.Brake > 0 {
		dec := b.controls.Brake * brakeForce / b.mass * dt
		if math.Abs(next) <= dec {
			next = 0
		} else {
			next -= math.Copysign(dec, next)
		}
	}
	if limit := b.def.MaxSpeed; limit > 0 {
		next = clamp(next, -limit, limit)
	}
	b.velocity = b.forward().Scale(next)
	v.Position = v.Position.Add(b.velocity.Scale(dt))
	b.solveWheels(next)
	b.place(v)

	quiet := math.Abs(next) < quietSpeed && b.controls.Throttle == 0
	switch {
	case !quiet:
		v.SleepCount = 0
		if vehicle.IsDormant(v.State) {
			v.Desactivate()
		}
	default:
		v.SleepCount++
		if v.State == vehicle.Desactivated && v.SleepCount > MaySleepAfter {
			v.State = vehicle.MaySleep
		}
	}
}

// solveWheels spreads the wheel updates over the pool. Each wheel only
// writes its own entry.
func (b *Body) solveWheels(speed float64) {
	if len(b.wheels) == 0 {
		return
	}
	load := b.mass * b.env.gravity() / float64(len(b.wheels))
	b.env.pool().Run(len(b.wheels), func(i int) {
		w := &b.wheels[i]
		w.load = load
		w.spin = speed / wheelRadius
	})
}

// place recomputes the current and predicted boxes from the position and
// velocity.
func (b *Body) place(v *vehicle.Instance) {
	half := b.def.Half()
	ahead := b.velocity.Scale(lookAhead)
	v.Box = geom.Around(v.Position, half)
	v.PredictedBox = v.Box.Merge(v.Box.Translate(ahead))

	v.CollBoxes = v.CollBoxes[:0]
	v.PredictedCollBoxes = v.PredictedCollBoxes[:0]
	sin, cos := math.Sin(b.heading), math.Cos(b.heading)
	for _, p := range b.def.Parts {
		off := geom.Vec3{
			X: p.Offset[0]*cos + p.Offset[2]*sin,
			Y: p.Offset[1],
			Z: -p.Offset[0]*sin + p.Offset[2]*cos,
		}
		ph := geom.Vec3{X: p.HalfExtents[0], Y: p.HalfExtents[1], Z: p.HalfExtents[2]}
		box := geom.Around(v.Position.Add(off), ph)
		v.CollBoxes = append(v.CollBoxes, box)
		v.PredictedCollBoxes = append(v.PredictedCollBoxes, box.Merge(box.Translate(ahead)))
	}
}

// PushRemote stores the latest replicated sample. Older samples are ignored.
func (b *Body) PushRemote(s vehicle.StreamState) {
	if b.haveRemote && s.Time < b.remote.Time {
		return
	}
	b.remote = s
	b.haveRemote = true
}

func (b *Body) ReconcileNetwork(v *vehicle.Instance) {
	if !b.haveRemote {
		return
	}
	target := b.remote.Position
	v.Position = v.Position.Add(target.Sub(v.Position).Scale(remoteBlend))
	b.velocity = b.remote.Velocity
	b.heading = b.remote.Heading
	b.place(v)
}

func (b *Body) SendStreamUpdate(v *vehicle.Instance) {
	if b.env.Out == nil {
		return
	}
	b.env.Out.BroadcastStream(vehicle.StreamState{
		Origin:   v.SourceID,
		Stream:   v.StreamID,
		Time:     b.clock,
		Position: v.Position,
		Velocity: b.velocity,
		Heading:  b.heading,
	})
}

func (b *Body) UpdateNetworkInfo(v *vehicle.Instance) {
	b.label = fmt.Sprintf("%s [%d:%d]", b.name, v.SourceID, v.StreamID)
}

func (b *Body) AdvanceVisual(v *vehicle.Instance, dt float64) {
	b.visual = b.visual.Add(v.Position.Sub(b.visual).Scale(math.Min(1, dt*10)))
}

func (b *Body) UpdateLabels(v *vehicle.Instance, dt float64) {
	if b.label == "" {
		b.label = b.name
	}
}

func (b *Body) UpdateAI(v *vehicle.Instance, dt float64) {
	if b.driver == nil || v.Networked {
		return
	}
	c, ok := b.driver.Drive(DriverInput{
		ID:       v.ID,
		Asset:    v.Asset,
		Position: v.Position,
		Velocity: b.velocity,
		Heading:  b.heading,
		Speed:    b.Speed(),
	}, dt)
	if !ok {
		return
	}
	b.controls = c.clamped()
	if b.controls.Throttle != 0 && vehicle.IsDormant(v.State) {
		v.Desactivate()
	}
}

func (b *Body) Reset(v *vehicle.Instance, keepPosition bool) {
	b.velocity = geom.Vec3{}
	b.controls = Controls{}
	if !keepPosition {
		v.Position = b.spawn
	}
	if b.engine != nil {
		b.engine.rpm = b.engine.idle
	}
	b.RecalcMasses(v)
	b.place(v)
}

func (b *Body) RecalcMasses(*vehicle.Instance) {
	b.mass = b.def.Mass
	if len(b.wheels) > 0 {
		load := b.mass * b.env.gravity() / float64(len(b.wheels))
		for i := range b.wheels {
			b.wheels[i].load = load
		}
	}
}

func (b *Body) Close() {
	b.closed = true
	b.driver = nil
}
