package kinematic

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/simfleet/server/internal/assets"
	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

// ErrUnknownAsset is returned when a blueprint names an asset the catalog
// does not have.
var ErrUnknownAsset = errors.New("unknown asset")

// DefaultGravity in m/s².
const DefaultGravity = 9.81

// Parallel runs fn for every index in [0, n) and returns when all are done.
type Parallel interface {
	Run(n int, fn func(i int))
}

type serial struct{}

func (serial) Run(n int, fn func(i int)) {
	for i := 0; i < n; i++ {
		fn(i)
	}
}

// Driver steers an instance. ok=false leaves the controls unchanged.
type Driver interface {
	Drive(in DriverInput, dt float64) (c Controls, ok bool)
}

// DriverInput is what a driver sees of its vehicle.
type DriverInput struct {
	ID       int
	Asset    string
	Position geom.Vec3
	Velocity geom.Vec3
	Heading  float64
	Speed    float64
}

// Env is shared by every body a Builder makes.
type Env struct {
	Pool Parallel
	Out  vehicle.Broadcaster
	// Driver is attached to local instances; nil means no AI.
	Driver Driver

	gravityBits atomic.Uint64
}

// SetGravity changes gravity for the next RecalcMasses.
func (e *Env) SetGravity(g float64) { e.gravityBits.Store(math.Float64bits(g)) }

func (e *Env) gravity() float64 {
	if g := math.Float64frombits(e.gravityBits.Load()); g != 0 {
		return g
	}
	return DefaultGravity
}

func (e *Env) pool() Parallel {
	if e.Pool == nil {
		return serial{}
	}
	return e.Pool
}

// Builder makes kinematic bodies for assets in a catalog.
type Builder struct {
	catalog *assets.Catalog
	env     *Env
}

var _ vehicle.Builder = (*Builder)(nil)

func NewBuilder(catalog *assets.Catalog, env *Env) *Builder {
	if env == nil {
		env = &Env{}
	}
	return &Builder{catalog: catalog, env: env}
}

func (b *Builder) Env() *Env { return b.env }

func (b *Builder) Build(v *vehicle.Instance, bp vehicle.Blueprint) error {
	def, ok := b.catalog.Lookup(bp.Asset)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAsset, bp.Asset)
	}
	body := &Body{
		def:     def,
		env:     b.env,
		name:    def.Name,
		heading: bp.Heading,
		mass:    def.Mass,
	}
	if !bp.Networked {
		body.driver = b.env.Driver
	}
	if def.Engine {
		body.engine = newEngine()
		v.Engine = body.engine
	}
	body.wheels = make([]wheel, def.Wheels)
	for i := range body.wheels {
		side := 1.0
		if i%2 == 1 {
			side = -1
		}
		axle := float64(i/2) - float64(def.Wheels-1)/4
		body.wheels[i].offset = geom.Vec3{
			X: side * def.HalfExtents[0],
			Y: -def.HalfExtents[1],
			Z: axle * def.HalfExtents[2],
		}
	}

	pos := bp.Position
	if bp.SpawnBox != nil && !bp.FreePosition {
		c := bp.SpawnBox.Center()
		pos = geom.Vec3{X: c.X, Y: bp.SpawnBox.Min.Y + def.HalfExtents[1], Z: c.Z}
	}
	v.Position = pos
	body.spawn = pos
	body.visual = pos

	v.Body = body
	v.Rescuer = def.Rescuer
	v.SlideNodeLockInstant = def.SlideNodeLock || bp.LockSlideNodes
	body.RecalcMasses(v)
	body.place(v)
	v.LoadingFinished = true
	return nil
}
