package vehicle

import "github.com/simfleet/server/internal/geom"

// Body is the per-instance integrator and presentation collaborator. Its
// internals (node/beam solver, visuals, network encoding) live elsewhere; the
// factory only calls these entry points.
type Body interface {
	// Step advances the physics by dt. It updates the instance's bounding
	// boxes, position and sleep state. Called on the worker goroutine.
	Step(v *Instance, dt float64)
	// ReconcileNetwork moves a Networked instance toward its last received
	// remote state.
	ReconcileNetwork(v *Instance)
	// SendStreamUpdate publishes a local instance's state to peers.
	SendStreamUpdate(v *Instance)
	UpdateNetworkInfo(v *Instance)

	AdvanceVisual(v *Instance, dt float64)
	UpdateLabels(v *Instance, dt float64)
	UpdateAI(v *Instance, dt float64)

	// Reset restores the pristine structure, optionally at the current spot.
	Reset(v *Instance, keepPosition bool)
	RecalcMasses(v *Instance)

	// Close releases everything the body owns. Called once, after the
	// instance has left its slot.
	Close()
}

// Engine is an optional propulsion component that ticks even while the
// instance sleeps.
type Engine interface {
	Update(dt float64, substeps int)
}

// Builder constructs the collaborators of a freshly allocated instance. It
// sets Body, and optionally Engine, Rescuer, initial boxes and load flags.
type Builder interface {
	Build(v *Instance, bp Blueprint) error
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(v *Instance, bp Blueprint) error

func (f BuilderFunc) Build(v *Instance, bp Blueprint) error { return f(v, bp) }

// NopBody implements Body with no behaviour. Embed it to override a subset.
type NopBody struct{}

func (NopBody) Step(*Instance, float64)          {}
func (NopBody) ReconcileNetwork(*Instance)       {}
func (NopBody) SendStreamUpdate(*Instance)       {}
func (NopBody) UpdateNetworkInfo(*Instance)      {}
func (NopBody) AdvanceVisual(*Instance, float64) {}
func (NopBody) UpdateLabels(*Instance, float64)  {}
func (NopBody) UpdateAI(*Instance, float64)      {}
func (NopBody) Reset(*Instance, bool)            {}
func (NopBody) RecalcMasses(*Instance)           {}
func (NopBody) Close()                           {}

// StreamState is one replicated sample of an instance's motion.
type StreamState struct {
	Origin   int32
	Stream   int32
	Time     float64
	Position geom.Vec3
	Velocity geom.Vec3
	Heading  float64
}

// RemoteReceiver is implemented by bodies that accept replicated samples
// for a Networked instance.
type RemoteReceiver interface {
	PushRemote(s StreamState)
}

// Broadcaster publishes local stream samples to peers.
type Broadcaster interface {
	BroadcastStream(s StreamState)
}
