package fleet

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/simfleet/server/internal/core/event"
	"github.com/simfleet/server/internal/vehicle"
)

// NoInstance is the id meaning "no instance".
const NoInstance = event.NoInstance

// DefaultMaxInstances is the registry capacity when none is configured.
const DefaultMaxInstances = 5000

// DefaultMaxStep is the largest dt a single tick may advance, in seconds.
const DefaultMaxStep = 1.0 / 20.0

// AssetChecker reports whether an asset can be spawned locally.
type AssetChecker interface {
	IsResourceLoaded(name string) bool
}

// Recorder samples the fleet after each completed step.
type Recorder interface {
	Update(simTime, dt float64, insts []*vehicle.Instance)
}

// Options configures a Factory.
type Options struct {
	MaxInstances int
	// SingleThreaded steps on the tick goroutine instead of the worker.
	SingleThreaded bool
	// AsyncPhysics returns from CalcPhysics while the step is still
	// running. The post-step work runs at the next barrier.
	AsyncPhysics bool
	MaxStep      float64
	// Networking marks locally created instances as stream senders.
	Networking bool
	CellSize   float64
}

// Deps are the collaborators of a Factory.
type Deps struct {
	Log      *zap.Logger
	Bus      *event.Bus
	Assets   AssetChecker
	Builder  vehicle.Builder
	Regions  RegionQuery
	Recorder Recorder
}

// Factory owns the instance registry, the stream table and the physics
// worker, and runs the per-tick orchestration. Apart from QueueRegister and
// QueueDelete every method belongs to the tick goroutine.
type Factory struct {
	opts Options
	log  *zap.Logger
	bus  *event.Bus

	assets   AssetChecker
	builder  vehicle.Builder
	regions  RegionQuery
	recorder Recorder

	reg        *Registry
	streams    *StreamTable
	worker     *Worker
	activation *Activation

	current     int
	previous    int
	forceActive bool
	simTime     float64
	frame       uint64

	// Work left over from an async step, run by sync.
	pending   bool
	pendingDt float64

	group   []*vehicle.Instance
	inGroup []bool
	scratch []*vehicle.Instance

	queueMu sync.Mutex
	queue   []streamOp
}

// NewFactory validates opts and starts the worker. An error here is fatal to
// startup.
func NewFactory(opts Options, deps Deps) (*Factory, error) {
	if opts.MaxInstances == 0 {
		opts.MaxInstances = DefaultMaxInstances
	}
	if opts.MaxInstances < 0 {
		return nil, fmt.Errorf("fleet: max instances %d", opts.MaxInstances)
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = DefaultMaxStep
	}
	if opts.CellSize <= 0 {
		opts.CellSize = DefaultCellSize
	}
	if deps.Builder == nil {
		return nil, errors.New("fleet: no instance builder")
	}
	if deps.Assets == nil {
		return nil, errors.New("fleet: no asset checker")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	f := &Factory{
		opts:       opts,
		log:        deps.Log,
		bus:        deps.Bus,
		assets:     deps.Assets,
		builder:    deps.Builder,
		regions:    deps.Regions,
		recorder:   deps.Recorder,
		reg:        NewRegistry(opts.MaxInstances),
		streams:    NewStreamTable(),
		activation: NewActivation(opts.CellSize),
		current:    NoInstance,
		previous:   NoInstance,
	}
	f.worker = NewWorker(stepGroup, opts.SingleThreaded, f.log)
	return f, nil
}

// stepGroup is the worker's job: advance every instance of the group.
func stepGroup(group []*vehicle.Instance, dt float64) {
	for _, v := range group {
		v.Body.Step(v, dt)
	}
}

func (f *Factory) Registry() *Registry   { return f.reg }
func (f *Factory) Streams() *StreamTable { return f.streams }
func (f *Factory) SimTime() float64      { return f.simTime }
func (f *Factory) Frame() uint64         { return f.frame }
func (f *Factory) ForceActive() bool     { return f.forceActive }

// Get returns the live instance in slot id.
func (f *Factory) Get(id int) (*vehicle.Instance, bool) { return f.reg.Get(id) }

// Current returns the focused instance.
func (f *Factory) Current() (*vehicle.Instance, bool) { return f.reg.Get(f.current) }

func (f *Factory) CurrentID() int  { return f.current }
func (f *Factory) PreviousID() int { return f.previous }

// sync is the barrier: it waits for the worker and finishes any deferred
// post-step work. Every operation that touches instance state calls it first.
func (f *Factory) sync() {
	f.worker.WaitForSync()
	if f.pending {
		f.pending = false
		f.postStep(f.pendingDt)
	}
}

// WaitForSync blocks until no step is in flight.
func (f *Factory) WaitForSync() { f.sync() }

// spawnLocked allocates a slot and builds an instance in it. Stream table
// lock held.
func (f *Factory) spawnLocked(bp vehicle.Blueprint, origin, stream int32) (*vehicle.Instance, error) {
	id, err := f.reg.Allocate()
	if err != nil {
		f.log.Warn("instance dropped: registry full",
			zap.String("asset", bp.Asset),
			zap.Int("capacity", f.reg.Cap()),
		)
		return nil, ErrRegistryFull
	}
	if origin == vehicle.LocalOrigin {
		stream = vehicle.LocalStreamOffset + int32(id)
	}
	v := &vehicle.Instance{
		ID:         id,
		Asset:      bp.Asset,
		Config:     bp.Config,
		Position:   bp.Position,
		SourceID:   origin,
		StreamID:   stream,
		Networked:  bp.Networked,
		Networking: bp.Networking,
		Body:       vehicle.NopBody{},
	}
	if bp.Networked {
		v.State = vehicle.Networked
	}
	if err := f.builder.Build(v, bp); err != nil {
		f.reg.Cancel(id)
		return nil, fmt.Errorf("build %s: %w", bp.Asset, err)
	}
	if v.SlideNodeLockInstant {
		v.SlideNodeLock = !v.SlideNodeLock
	}
	f.reg.Fill(v)
	event.Emit(f.bus, event.InstanceSpawned{
		ID:        id,
		Asset:     v.Asset,
		SourceID:  origin,
		StreamID:  stream,
		Networked: v.Networked,
	})
	event.Emit(f.bus, event.InstanceListChanged{})
	return v, nil
}

// CreateLocal builds a locally simulated instance and registers its stream.
func (f *Factory) CreateLocal(bp vehicle.Blueprint) (*vehicle.Instance, error) {
	f.sync()
	bp.Networked = false
	bp.Networking = bp.Networking || f.opts.Networking

	f.streams.Lock()
	defer f.streams.Unlock()
	v, err := f.spawnLocked(bp, vehicle.LocalOrigin, 0)
	if err != nil {
		return nil, err
	}
	f.registerLocalLocked(v)
	if v.Networking {
		v.Body.UpdateNetworkInfo(v)
	}
	woken := f.wakeOverlapping(v)
	f.log.Info("instance created",
		zap.Int("slot", v.ID),
		zap.String("asset", v.Asset),
		zap.Int("woken", woken),
	)
	return v, nil
}

// Overlapping returns the live instances whose current volume intersects
// that of instance id.
func (f *Factory) Overlapping(id int) []int {
	f.sync()
	v, ok := f.reg.Get(id)
	if !ok {
		return nil
	}
	var out []int
	f.reg.Each(func(o *vehicle.Instance) {
		if o.ID != id && currentOverlap(v, o) {
			out = append(out, o.ID)
		}
	})
	return out
}

// wakeOverlapping desactivates the dormant local instances a new instance
// was dropped onto.
func (f *Factory) wakeOverlapping(v *vehicle.Instance) int {
	n := 0
	for _, id := range f.Overlapping(v.ID) {
		o, _ := f.reg.Get(id)
		if !o.Networked && vehicle.IsDormant(o.State) {
			o.Desactivate()
			n++
		}
	}
	return n
}

// Release destroys the instance in slot id after the worker barrier. The
// focus is cleared first if it pointed there. Returns false for stale ids.
func (f *Factory) Release(id int) bool {
	f.streams.Lock()
	defer f.streams.Unlock()
	return f.releaseLocked(id)
}

func (f *Factory) releaseLocked(id int) bool {
	f.sync()
	v, ok := f.reg.Get(id)
	if !ok {
		return false
	}
	if f.current == id {
		f.setCurrent(NoInstance)
	}
	if h, ok := f.reg.Handle(id); ok {
		f.streams.forgetLocked(h)
	}
	f.reg.take(id)
	v.Body.Close()

	event.Emit(f.bus, event.InstanceRemoved{
		ID:       id,
		Asset:    v.Asset,
		SourceID: v.SourceID,
		StreamID: v.StreamID,
	})
	event.Emit(f.bus, event.InstanceListChanged{})
	f.log.Info("instance removed",
		zap.Int("slot", id),
		zap.String("asset", v.Asset),
	)
	return true
}

// RemoveCurrent releases the focused instance.
func (f *Factory) RemoveCurrent() bool {
	if f.current == NoInstance {
		return false
	}
	return f.Release(f.current)
}

// SetCurrent moves the focus. The old focus keeps simulating without
// leading; the new one leads. NoInstance clears the focus.
func (f *Factory) SetCurrent(id int) bool {
	f.sync()
	if id != NoInstance {
		if _, ok := f.reg.Get(id); !ok {
			return false
		}
	}
	f.setCurrent(id)
	return true
}

func (f *Factory) setCurrent(id int) {
	if v, ok := f.reg.Get(f.current); ok && !v.Networked {
		v.Desactivate()
	}
	f.previous = f.current
	f.current = id
	if v, ok := f.reg.Get(id); ok && !v.Networked {
		v.State = vehicle.Activated
		v.SleepCount = 0
	}
	event.Emit(f.bus, event.FocusChanged{Prev: f.previous, Next: f.current})
}

// EnterRescue focuses the first rescue-capable instance.
func (f *Factory) EnterRescue() bool {
	f.sync()
	target := NoInstance
	f.reg.Each(func(v *vehicle.Instance) {
		if target == NoInstance && v.Rescuer {
			target = v.ID
		}
	})
	if target == NoInstance {
		return false
	}
	f.setCurrent(NoInstance)
	f.setCurrent(target)
	return true
}

// ActivateAll wakes every local instance and keeps the sleep pass off until
// SendAllSleeping.
func (f *Factory) ActivateAll() {
	f.sync()
	f.forceActive = true
	f.reg.Each(func(v *vehicle.Instance) {
		if v.State == vehicle.Desactivated || vehicle.IsDormant(v.State) {
			v.Desactivate()
		}
	})
}

// SendAllSleeping puts every local instance to sleep and re-enables the
// sleep pass.
func (f *Factory) SendAllSleeping() {
	f.sync()
	f.forceActive = false
	f.reg.Each(func(v *vehicle.Instance) {
		if vehicle.IsAwake(v.State) || v.State == vehicle.MaySleep || v.State == vehicle.GoSleep {
			v.State = vehicle.Sleeping
		}
	})
}

func (f *Factory) RecalcGravityMasses() {
	f.sync()
	f.reg.Each(func(v *vehicle.Instance) {
		v.Body.RecalcMasses(v)
	})
}

// UpdateVisual advances presentation: labels for everyone, visuals for
// loaded instances that are not asleep.
func (f *Factory) UpdateVisual(dt float64) {
	f.sync()
	f.reg.Each(func(v *vehicle.Instance) {
		v.Body.UpdateLabels(v, dt)
		if v.State != vehicle.Sleeping && v.LoadingFinished {
			v.Body.AdvanceVisual(v, dt)
		}
	})
}

func (f *Factory) UpdateAI(dt float64) {
	f.sync()
	f.reg.Each(func(v *vehicle.Instance) {
		v.Body.UpdateAI(v, dt)
	})
}

// selectLead picks the instance to step: the focus when awake, otherwise the
// first awake instance.
func (f *Factory) selectLead() int {
	if v, ok := f.reg.Get(f.current); ok && vehicle.IsAwake(v.State) {
		return f.current
	}
	lead := NoInstance
	f.reg.Each(func(v *vehicle.Instance) {
		if lead == NoInstance && vehicle.IsAwake(v.State) {
			lead = v.ID
		}
	})
	return lead
}

// collectGroup builds the step group: the lead first, then every other
// simulated local instance. Sleep candidates are stepped too so a GoSleep
// instance falls asleep on its next step.
func (f *Factory) collectGroup(lead int) {
	f.group = f.group[:0]
	f.inGroup = resetBools(f.inGroup, f.reg.Bound())
	if v, ok := f.reg.Get(lead); ok {
		f.group = append(f.group, v)
		f.inGroup[lead] = true
	}
	f.reg.Each(func(v *vehicle.Instance) {
		if v.ID != lead && !v.Networked && vehicle.IsSimulated(v.State) {
			f.group = append(f.group, v)
			f.inGroup[v.ID] = true
		}
	})
}

// CalcPhysics runs one tick: pick and dispatch the step group, give every
// other instance its light update, then, after the barrier, publish the
// stepped instances and reconcile sleep states.
func (f *Factory) CalcPhysics(dt float64) {
	f.sync()
	f.frame++
	dt = math.Min(dt, f.opts.MaxStep)
	f.simTime += dt

	lead := f.selectLead()
	f.collectGroup(lead)
	group := f.group
	if len(group) > 0 {
		f.worker.Dispatch(group, dt)
	}

	f.reg.Each(func(v *vehicle.Instance) {
		if f.inGroup[v.ID] {
			return
		}
		switch v.State {
		case vehicle.Networked:
			v.Body.ReconcileNetwork(v)
		case vehicle.Recycle, vehicle.NetworkedInvalid:
		default:
			if v.Engine != nil && !vehicle.IsAwake(v.State) {
				v.Engine.Update(dt, 1)
			}
			if v.Networking {
				v.Body.SendStreamUpdate(v)
			}
		}
	})

	if f.opts.AsyncPhysics && len(group) > 0 {
		f.pending = true
		f.pendingDt = dt
		return
	}
	f.worker.WaitForSync()
	f.postStep(dt)
}

// postStep publishes the stepped instances and reconciles sleep states. The
// focus is the primary of the wake pass, whichever instance led the step.
func (f *Factory) postStep(dt float64) {
	for _, v := range f.group {
		if v.Networking {
			v.Body.SendStreamUpdate(v)
		}
	}
	f.scratch = f.reg.Snapshot(f.scratch)
	if f.recorder != nil {
		f.recorder.Update(f.simTime, dt, f.scratch)
	}
	f.activation.Reconcile(f.scratch, f.current, f.forceActive)
}

// Shutdown waits for the worker and stops it. Call once, from the tick
// goroutine, after the last CalcPhysics.
func (f *Factory) Shutdown() {
	f.sync()
	f.worker.Close()
	f.log.Info("fleet stopped",
		zap.Int("instances", f.reg.Len()),
		zap.Uint64("frames", f.frame),
	)
}
