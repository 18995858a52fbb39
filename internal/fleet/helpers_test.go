package fleet

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/simfleet/server/internal/core/event"
	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

// assetSet is an AssetChecker that counts lookups.
type assetSet struct {
	mu     sync.Mutex
	names  map[string]bool
	checks int
}

func newAssetSet(names ...string) *assetSet {
	a := &assetSet{names: map[string]bool{}}
	for _, n := range names {
		a.names[n] = true
	}
	return a
}

func (a *assetSet) IsResourceLoaded(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks++
	return a.names[name]
}

// spyBody records calls and flags any call that arrives while a step of
// the same instance is running.
type spyBody struct {
	vehicle.NopBody

	stepping  atomic.Bool
	overlaps  *atomic.Int32
	stepDelay time.Duration
	onStep    func(v *vehicle.Instance, dt float64)

	steps      atomic.Int32
	reconciles int
	sends      int
	netInfo    int
	visuals    int
	labels     int
	resets     int
	masses     int
	closed     int
}

func (b *spyBody) touch() {
	if b.stepping.Load() {
		b.overlaps.Add(1)
	}
}

func (b *spyBody) Step(v *vehicle.Instance, dt float64) {
	b.stepping.Store(true)
	b.steps.Add(1)
	if b.onStep != nil {
		b.onStep(v, dt)
	}
	if b.stepDelay > 0 {
		time.Sleep(b.stepDelay)
	}
	b.stepping.Store(false)
}

func (b *spyBody) ReconcileNetwork(*vehicle.Instance)       { b.touch(); b.reconciles++ }
func (b *spyBody) SendStreamUpdate(*vehicle.Instance)       { b.touch(); b.sends++ }
func (b *spyBody) UpdateNetworkInfo(*vehicle.Instance)      { b.touch(); b.netInfo++ }
func (b *spyBody) AdvanceVisual(*vehicle.Instance, float64) { b.touch(); b.visuals++ }
func (b *spyBody) UpdateLabels(*vehicle.Instance, float64)  { b.touch(); b.labels++ }
func (b *spyBody) Reset(*vehicle.Instance, bool)            { b.touch(); b.resets++ }
func (b *spyBody) RecalcMasses(*vehicle.Instance)           { b.touch(); b.masses++ }
func (b *spyBody) Close()                                   { b.closed++ }

type countingEngine struct{ updates int }

func (e *countingEngine) Update(float64, int) { e.updates++ }

// testFleet wires a Factory to spy bodies.
type testFleet struct {
	*Factory
	bus      *event.Bus
	assets   *assetSet
	bodies   map[int]*spyBody
	builds   int
	overlaps atomic.Int32
	delay    time.Duration
}

func newTestFleet(t *testing.T, opts Options, assets ...string) *testFleet {
	t.Helper()
	tf := &testFleet{
		bus:    event.NewBus(),
		assets: newAssetSet(assets...),
		bodies: map[int]*spyBody{},
	}
	f, err := NewFactory(opts, Deps{
		Log:     zaptest.NewLogger(t),
		Bus:     tf.bus,
		Assets:  tf.assets,
		Builder: vehicle.BuilderFunc(tf.build),
		Regions: NewBoxRegions(),
	})
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	tf.Factory = f
	t.Cleanup(f.Shutdown)
	return tf
}

func (tf *testFleet) build(v *vehicle.Instance, bp vehicle.Blueprint) error {
	tf.builds++
	b := &spyBody{overlaps: &tf.overlaps, stepDelay: tf.delay}
	tf.bodies[v.ID] = b
	v.Body = b
	v.LoadingFinished = true
	placeAt(v, bp.Position)
	return nil
}

func placeAt(v *vehicle.Instance, p geom.Vec3) {
	v.Position = p
	v.Box = geom.Around(p, geom.Vec3{X: 1, Y: 1, Z: 1})
	v.PredictedBox = v.Box
}

func at(x float64) vehicle.Blueprint {
	return vehicle.Blueprint{Asset: "car", Position: geom.Vec3{X: x}}
}

func (tf *testFleet) mustCreate(t *testing.T, bp vehicle.Blueprint) *vehicle.Instance {
	t.Helper()
	v, err := tf.CreateLocal(bp)
	if err != nil {
		t.Fatalf("create local: %v", err)
	}
	return v
}
