package fleet

import (
	"errors"
	"testing"
	"time"

	"github.com/simfleet/server/internal/core/event"
	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

func TestNewFactoryRejectsBadOptions(t *testing.T) {
	if _, err := NewFactory(Options{MaxInstances: -1}, Deps{Assets: newAssetSet(), Builder: vehicle.BuilderFunc(func(*vehicle.Instance, vehicle.Blueprint) error { return nil })}); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
	if _, err := NewFactory(Options{}, Deps{Assets: newAssetSet()}); err == nil {
		t.Fatalf("expected error without builder")
	}
}

func TestRegistryFullLeavesStateUnchanged(t *testing.T) {
	const n = 4
	tf := newTestFleet(t, Options{MaxInstances: n})
	for i := 0; i < n; i++ {
		tf.mustCreate(t, at(float64(i*10)))
	}
	bound, live, keys := tf.Registry().Bound(), tf.Registry().Len(), tf.Streams().Len()
	if _, err := tf.CreateLocal(at(100)); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("err=%v want ErrRegistryFull", err)
	}
	if tf.Registry().Bound() != bound || tf.Registry().Len() != live || tf.Streams().Len() != keys {
		t.Fatalf("state changed on full registry")
	}
	if tf.builds != n {
		t.Fatalf("builds=%d want=%d", tf.builds, n)
	}
}

func TestCreateLocalRegistersStream(t *testing.T) {
	tf := newTestFleet(t, Options{Networking: true})
	tf.mustCreate(t, at(0))
	v := tf.mustCreate(t, at(10))
	if v.ID != 1 || v.StreamID != vehicle.LocalStreamOffset+1 || v.SourceID != vehicle.LocalOrigin {
		t.Fatalf("id=%d origin=%d stream=%d", v.ID, v.SourceID, v.StreamID)
	}
	got, ok := tf.Resolve(vehicle.LocalOrigin, vehicle.LocalStreamOffset+1)
	if !ok || got != v {
		t.Fatalf("resolve local stream failed")
	}
	if !v.Networking || tf.bodies[v.ID].netInfo != 1 {
		t.Fatalf("networking=%v netInfo=%d", v.Networking, tf.bodies[v.ID].netInfo)
	}
}

func TestSlideNodeLockInstant(t *testing.T) {
	tf := newTestFleet(t, Options{})
	tf.Factory.builder = vehicle.BuilderFunc(func(v *vehicle.Instance, bp vehicle.Blueprint) error {
		v.SlideNodeLockInstant = true
		return nil
	})
	v := tf.mustCreate(t, at(0))
	if !v.SlideNodeLock {
		t.Fatalf("slide nodes should be locked after spawn")
	}
}

func TestReleaseFreesSlotAndStream(t *testing.T) {
	tf := newTestFleet(t, Options{})
	v := tf.mustCreate(t, at(0))
	body := tf.bodies[v.ID]
	stream := v.StreamID
	if !tf.Release(v.ID) {
		t.Fatalf("release failed")
	}
	if _, ok := tf.Get(v.ID); ok {
		t.Fatalf("released slot still live")
	}
	if _, ok := tf.Resolve(vehicle.LocalOrigin, stream); ok {
		t.Fatalf("released instance still resolvable")
	}
	if body.closed != 1 {
		t.Fatalf("closed=%d want=1", body.closed)
	}
	if tf.Release(v.ID) {
		t.Fatalf("second release must report false")
	}
	removed := event.Pending[event.InstanceRemoved](tf.bus)
	if len(removed) != 1 || removed[0].ID != v.ID {
		t.Fatalf("removed events=%+v", removed)
	}
}

func TestRemovingFocusEmitsOnce(t *testing.T) {
	tf := newTestFleet(t, Options{})
	a := tf.mustCreate(t, at(0))
	tf.mustCreate(t, at(10))
	if !tf.SetCurrent(a.ID) {
		t.Fatalf("set current failed")
	}
	tf.bus.SwapBuffers()

	if !tf.RemoveCurrent() {
		t.Fatalf("remove current failed")
	}
	focus := event.Pending[event.FocusChanged](tf.bus)
	if len(focus) != 1 {
		t.Fatalf("focus events=%+v want exactly one", focus)
	}
	if focus[0] != (event.FocusChanged{Prev: a.ID, Next: NoInstance}) {
		t.Fatalf("focus event=%+v", focus[0])
	}
	if tf.CurrentID() != NoInstance {
		t.Fatalf("current=%d", tf.CurrentID())
	}
}

func TestSetCurrentDesactivatesPrevious(t *testing.T) {
	tf := newTestFleet(t, Options{})
	a := tf.mustCreate(t, at(0))
	b := tf.mustCreate(t, at(10))
	tf.SetCurrent(a.ID)
	a.SleepCount = 3
	tf.SetCurrent(b.ID)
	if a.State != vehicle.Desactivated || a.SleepCount != 0 {
		t.Fatalf("previous focus state=%v sleep=%d", a.State, a.SleepCount)
	}
	if b.State != vehicle.Activated || tf.PreviousID() != a.ID {
		t.Fatalf("focus state=%v previous=%d", b.State, tf.PreviousID())
	}
	if tf.SetCurrent(42) {
		t.Fatalf("focusing an empty slot must fail")
	}
}

func TestEnterRescue(t *testing.T) {
	tf := newTestFleet(t, Options{})
	tf.mustCreate(t, at(0))
	r := tf.mustCreate(t, at(10))
	r.Rescuer = true
	tf.bus.SwapBuffers()
	if !tf.EnterRescue() {
		t.Fatalf("no rescuer found")
	}
	if tf.CurrentID() != r.ID {
		t.Fatalf("current=%d want=%d", tf.CurrentID(), r.ID)
	}
	focus := event.Pending[event.FocusChanged](tf.bus)
	if len(focus) != 2 || focus[0].Next != NoInstance || focus[1].Next != r.ID {
		t.Fatalf("focus events=%+v", focus)
	}
}

func TestActivateAllAndSendAllSleeping(t *testing.T) {
	tf := newTestFleet(t, Options{})
	a := tf.mustCreate(t, at(0))
	b := tf.mustCreate(t, at(50))
	a.State, b.State = vehicle.Sleeping, vehicle.MaySleep
	tf.ActivateAll()
	if a.State != vehicle.Desactivated || b.State != vehicle.Desactivated || !tf.ForceActive() {
		t.Fatalf("after activate all: %v %v force=%v", a.State, b.State, tf.ForceActive())
	}
	tf.SendAllSleeping()
	if a.State != vehicle.Sleeping || b.State != vehicle.Sleeping || tf.ForceActive() {
		t.Fatalf("after send sleeping: %v %v force=%v", a.State, b.State, tf.ForceActive())
	}
}

func TestCalcPhysicsClampsDt(t *testing.T) {
	tf := newTestFleet(t, Options{})
	var got []float64
	v := tf.mustCreate(t, at(0))
	tf.bodies[v.ID].onStep = func(_ *vehicle.Instance, dt float64) { got = append(got, dt) }
	tf.CalcPhysics(1)
	tf.CalcPhysics(0.01)
	if len(got) != 2 || got[0] != DefaultMaxStep || got[1] != 0.01 {
		t.Fatalf("dts=%v", got)
	}
	step := float64(DefaultMaxStep)
	if want := step + 0.01; tf.SimTime() != want {
		t.Fatalf("sim time=%v want=%v", tf.SimTime(), want)
	}
}

func TestCalcPhysicsBranchesOnState(t *testing.T) {
	tf := newTestFleet(t, Options{Networking: true}, "car")
	awake := tf.mustCreate(t, at(0))
	sleeper := tf.mustCreate(t, at(100))
	sleeper.State = vehicle.Sleeping
	sleeper.SleepCount = 50
	eng := &countingEngine{}
	sleeper.Engine = eng
	recycled := tf.mustCreate(t, at(200))
	recycled.State = vehicle.Recycle
	remote, err := tf.RegisterRemote(Registration{Origin: 7, Stream: 1, Asset: "car"})
	if err != nil {
		t.Fatalf("register remote: %v", err)
	}

	tf.CalcPhysics(0.01)

	if n := tf.bodies[awake.ID].steps.Load(); n != 1 {
		t.Fatalf("awake steps=%d", n)
	}
	if tf.bodies[awake.ID].sends != 1 {
		t.Fatalf("awake sends=%d", tf.bodies[awake.ID].sends)
	}
	if tf.bodies[sleeper.ID].steps.Load() != 0 || eng.updates != 1 || tf.bodies[sleeper.ID].sends != 1 {
		t.Fatalf("sleeper steps=%d engine=%d sends=%d",
			tf.bodies[sleeper.ID].steps.Load(), eng.updates, tf.bodies[sleeper.ID].sends)
	}
	if b := tf.bodies[recycled.ID]; b.steps.Load() != 0 || b.sends != 0 {
		t.Fatalf("recycled instance was touched")
	}
	if b := tf.bodies[remote.ID]; b.reconciles != 1 || b.steps.Load() != 0 {
		t.Fatalf("remote reconciles=%d steps=%d", b.reconciles, b.steps.Load())
	}
}

func TestLeadIsFocusWhenAwake(t *testing.T) {
	tf := newTestFleet(t, Options{})
	a := tf.mustCreate(t, at(0))
	b := tf.mustCreate(t, at(100))
	var order []int
	for _, v := range []*vehicle.Instance{a, b} {
		tf.bodies[v.ID].onStep = func(v *vehicle.Instance, _ float64) { order = append(order, v.ID) }
	}
	tf.SetCurrent(b.ID)
	tf.CalcPhysics(0.01)
	if len(order) != 2 || order[0] != b.ID {
		t.Fatalf("step order=%v want focus first", order)
	}
}

// Every body flags calls that arrive while its own step is running. The
// step is slowed down to widen the window.
func TestOrchestratorNeverTouchesSteppingInstance(t *testing.T) {
	for _, async := range []bool{false, true} {
		tf := newTestFleet(t, Options{Networking: true, AsyncPhysics: async}, "car")
		tf.delay = 200 * time.Microsecond
		for i := 0; i < 4; i++ {
			tf.mustCreate(t, at(float64(i*100)))
		}
		sleeper := tf.mustCreate(t, at(1000))
		sleeper.State = vehicle.Sleeping
		sleeper.SleepCount = 50
		sleeper.Engine = &countingEngine{}
		if _, err := tf.RegisterRemote(Registration{Origin: 3, Stream: 1, Asset: "car"}); err != nil {
			t.Fatalf("register remote: %v", err)
		}
		tf.SetCurrent(2)

		for tick := 0; tick < 40; tick++ {
			tf.CalcPhysics(0.016)
			tf.UpdateVisual(0.016)
			tf.NetUserAttributesChanged(3, 1)
		}
		tf.WaitForSync()
		if n := tf.overlaps.Load(); n != 0 {
			t.Fatalf("async=%v: %d calls overlapped a running step", async, n)
		}
		if n := tf.bodies[2].steps.Load(); n != 40 {
			t.Fatalf("async=%v: focus steps=%d want=40", async, n)
		}
	}
}

func TestSingleThreadedStepsInline(t *testing.T) {
	tf := newTestFleet(t, Options{SingleThreaded: true})
	v := tf.mustCreate(t, at(0))
	tf.CalcPhysics(0.01)
	if tf.bodies[v.ID].steps.Load() != 1 {
		t.Fatalf("steps=%d", tf.bodies[v.ID].steps.Load())
	}
	if tf.worker.Busy() {
		t.Fatalf("inline worker reported busy")
	}
}

type recorderFunc func(simTime, dt float64, insts []*vehicle.Instance)

func (f recorderFunc) Update(simTime, dt float64, insts []*vehicle.Instance) { f(simTime, dt, insts) }

func TestRecorderSeesCompletedStep(t *testing.T) {
	tf := newTestFleet(t, Options{})
	v := tf.mustCreate(t, at(0))
	tf.bodies[v.ID].onStep = func(v *vehicle.Instance, dt float64) {
		v.Position.X += 1
	}
	var seen []float64
	tf.recorder = recorderFunc(func(_, _ float64, insts []*vehicle.Instance) {
		seen = append(seen, insts[0].Position.X)
	})
	tf.CalcPhysics(0.01)
	tf.CalcPhysics(0.01)
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("recorded positions=%v", seen)
	}
}

func TestRegionQueries(t *testing.T) {
	tf := newTestFleet(t, Options{})
	regions := NewBoxRegions(
		Region{Instance: "garage", Name: "bay", Box: geom.NewAABB(geom.Vec3{X: -5, Y: -5, Z: -5}, geom.Vec3{X: 5, Y: 5, Z: 5})},
	)
	tf.regions = regions
	a := tf.mustCreate(t, at(0))
	if id, err := tf.FindInsideRegion("garage", "bay"); err != nil || id != a.ID {
		t.Fatalf("find=%d err=%v", id, err)
	}
	if !tf.RepairInRegion("garage", "bay", true) || tf.bodies[a.ID].resets != 1 {
		t.Fatalf("repair did not reset")
	}
	b := tf.mustCreate(t, at(3))
	if _, err := tf.FindInsideRegion("garage", "bay"); !errors.Is(err, ErrAmbiguousRegion) {
		t.Fatalf("err=%v want ErrAmbiguousRegion", err)
	}
	if tf.RemoveInRegion("garage", "bay") {
		t.Fatalf("ambiguous removal must not remove anything")
	}
	tf.Release(a.ID)
	if !tf.RemoveInRegion("garage", "bay") {
		t.Fatalf("remove in region failed")
	}
	if _, ok := tf.Get(b.ID); ok {
		t.Fatalf("b still live")
	}
	if _, err := tf.FindInsideRegion("garage", "pit"); !errors.Is(err, ErrNoInstanceInRegion) {
		t.Fatalf("err=%v want ErrNoInstanceInRegion", err)
	}
}

func TestRecalcAndAI(t *testing.T) {
	tf := newTestFleet(t, Options{})
	a := tf.mustCreate(t, at(0))
	tf.RecalcGravityMasses()
	tf.UpdateAI(0.1)
	if tf.bodies[a.ID].masses != 1 {
		t.Fatalf("masses=%d", tf.bodies[a.ID].masses)
	}
}

func TestUpdateVisualSkipsSleeping(t *testing.T) {
	tf := newTestFleet(t, Options{})
	a := tf.mustCreate(t, at(0))
	b := tf.mustCreate(t, at(100))
	b.State = vehicle.Sleeping
	tf.UpdateVisual(0.016)
	if tf.bodies[a.ID].visuals != 1 || tf.bodies[b.ID].visuals != 0 {
		t.Fatalf("visuals a=%d b=%d", tf.bodies[a.ID].visuals, tf.bodies[b.ID].visuals)
	}
	if tf.bodies[b.ID].labels != 1 {
		t.Fatalf("labels must update while asleep")
	}
}
