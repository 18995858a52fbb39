package kinematic

import (
	"errors"
	"math"
	"testing"

	"github.com/simfleet/server/internal/assets"
	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

func testCatalog() *assets.Catalog {
	return assets.NewCatalog(
		assets.Definition{
			Name:        "truck",
			Driveable:   "truck",
			HalfExtents: [3]float64{1.2, 1.5, 4},
			Mass:        8000,
			Engine:      true,
			Wheels:      6,
			MaxSpeed:    30,
			Parts: []assets.Part{
				{Offset: [3]float64{0, 0, 2}, HalfExtents: [3]float64{1.2, 1.5, 2}},
				{Offset: [3]float64{0, 0, -2}, HalfExtents: [3]float64{1.2, 1, 2}},
			},
		},
		assets.Definition{
			Name:          "tow",
			HalfExtents:   [3]float64{1, 1, 2},
			Rescuer:       true,
			SlideNodeLock: true,
		},
	)
}

type countingPool struct{ calls, items int }

func (p *countingPool) Run(n int, fn func(i int)) {
	p.calls++
	for i := 0; i < n; i++ {
		p.items++
		fn(i)
	}
}

type fixedDriver struct{ c Controls }

func (d fixedDriver) Drive(DriverInput, float64) (Controls, bool) { return d.c, true }

type sink struct{ got []vehicle.StreamState }

func (s *sink) BroadcastStream(st vehicle.StreamState) { s.got = append(s.got, st) }

func build(t *testing.T, env *Env, bp vehicle.Blueprint) (*vehicle.Instance, *Body) {
	t.Helper()
	v := &vehicle.Instance{ID: 1, Asset: bp.Asset}
	if err := NewBuilder(testCatalog(), env).Build(v, bp); err != nil {
		t.Fatalf("build: %v", err)
	}
	return v, v.Body.(*Body)
}

func TestBuildFromCatalog(t *testing.T) {
	v, b := build(t, &Env{}, vehicle.Blueprint{Asset: "truck", Position: geom.Vec3{X: 5}})
	if v.Engine == nil || len(b.wheels) != 6 || !v.LoadingFinished {
		t.Fatalf("engine=%v wheels=%d loaded=%v", v.Engine, len(b.wheels), v.LoadingFinished)
	}
	if len(v.CollBoxes) != 2 || len(v.PredictedCollBoxes) != 2 {
		t.Fatalf("coll boxes=%d predicted=%d", len(v.CollBoxes), len(v.PredictedCollBoxes))
	}
	if !v.Box.Contains(geom.Vec3{X: 5}) {
		t.Fatalf("box=%+v", v.Box)
	}

	tow, _ := build(t, &Env{}, vehicle.Blueprint{Asset: "tow"})
	if !tow.Rescuer || !tow.SlideNodeLockInstant || tow.Engine != nil {
		t.Fatalf("tow=%+v", tow)
	}

	err := NewBuilder(testCatalog(), nil).Build(&vehicle.Instance{}, vehicle.Blueprint{Asset: "boat"})
	if !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("err=%v want ErrUnknownAsset", err)
	}
}

func TestSpawnBoxPlacement(t *testing.T) {
	box := geom.NewAABB(geom.Vec3{X: 10, Y: 2, Z: 10}, geom.Vec3{X: 20, Y: 8, Z: 30})
	v, _ := build(t, &Env{}, vehicle.Blueprint{Asset: "tow", SpawnBox: &box})
	want := geom.Vec3{X: 15, Y: 3, Z: 20}
	if v.Position != want {
		t.Fatalf("position=%+v want=%+v", v.Position, want)
	}
}

func TestSpawnFlags(t *testing.T) {
	box := geom.NewAABB(geom.Vec3{X: 10, Y: 2, Z: 10}, geom.Vec3{X: 20, Y: 8, Z: 30})
	bp := vehicle.Blueprint{Asset: "truck", Position: geom.Vec3{X: 1, Z: 1}, SpawnBox: &box}
	bp.ApplySpawnFlags(vehicle.SpawnFreePosition | vehicle.SpawnLockSlideNodes)
	v, _ := build(t, &Env{}, bp)
	if v.Position != (geom.Vec3{X: 1, Z: 1}) {
		t.Fatalf("free position moved to %+v", v.Position)
	}
	if !v.SlideNodeLockInstant {
		t.Fatalf("slide node lock flag ignored")
	}

	plain := vehicle.Blueprint{Asset: "truck"}
	plain.ApplySpawnFlags(0)
	if v, _ := build(t, &Env{}, plain); v.SlideNodeLockInstant {
		t.Fatalf("truck locks slide nodes without the flag")
	}
}

func TestThrottleMovesAndPredictsAhead(t *testing.T) {
	pool := &countingPool{}
	v, b := build(t, &Env{Pool: pool}, vehicle.Blueprint{Asset: "truck"})
	b.SetControls(Controls{Throttle: 1})
	for i := 0; i < 60; i++ {
		b.Step(v, 0.05)
	}
	if v.Position.Z <= 0 {
		t.Fatalf("did not move forward: %+v", v.Position)
	}
	if v.PredictedBox.Max.Z <= v.Box.Max.Z {
		t.Fatalf("predicted box does not reach ahead: %+v vs %+v", v.PredictedBox, v.Box)
	}
	if v.SleepCount != 0 {
		t.Fatalf("sleep count=%d while driving", v.SleepCount)
	}
	if pool.calls != 60 || pool.items != 360 {
		t.Fatalf("pool calls=%d items=%d", pool.calls, pool.items)
	}
	if b.Speed() > 30+1e-9 {
		t.Fatalf("speed=%v exceeds max", b.Speed())
	}
	if rpm := b.engine.RPM(); rpm <= idleRPM {
		t.Fatalf("rpm=%v", rpm)
	}
}

func TestQuietInstanceBecomesSleepCandidate(t *testing.T) {
	v, b := build(t, &Env{}, vehicle.Blueprint{Asset: "tow"})
	v.State = vehicle.Desactivated
	for i := 0; i <= MaySleepAfter; i++ {
		b.Step(v, 0.05)
	}
	if v.State != vehicle.MaySleep {
		t.Fatalf("state=%v sleep=%d want MaySleep", v.State, v.SleepCount)
	}

	v.State = vehicle.GoSleep
	b.Step(v, 0.05)
	if v.State != vehicle.Sleeping {
		t.Fatalf("state=%v want Sleeping", v.State)
	}

	// The leader never becomes a candidate on its own.
	lead, lb := build(t, &Env{}, vehicle.Blueprint{Asset: "tow"})
	for i := 0; i < 3*MaySleepAfter; i++ {
		lb.Step(lead, 0.05)
	}
	if lead.State != vehicle.Activated {
		t.Fatalf("lead state=%v", lead.State)
	}
}

func TestMovingCandidateWakesUp(t *testing.T) {
	v, b := build(t, &Env{}, vehicle.Blueprint{Asset: "truck"})
	v.State = vehicle.MaySleep
	v.SleepCount = 20
	b.SetControls(Controls{Throttle: 1})
	b.Step(v, 0.05)
	if v.State != vehicle.Desactivated || v.SleepCount != 0 {
		t.Fatalf("state=%v sleep=%d", v.State, v.SleepCount)
	}
}

func TestBrakeStops(t *testing.T) {
	v, b := build(t, &Env{}, vehicle.Blueprint{Asset: "truck"})
	b.SetControls(Controls{Throttle: 1})
	for i := 0; i < 20; i++ {
		b.Step(v, 0.05)
	}
	b.SetControls(Controls{Brake: 1})
	for i := 0; i < 200; i++ {
		b.Step(v, 0.05)
	}
	if b.Speed() != 0 {
		t.Fatalf("speed=%v after braking", b.Speed())
	}
}

func TestRemoteReconcile(t *testing.T) {
	v, b := build(t, &Env{}, vehicle.Blueprint{Asset: "truck", Networked: true})
	v.State = vehicle.Networked
	b.ReconcileNetwork(v)
	if v.Position != (geom.Vec3{}) {
		t.Fatalf("moved without a sample")
	}
	b.PushRemote(vehicle.StreamState{Time: 2, Position: geom.Vec3{X: 10}})
	b.PushRemote(vehicle.StreamState{Time: 1, Position: geom.Vec3{X: -50}})
	b.ReconcileNetwork(v)
	b.ReconcileNetwork(v)
	if math.Abs(v.Position.X-7.5) > 1e-9 {
		t.Fatalf("x=%v want=7.5", v.Position.X)
	}
	b.Step(v, 0.05)
	if v.Position.X != 7.5 {
		t.Fatalf("networked instance stepped locally")
	}
}

func TestSendStreamUpdate(t *testing.T) {
	out := &sink{}
	v, b := build(t, &Env{Out: out}, vehicle.Blueprint{Asset: "tow"})
	v.SourceID, v.StreamID = vehicle.LocalOrigin, 11
	b.Step(v, 0.1)
	b.SendStreamUpdate(v)
	if len(out.got) != 1 || out.got[0].Stream != 11 || out.got[0].Time != 0.1 {
		t.Fatalf("sent=%+v", out.got)
	}
	b.UpdateNetworkInfo(v)
	if b.Label() != "tow [-1:11]" {
		t.Fatalf("label=%q", b.Label())
	}
}

func TestDriverAndReset(t *testing.T) {
	env := &Env{Driver: fixedDriver{Controls{Throttle: 2, Steer: -3}}}
	v, b := build(t, env, vehicle.Blueprint{Asset: "truck", Position: geom.Vec3{Z: 3}})
	v.State = vehicle.Sleeping
	b.UpdateAI(v, 0.1)
	if c := b.Controls(); c.Throttle != 1 || c.Steer != -1 {
		t.Fatalf("controls=%+v want clamped", c)
	}
	if v.State != vehicle.Desactivated {
		t.Fatalf("state=%v, throttle should wake", v.State)
	}
	for i := 0; i < 10; i++ {
		b.Step(v, 0.05)
	}
	b.Reset(v, false)
	if v.Position != (geom.Vec3{Z: 3}) || b.Speed() != 0 || b.Controls() != (Controls{}) {
		t.Fatalf("reset: pos=%+v speed=%v", v.Position, b.Speed())
	}
}

func TestRecalcMassesFollowsGravity(t *testing.T) {
	env := &Env{}
	v, b := build(t, env, vehicle.Blueprint{Asset: "truck"})
	before := b.wheels[0].load
	env.SetGravity(DefaultGravity / 2)
	b.RecalcMasses(v)
	if math.Abs(b.wheels[0].load-before/2) > 1e-9 {
		t.Fatalf("load=%v want=%v", b.wheels[0].load, before/2)
	}
}
