package system

import (
	"reflect"
	"testing"
	"time"
)

type recSystem struct {
	name  string
	phase Phase
	log   *[]string
}

func (s recSystem) Phase() Phase         { return s.phase }
func (s recSystem) Update(time.Duration) { *s.log = append(*s.log, s.name) }

func TestRunnerOrdersByPhaseStable(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recSystem{"visual", PhaseVisual, &log})
	r.Register(recSystem{"physics", PhasePhysics, &log})
	r.Register(recSystem{"input-a", PhaseInput, &log})
	r.Register(recSystem{"input-b", PhaseInput, &log})

	r.Tick(10 * time.Millisecond)
	want := []string{"input-a", "input-b", "physics", "visual"}
	if !reflect.DeepEqual(log, want) {
		t.Fatalf("order=%v want=%v", log, want)
	}

	log = log[:0]
	r.TickPhase(PhaseInput, 0)
	if !reflect.DeepEqual(log, []string{"input-a", "input-b"}) {
		t.Fatalf("phase tick=%v", log)
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

type sleepSystem struct {
	phase Phase
	took  time.Duration
	clock *fakeClock
}

func (s sleepSystem) Phase() Phase           { return s.phase }
func (s sleepSystem) Update(_ time.Duration) { s.clock.t = s.clock.t.Add(s.took) }

func TestRunnerTimesPhasesAndReportsOverrun(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRunner()
	r.now = clock.now
	r.Register(sleepSystem{PhasePhysics, 8 * time.Millisecond, clock})
	r.Register(sleepSystem{PhaseInput, time.Millisecond, clock})
	r.Register(sleepSystem{PhasePhysics, 2 * time.Millisecond, clock})

	var slow []TickStats
	r.SetBudget(5*time.Millisecond, func(st TickStats) { slow = append(slow, st) })
	r.Tick(20 * time.Millisecond)

	st := r.Last()
	if st.Total != 11*time.Millisecond {
		t.Fatalf("total=%v want=11ms", st.Total)
	}
	if st.Phases[PhasePhysics] != 10*time.Millisecond || st.Phases[PhaseInput] != time.Millisecond {
		t.Fatalf("phases=%v", st.Phases)
	}
	if p, d := st.Slowest(); p != PhasePhysics || d != 10*time.Millisecond {
		t.Fatalf("slowest=%v %v", p, d)
	}
	ticks, overrun := r.Counts()
	if ticks != 1 || overrun != 1 || len(slow) != 1 {
		t.Fatalf("ticks=%d overrun=%d callbacks=%d", ticks, overrun, len(slow))
	}

	r.SetBudget(0, nil)
	r.Tick(20 * time.Millisecond)
	if _, overrun := r.Counts(); overrun != 1 {
		t.Fatalf("overrun=%d with disarmed budget", overrun)
	}
}

func TestPhaseString(t *testing.T) {
	if PhasePersist.String() != "persist" || Phase(42).String() != "phase(42)" {
		t.Fatalf("names=%s %s", PhasePersist, Phase(42))
	}
}
