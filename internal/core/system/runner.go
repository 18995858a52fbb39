package system

import (
	"sort"
	"time"
)

// TickStats is the timing of one full tick.
type TickStats struct {
	Total  time.Duration
	Phases [phaseCount]time.Duration
}

// Slowest returns the phase that took longest.
func (s TickStats) Slowest() (Phase, time.Duration) {
	var p Phase
	for i := range s.Phases {
		if s.Phases[i] > s.Phases[p] {
			p = Phase(i)
		}
	}
	return p, s.Phases[p]
}

// Runner executes systems in phase order each tick. Systems sharing a phase
// keep their registration order.
type Runner struct {
	systems []System
	sorted  bool

	budget  time.Duration
	onSlow  func(TickStats)
	last    TickStats
	ticks   uint64
	overrun uint64
	now     func() time.Time
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
		now:     time.Now,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

func (r *Runner) Len() int { return len(r.systems) }

// SetBudget arms the overrun callback: fn gets the stats of every tick that
// took longer than budget. A zero budget disarms it.
func (r *Runner) SetBudget(budget time.Duration, fn func(TickStats)) {
	r.budget = budget
	r.onSlow = fn
}

// Last returns the stats of the most recent full tick.
func (r *Runner) Last() TickStats { return r.last }

// Counts returns the number of full ticks and how many overran the budget.
func (r *Runner) Counts() (ticks, overrun uint64) { return r.ticks, r.overrun }

func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	var st TickStats
	start := r.now()
	mark := start
	for _, s := range r.systems {
		s.Update(dt)
		t := r.now()
		if p := s.Phase(); p >= 0 && p < phaseCount {
			st.Phases[p] += t.Sub(mark)
		}
		mark = t
	}
	st.Total = mark.Sub(start)
	r.last = st
	r.ticks++
	if r.budget > 0 && st.Total > r.budget {
		r.overrun++
		if r.onSlow != nil {
			r.onSlow(st)
		}
	}
}

// TickPhase runs only the systems of one phase, without timing. Used to poll
// input between full ticks.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(dt)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
