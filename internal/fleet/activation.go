package fleet

import (
	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

// predictedOverlap tests two instances' predicted volumes.
func predictedOverlap(a, b *vehicle.Instance) bool {
	return volumesOverlap(a.PredictedBox, a.PredictedCollBoxes, b.PredictedBox, b.PredictedCollBoxes)
}

// currentOverlap tests two instances' volumes where they are now.
func currentOverlap(a, b *vehicle.Instance) bool {
	return volumesOverlap(a.Box, a.CollBoxes, b.Box, b.CollBoxes)
}

// volumesOverlap uses collision sub-boxes where present: both sides
// pairwise, one side against the other's coarse box, or coarse against
// coarse.
func volumesOverlap(aBox geom.AABB, ab []geom.AABB, bBox geom.AABB, bb []geom.AABB) bool {
	switch {
	case len(ab) == 0 && len(bb) == 0:
		return aBox.Intersects(bBox)
	case len(ab) == 0:
		return anyIntersects(bb, aBox)
	case len(bb) == 0:
		return anyIntersects(ab, bBox)
	}
	for _, x := range ab {
		if anyIntersects(bb, x) {
			return true
		}
	}
	return false
}

func anyIntersects(boxes []geom.AABB, o geom.AABB) bool {
	for _, b := range boxes {
		if b.Intersects(o) {
			return true
		}
	}
	return false
}

// sweptBox is the box the grid files an instance under.
func sweptBox(v *vehicle.Instance) geom.AABB {
	b := v.PredictedBox
	for _, c := range v.PredictedCollBoxes {
		b = b.Merge(c)
	}
	return b
}

func dormantEligible(v *vehicle.Instance) bool {
	return vehicle.IsDormantEligible(v.State, v.SleepCount)
}

// Activation reconciles sleep states from predicted overlap. It keeps its
// scratch buffers between ticks. Tick goroutine only.
type Activation struct {
	grid *Grid

	woken    []bool
	expanded []bool
	visited  []bool
	settled  []bool
	queue    []int
	cluster  []int
	near     []int
}

func NewActivation(cellSize float64) *Activation {
	return &Activation{grid: NewGrid(cellSize)}
}

func (a *Activation) reset(n int) {
	a.woken = resetBools(a.woken, n)
	a.expanded = resetBools(a.expanded, n)
	a.visited = resetBools(a.visited, n)
	a.settled = resetBools(a.settled, n)
}

func resetBools(b []bool, n int) []bool {
	if cap(b) < n {
		return make([]bool, n)
	}
	b = b[:n]
	clear(b)
	return b
}

// Reconcile runs one wake pass and, unless forceActive, one sleep pass over
// insts, where insts[i] is the instance in slot i or nil. primary is the
// focused instance id or -1.
func (a *Activation) Reconcile(insts []*vehicle.Instance, primary int, forceActive bool) {
	a.reset(len(insts))
	a.grid.Reset()
	for id, v := range insts {
		if v != nil {
			a.grid.Insert(id, sweptBox(v))
		}
	}

	for _, id := range a.collectWake(insts, primary) {
		insts[id].Desactivate()
	}
	if forceActive {
		return
	}
	for id, v := range insts {
		if v == nil || v.State != vehicle.MaySleep || a.settled[id] {
			continue
		}
		if a.clusterActive(insts, id) {
			continue
		}
		for _, c := range a.cluster {
			insts[c].State = vehicle.GoSleep
		}
	}
}

// collectWake returns, without changing any state, the dormant-eligible
// instances reachable through predicted overlap from the awake seeds: the
// primary when awake plus every awake instance that has not been quiet for
// long.
func (a *Activation) collectWake(insts []*vehicle.Instance, primary int) []int {
	a.queue = a.queue[:0]
	for id, v := range insts {
		if v == nil || !vehicle.IsAwake(v.State) {
			continue
		}
		if id == primary || v.SleepCount <= vehicle.ReactivateSleepCount {
			a.queue = append(a.queue, id)
		}
	}

	var woken []int
	for head := 0; head < len(a.queue); head++ {
		j := a.queue[head]
		if a.expanded[j] {
			continue
		}
		a.expanded[j] = true
		a.near = a.grid.Nearby(sweptBox(insts[j]), a.near)
		for _, t := range a.near {
			if t == j || a.woken[t] {
				continue
			}
			v := insts[t]
			if !dormantEligible(v) || !predictedOverlap(v, insts[j]) {
				continue
			}
			a.woken[t] = true
			woken = append(woken, t)
			a.queue = append(a.queue, t)
		}
	}
	return woken
}

// clusterActive walks the dormant-eligible cluster around start, leaving it
// in a.cluster. It reports whether any overlapping instance outside that
// class was found; such an instance keeps the whole cluster awake.
func (a *Activation) clusterActive(insts []*vehicle.Instance, start int) bool {
	a.cluster = a.cluster[:0]
	a.queue = a.queue[:0]
	a.visited[start] = true
	a.queue = append(a.queue, start)
	active := false
	for head := 0; head < len(a.queue); head++ {
		j := a.queue[head]
		a.cluster = append(a.cluster, j)
		a.near = a.grid.Nearby(sweptBox(insts[j]), a.near)
		for _, t := range a.near {
			if t == j || a.visited[t] {
				continue
			}
			v := insts[t]
			if !predictedOverlap(v, insts[j]) {
				continue
			}
			if !dormantEligible(v) {
				active = true
				continue
			}
			a.visited[t] = true
			a.queue = append(a.queue, t)
		}
	}
	for _, c := range a.cluster {
		a.settled[c] = true
	}
	return active
}
