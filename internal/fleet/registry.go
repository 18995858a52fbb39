package fleet

import (
	"github.com/simfleet/server/internal/core/slot"
	"github.com/simfleet/server/internal/vehicle"
)

// ErrRegistryFull is returned when every instance slot is taken.
var ErrRegistryFull = slot.ErrFull

// Registry owns the instances. Slot i holds at most one instance and that
// instance's ID is i. Only the tick goroutine touches it.
type Registry struct {
	arena *slot.Arena[*vehicle.Instance]
}

func NewRegistry(capacity int) *Registry {
	return &Registry{arena: slot.New[*vehicle.Instance](capacity)}
}

func (r *Registry) Cap() int   { return r.arena.Cap() }
func (r *Registry) Bound() int { return r.arena.Bound() }
func (r *Registry) Len() int   { return r.arena.Len() }

// Allocate reserves the lowest free slot. The reservation must be filled with
// Fill or given back with Cancel.
func (r *Registry) Allocate() (int, error) {
	return r.arena.Allocate()
}

// Fill stores v in its reserved slot. v.ID must equal the slot id.
func (r *Registry) Fill(v *vehicle.Instance) (slot.Handle, bool) {
	return r.arena.Set(v.ID, v)
}

// Cancel gives back a reservation that was never filled.
func (r *Registry) Cancel(id int) {
	r.arena.Release(id)
}

// Get returns the instance in slot id. Stale and out-of-range ids report
// absent.
func (r *Registry) Get(id int) (*vehicle.Instance, bool) {
	return r.arena.Get(id)
}

func (r *Registry) Handle(id int) (slot.Handle, bool) {
	return r.arena.Handle(id)
}

// Resolve follows a weak reference. It fails once the slot was emptied, even
// if a new instance has moved in since.
func (r *Registry) Resolve(h slot.Handle) (*vehicle.Instance, bool) {
	return r.arena.Resolve(h)
}

// take empties slot id and hands the instance to the caller, who must destroy
// it. Callers go through Factory.Release so the worker barrier is honoured.
func (r *Registry) take(id int) (*vehicle.Instance, bool) {
	return r.arena.Release(id)
}

// Each visits live instances in ascending id order.
func (r *Registry) Each(fn func(v *vehicle.Instance)) {
	r.arena.Each(func(_ int, v *vehicle.Instance) { fn(v) })
}

// Snapshot fills dst with the slot contents below the high-water mark, nil
// for empty slots, so that dst[i] is the instance with id i.
func (r *Registry) Snapshot(dst []*vehicle.Instance) []*vehicle.Instance {
	dst = dst[:0]
	for i := 0; i < r.arena.Bound(); i++ {
		v, _ := r.arena.Get(i)
		dst = append(dst, v)
	}
	return dst
}
