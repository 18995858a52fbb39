package slot

import "errors"

// ErrFull is returned by Allocate when every slot is reserved or live.
var ErrFull = errors.New("slot arena full")

type entryState uint8

const (
	stateEmpty entryState = iota
	stateReserved
	stateLive
)

type entry[T any] struct {
	val   T
	gen   uint32
	state entryState
}

// Arena is a fixed-capacity array of ownership slots indexed by small integer
// ids. freeSlot is a high-water mark: every index at or above it has never been
// used, so iteration stops there. Holes below the mark are reused lowest-first.
// Generations make reuse safe for holders of Handles.
//
// Not safe for concurrent use; the owner serializes access.
type Arena[T any] struct {
	slots    []entry[T]
	freeSlot int
	live     int
}

func New[T any](capacity int) *Arena[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena[T]{slots: make([]entry[T], capacity)}
}

// Cap returns the fixed capacity.
func (a *Arena[T]) Cap() int { return len(a.slots) }

// Bound returns the high-water mark; every live id is below it.
func (a *Arena[T]) Bound() int { return a.freeSlot }

// Len returns the number of live values.
func (a *Arena[T]) Len() int { return a.live }

// Allocate reserves the lowest empty slot and advances the high-water mark past
// it. A reserved slot reads as absent until Set fills it or Release frees it.
// On ErrFull no slot state changes.
func (a *Arena[T]) Allocate() (int, error) {
	for i := range a.slots {
		if a.slots[i].state != stateEmpty {
			continue
		}
		a.slots[i].state = stateReserved
		if i >= a.freeSlot {
			a.freeSlot = i + 1
		}
		return i, nil
	}
	return -1, ErrFull
}

// Set fills a reserved slot and returns its handle. Setting a slot that was
// not reserved by Allocate is a no-op returning ok=false.
func (a *Arena[T]) Set(id int, v T) (Handle, bool) {
	if id < 0 || id >= a.freeSlot || a.slots[id].state != stateReserved {
		return 0, false
	}
	e := &a.slots[id]
	e.val = v
	e.state = stateLive
	a.live++
	return NewHandle(uint32(id), e.gen), true
}

// Get is a bounds-checked lookup. Out of range, reserved and empty slots all
// report absent.
func (a *Arena[T]) Get(id int) (T, bool) {
	var zero T
	if id < 0 || id >= a.freeSlot || a.slots[id].state != stateLive {
		return zero, false
	}
	return a.slots[id].val, true
}

// Handle returns the current handle of a live slot.
func (a *Arena[T]) Handle(id int) (Handle, bool) {
	if id < 0 || id >= a.freeSlot || a.slots[id].state != stateLive {
		return 0, false
	}
	return NewHandle(uint32(id), a.slots[id].gen), true
}

// Resolve returns the value a handle refers to, or absent if the slot was
// released (and possibly reused) since the handle was issued.
func (a *Arena[T]) Resolve(h Handle) (T, bool) {
	id := h.Index()
	v, ok := a.Get(id)
	if !ok || a.slots[id].gen != h.Generation() {
		var zero T
		return zero, false
	}
	return v, true
}

// Release empties a live or reserved slot and returns the value it held. The
// entry is fully cleared before it can be reused.
func (a *Arena[T]) Release(id int) (T, bool) {
	var zero T
	if id < 0 || id >= a.freeSlot {
		return zero, false
	}
	e := &a.slots[id]
	switch e.state {
	case stateLive:
		v := e.val
		e.val = zero
		e.state = stateEmpty
		e.gen++
		a.live--
		return v, true
	case stateReserved:
		e.state = stateEmpty
		e.gen++
	}
	return zero, false
}

// Each calls fn for every live slot in ascending id order.
func (a *Arena[T]) Each(fn func(id int, v T)) {
	for i := 0; i < a.freeSlot; i++ {
		if a.slots[i].state == stateLive {
			fn(i, a.slots[i].val)
		}
	}
}
