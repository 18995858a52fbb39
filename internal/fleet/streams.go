package fleet

import (
	"errors"
	"sort"
	"sync"

	"github.com/simfleet/server/internal/core/slot"
)

// AllStreams is the stream id that addresses every stream of an origin.
const AllStreams int32 = -1

var (
	// ErrAssetUnavailable is returned when a remote stream names an asset that
	// is not installed locally. The stream stays marked unusable.
	ErrAssetUnavailable = errors.New("stream asset not available")
	// ErrStreamRegistered is returned for a second registration of a key.
	ErrStreamRegistered = errors.New("stream already registered")
)

type streamEntry struct {
	handle   slot.Handle
	unusable bool
}

// StreamTable maps (origin, stream) to a weak reference into the registry.
// A single mutex guards every operation; the Locked methods assume the
// caller already holds it so related operations can be batched.
type StreamTable struct {
	mu      sync.Mutex
	origins map[int32]map[int32]streamEntry
}

func NewStreamTable() *StreamTable {
	return &StreamTable{origins: make(map[int32]map[int32]streamEntry)}
}

func (t *StreamTable) Lock()   { t.mu.Lock() }
func (t *StreamTable) Unlock() { t.mu.Unlock() }

func (t *StreamTable) lookupLocked(origin, stream int32) (streamEntry, bool) {
	e, ok := t.origins[origin][stream]
	return e, ok
}

func (t *StreamTable) insertLocked(origin, stream int32, e streamEntry) {
	m := t.origins[origin]
	if m == nil {
		m = make(map[int32]streamEntry)
		t.origins[origin] = m
	}
	m[stream] = e
}

func (t *StreamTable) deleteLocked(origin, stream int32) (streamEntry, bool) {
	m := t.origins[origin]
	e, ok := m[stream]
	if !ok {
		return e, false
	}
	delete(m, stream)
	if len(m) == 0 {
		delete(t.origins, origin)
	}
	return e, true
}

// streamsLocked lists an origin's stream ids in ascending order.
func (t *StreamTable) streamsLocked(origin int32) []int32 {
	m := t.origins[origin]
	ids := make([]int32, 0, len(m))
	for s := range m {
		ids = append(ids, s)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// aliasLocked copies every entry of oldOrigin under newOrigin. Existing keys
// of newOrigin are kept.
func (t *StreamTable) aliasLocked(oldOrigin, newOrigin int32) int {
	if oldOrigin == newOrigin {
		return 0
	}
	n := 0
	for s, e := range t.origins[oldOrigin] {
		if _, taken := t.lookupLocked(newOrigin, s); taken {
			continue
		}
		t.insertLocked(newOrigin, s, e)
		n++
	}
	return n
}

// forgetLocked drops every key that refers to h.
func (t *StreamTable) forgetLocked(h slot.Handle) {
	for origin, m := range t.origins {
		for s, e := range m {
			if !e.unusable && e.handle == h {
				delete(m, s)
			}
		}
		if len(m) == 0 {
			delete(t.origins, origin)
		}
	}
}

// Len returns the number of registered keys, unusable ones included.
func (t *StreamTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.origins {
		n += len(m)
	}
	return n
}
