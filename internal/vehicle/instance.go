package vehicle

import "github.com/simfleet/server/internal/geom"

// Origin and stream identifiers of a locally created instance.
const (
	// LocalOrigin is the stream-table origin reserved for this process.
	LocalOrigin int32 = -1
	// LocalStreamOffset keeps local instance streams clear of the low stream
	// ids used by asset-definition streams.
	LocalStreamOffset int32 = 10
)

// Instance is one simulated vehicle occupying a registry slot. The registry
// owns it; everything else holds it by id or handle.
//
// Fields are read and written by the tick goroutine, except while the
// instance is designated for a step: then only the worker goroutine touches
// them until the factory's sync barrier returns.
type Instance struct {
	ID     int
	Asset  string
	Config []string

	State      State
	SleepCount int

	// Position of the reference node.
	Position geom.Vec3

	Box          geom.AABB
	PredictedBox geom.AABB
	// Optional per-part collision boxes. When empty the coarse box is used.
	CollBoxes          []geom.AABB
	PredictedCollBoxes []geom.AABB

	SourceID int32
	StreamID int32

	Rescuer bool
	// Networked instances mirror a remote participant and are never stepped
	// locally.
	Networked bool
	// Networking instances are local and authoritative; they send their
	// stream every tick while a session is up.
	Networking bool

	LoadingFinished bool
	SlideNodeLock   bool

	// SlideNodeLockInstant asks for the slide nodes to be locked right
	// after spawning.
	SlideNodeLockInstant bool

	Body   Body
	Engine Engine
}

// Desactivate makes the instance simulated but not leading.
func (v *Instance) Desactivate() {
	v.State = Desactivated
	v.SleepCount = 0
}

// Spawn flags of a registration record.
const (
	// SpawnFreePosition keeps the requested position even inside a spawn box.
	SpawnFreePosition uint32 = 1 << iota
	// SpawnLockSlideNodes locks the slide nodes right after spawning.
	SpawnLockSlideNodes
)

// Blueprint describes an instance to build.
type Blueprint struct {
	Asset    string
	Position geom.Vec3
	Heading  float64
	Config   []string

	// SpawnBox, when set, places the instance on the floor of the box
	// unless FreePosition is set.
	SpawnBox       *geom.AABB
	FreePosition   bool
	LockSlideNodes bool

	Networked  bool
	Networking bool
}

// ApplySpawnFlags sets the blueprint options named by a flag word.
func (bp *Blueprint) ApplySpawnFlags(flags uint32) {
	bp.FreePosition = bp.FreePosition || flags&SpawnFreePosition != 0
	bp.LockSlideNodes = bp.LockSlideNodes || flags&SpawnLockSlideNodes != 0
}
