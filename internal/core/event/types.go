package event

// NoInstance stands for "no instance" in focus notifications.
const NoInstance = -1

// InstanceListChanged fires after any slot was filled or emptied.
type InstanceListChanged struct{}

// FocusChanged fires when the focused instance changes. Prev and Next are
// slot ids or NoInstance.
type FocusChanged struct {
	Prev int
	Next int
}

type InstanceSpawned struct {
	ID        int
	Asset     string
	SourceID  int32
	StreamID  int32
	Networked bool
}

type InstanceRemoved struct {
	ID       int
	Asset    string
	SourceID int32
	StreamID int32
}

// StreamUnusable fires when a remote stream names an asset that is not
// available locally.
type StreamUnusable struct {
	Origin int32
	Stream int32
	Asset  string
}
