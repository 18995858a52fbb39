package vehicle

import "fmt"

// State is the sleep/simulation state of an instance.
type State uint8

const (
	// Activated is the leading, fully simulated state.
	Activated State = iota
	// Desactivated is simulated alongside the leader but not leading.
	Desactivated
	// MaySleep: quiescent long enough to be a sleep candidate.
	MaySleep
	// GoSleep: confirmed isolated; the next step puts it to sleep.
	GoSleep
	// Sleeping instances are not simulated.
	Sleeping
	// Networked instances mirror a remote participant.
	Networked
	// Recycle marks an instance parked for reuse.
	Recycle
	// NetworkedInvalid marks a remote instance whose stream went bad.
	NetworkedInvalid
)

// Thresholds on the sleep counter. Kept tunable; no deeper meaning is implied.
const (
	// DormantSleepCount is the count at which a Desactivated instance may be
	// pulled into a wake or sleep cluster.
	DormantSleepCount = 5
	// ReactivateSleepCount is the highest count at which an awake instance
	// still propagates wake-ups to its neighbours.
	ReactivateSleepCount = 7
)

func (s State) String() string {
	switch s {
	case Activated:
		return "Activated"
	case Desactivated:
		return "Desactivated"
	case MaySleep:
		return "MaySleep"
	case GoSleep:
		return "GoSleep"
	case Sleeping:
		return "Sleeping"
	case Networked:
		return "Networked"
	case Recycle:
		return "Recycle"
	case NetworkedInvalid:
		return "NetworkedInvalid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsAwake reports whether the instance is locally simulated this tick.
func IsAwake(s State) bool {
	return s == Activated || s == Desactivated
}

// IsSimulated reports whether a local instance in state s is stepped: awake
// instances and sleep candidates that have not fallen asleep yet.
func IsSimulated(s State) bool {
	return IsAwake(s) || s == MaySleep || s == GoSleep
}

// IsDormant reports whether the instance is on the sleeping side of the
// lifecycle (candidate, confirmed or asleep).
func IsDormant(s State) bool {
	return s == MaySleep || s == GoSleep || s == Sleeping
}

// IsDormantEligible reports whether proximity may force the instance awake, or
// pull it into a sleeping cluster.
func IsDormantEligible(s State, sleepCount int) bool {
	return IsDormant(s) || (s == Desactivated && sleepCount >= DormantSleepCount)
}
