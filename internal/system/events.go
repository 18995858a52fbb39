package system

import (
	"time"

	"github.com/simfleet/server/internal/core/event"
	coresys "github.com/simfleet/server/internal/core/system"
)

// EventSystem delivers the events emitted during the previous tick. Events
// emitted by handlers run now are delivered next tick.
type EventSystem struct {
	bus *event.Bus
}

func NewEventSystem(bus *event.Bus) *EventSystem {
	return &EventSystem{bus: bus}
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhaseEvents }

func (s *EventSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
