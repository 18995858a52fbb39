package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/simfleet/server/internal/core/system"
	"github.com/simfleet/server/internal/fleet"
)

// StreamSystem applies queued remote registrations and deletions. Phase 1.
type StreamSystem struct {
	fleet *fleet.Factory
	log   *zap.Logger
}

func NewStreamSystem(f *fleet.Factory, log *zap.Logger) *StreamSystem {
	return &StreamSystem{fleet: f, log: log}
}

func (s *StreamSystem) Phase() coresys.Phase { return coresys.PhaseStreams }

func (s *StreamSystem) Update(_ time.Duration) {
	if s.fleet.SyncRemoteStreams() {
		s.log.Debug("remote streams synced", zap.Int("instances", s.fleet.Registry().Len()))
	}
}

// AISystem runs the drivers of local instances. Phase 3.
type AISystem struct{ fleet *fleet.Factory }

func NewAISystem(f *fleet.Factory) *AISystem { return &AISystem{fleet: f} }

func (s *AISystem) Phase() coresys.Phase    { return coresys.PhaseAI }
func (s *AISystem) Update(dt time.Duration) { s.fleet.UpdateAI(dt.Seconds()) }

// PhysicsSystem steps the fleet. Phase 4.
type PhysicsSystem struct{ fleet *fleet.Factory }

func NewPhysicsSystem(f *fleet.Factory) *PhysicsSystem { return &PhysicsSystem{fleet: f} }

func (s *PhysicsSystem) Phase() coresys.Phase    { return coresys.PhasePhysics }
func (s *PhysicsSystem) Update(dt time.Duration) { s.fleet.CalcPhysics(dt.Seconds()) }

// VisualSystem advances visuals and labels. Phase 5.
type VisualSystem struct{ fleet *fleet.Factory }

func NewVisualSystem(f *fleet.Factory) *VisualSystem { return &VisualSystem{fleet: f} }

func (s *VisualSystem) Phase() coresys.Phase    { return coresys.PhaseVisual }
func (s *VisualSystem) Update(dt time.Duration) { s.fleet.UpdateVisual(dt.Seconds()) }
