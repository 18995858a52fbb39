package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/simfleet/server/internal/core/system"
	"github.com/simfleet/server/internal/fleet"
	"github.com/simfleet/server/internal/transport/observer"
)

// CommandSource hands over queued control commands without blocking.
type CommandSource interface {
	DrainCommands(fn func(observer.Command))
}

// ControlSystem applies observer commands to the fleet. Phase 0, after
// session input.
type ControlSystem struct {
	src   CommandSource
	fleet *fleet.Factory
	log   *zap.Logger

	applied int
	failed  int
}

func NewControlSystem(src CommandSource, f *fleet.Factory, log *zap.Logger) *ControlSystem {
	return &ControlSystem{src: src, fleet: f, log: log}
}

func (s *ControlSystem) Phase() coresys.Phase { return coresys.PhaseInput }

// Counts returns how many commands took effect and how many did not.
func (s *ControlSystem) Counts() (applied, failed int) { return s.applied, s.failed }

func (s *ControlSystem) Update(_ time.Duration) {
	s.src.DrainCommands(s.apply)
}

func (s *ControlSystem) apply(c observer.Command) {
	ok := true
	switch c.Op {
	case observer.OpFocus:
		ok = s.fleet.SetCurrent(c.Slot)
	case observer.OpRemoveCurrent:
		ok = s.fleet.RemoveCurrent()
	case observer.OpRescue:
		ok = s.fleet.EnterRescue()
	case observer.OpActivateAll:
		s.fleet.ActivateAll()
	case observer.OpSendAllSleeping:
		s.fleet.SendAllSleeping()
	case observer.OpRepairRegion:
		ok = s.fleet.RepairInRegion(c.Instance, c.Region, c.KeepPosition)
	case observer.OpRemoveRegion:
		ok = s.fleet.RemoveInRegion(c.Instance, c.Region)
	default:
		ok = false
	}
	if !ok {
		s.failed++
		s.log.Info("control command had no effect",
			zap.String("op", c.Op),
			zap.Int("slot", c.Slot),
			zap.String("region", c.Region),
		)
		return
	}
	s.applied++
	s.log.Debug("control command applied", zap.String("op", c.Op))
}
