package system

import (
	"strconv"
	"time"
)

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput   Phase = iota // 0: drain session queues, dispatch messages
	PhaseStreams              // 1: apply queued stream registrations/deletions
	PhaseEvents               // 2: deliver last tick's events
	PhaseAI                   // 3: scripted drivers
	PhasePhysics              // 4: step, idle updates, sleep reconciliation
	PhaseVisual               // 5: visual/label updates
	PhaseOutput               // 6: flush session output
	PhasePersist              // 7: journal and replay flush

	phaseCount
)

var phaseNames = [phaseCount]string{
	"input", "streams", "events", "ai", "physics", "visual", "output", "persist",
}

func (p Phase) String() string {
	if p >= 0 && p < phaseCount {
		return phaseNames[p]
	}
	return "phase(" + strconv.Itoa(int(p)) + ")"
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
