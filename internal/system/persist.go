package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/simfleet/server/internal/core/event"
	coresys "github.com/simfleet/server/internal/core/system"
	"github.com/simfleet/server/internal/persist"
)

// JournalWriter stores lifecycle entries. *persist.JournalRepo implements it.
type JournalWriter interface {
	Append(ctx context.Context, entries []persist.JournalEntry) error
}

// FrameSource reports the current simulation frame.
type FrameSource interface {
	Frame() uint64
}

// JournalSystem collects spawn and remove events and writes them in batches
// every flushTicks ticks. Phase 7 (Persist).
type JournalSystem struct {
	writer     JournalWriter
	frames     FrameSource
	flushTicks int
	timeout    time.Duration
	log        *zap.Logger

	ticks   int
	pending []persist.JournalEntry
}

func NewJournalSystem(w JournalWriter, frames FrameSource, flushTicks int, log *zap.Logger) *JournalSystem {
	if flushTicks <= 0 {
		flushTicks = 50
	}
	return &JournalSystem{
		writer:     w,
		frames:     frames,
		flushTicks: flushTicks,
		timeout:    5 * time.Second,
		log:        log,
	}
}

// Subscribe hooks the system to the lifecycle events of the bus.
func (s *JournalSystem) Subscribe(bus *event.Bus) {
	event.Subscribe(bus, func(e event.InstanceSpawned) {
		s.pending = append(s.pending, persist.JournalEntry{
			Kind:      persist.JournalSpawn,
			Slot:      e.ID,
			Asset:     e.Asset,
			Origin:    e.SourceID,
			Stream:    e.StreamID,
			Networked: e.Networked,
			Frame:     s.frames.Frame(),
		})
	})
	event.Subscribe(bus, func(e event.InstanceRemoved) {
		s.pending = append(s.pending, persist.JournalEntry{
			Kind:   persist.JournalRemove,
			Slot:   e.ID,
			Asset:  e.Asset,
			Origin: e.SourceID,
			Stream: e.StreamID,
			Frame:  s.frames.Frame(),
		})
	})
}

func (s *JournalSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *JournalSystem) Pending() int { return len(s.pending) }

func (s *JournalSystem) Update(_ time.Duration) {
	s.ticks++
	if s.ticks < s.flushTicks {
		return
	}
	s.ticks = 0
	s.Flush()
}

// Flush writes everything collected so far. A failed batch is dropped and
// logged; the journal is an audit trail, not state the server recovers from.
func (s *JournalSystem) Flush() {
	if len(s.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.writer.Append(ctx, s.pending); err != nil {
		s.log.Error("journal write failed", zap.Int("entries", len(s.pending)), zap.Error(err))
	} else {
		s.log.Debug("journal written", zap.Int("entries", len(s.pending)))
	}
	s.pending = s.pending[:0]
}

// ReplayFlusher is the recorder side the replay system drives.
type ReplayFlusher interface {
	Flush(ctx context.Context, force bool) error
}

// ReplaySystem hands buffered replay frames to the sink. Phase 7 (Persist).
type ReplaySystem struct {
	rec     ReplayFlusher
	timeout time.Duration
	log     *zap.Logger
}

func NewReplaySystem(rec ReplayFlusher, log *zap.Logger) *ReplaySystem {
	return &ReplaySystem{rec: rec, timeout: 5 * time.Second, log: log}
}

func (s *ReplaySystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *ReplaySystem) Update(_ time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// The recorder logs dropped frames itself.
	if err := s.rec.Flush(ctx, false); err != nil {
		s.log.Debug("replay flush failed", zap.Error(err))
	}
}
