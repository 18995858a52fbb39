// Package replay records a top-down trace of every live instance: one frame
// per sampling interval, each frame listing slot, stream and position.
package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/simfleet/server/internal/vehicle"
)

// Sample is one instance in one frame.
type Sample struct {
	Slot   int     `json:"slot"`
	Asset  string  `json:"asset"`
	Origin int32   `json:"origin"`
	Stream int32   `json:"stream"`
	State  uint8   `json:"st"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// Frame is the fleet at one simulation time.
type Frame struct {
	Frame   uint64   `json:"frame"`
	Time    float64  `json:"t"`
	Samples []Sample `json:"samples"`
}

// Sink stores frames. WriteFrames may keep the slice only until it returns.
type Sink interface {
	WriteFrames(ctx context.Context, frames []Frame) error
	Close() error
}

// Recorder buffers frames on the tick goroutine; Flush hands them to the
// sink. Update implements fleet.Recorder.
type Recorder struct {
	sink       Sink
	interval   float64
	flushEvery int
	log        *zap.Logger

	next   float64
	frames uint64
	buf    []Frame
}

func NewRecorder(sink Sink, interval time.Duration, flushEvery int, log *zap.Logger) *Recorder {
	if flushEvery <= 0 {
		flushEvery = 1
	}
	return &Recorder{
		sink:       sink,
		interval:   interval.Seconds(),
		flushEvery: flushEvery,
		log:        log,
	}
}

// Update samples the fleet when the sampling interval has elapsed. insts is
// indexed by slot with nil holes.
func (r *Recorder) Update(simTime, _ float64, insts []*vehicle.Instance) {
	if simTime < r.next {
		return
	}
	r.next = simTime + r.interval
	r.frames++

	f := Frame{Frame: r.frames, Time: simTime}
	for _, v := range insts {
		if v == nil {
			continue
		}
		f.Samples = append(f.Samples, Sample{
			Slot:   v.ID,
			Asset:  v.Asset,
			Origin: v.SourceID,
			Stream: v.StreamID,
			State:  uint8(v.State),
			X:      v.Position.X,
			Y:      v.Position.Y,
			Z:      v.Position.Z,
		})
	}
	r.buf = append(r.buf, f)
}

// Buffered returns the number of frames not yet flushed.
func (r *Recorder) Buffered() int { return len(r.buf) }

// Flush writes the buffered frames once flushEvery of them have piled up, or
// unconditionally when force is set. On a sink error the frames are dropped.
func (r *Recorder) Flush(ctx context.Context, force bool) error {
	if len(r.buf) == 0 || (!force && len(r.buf) < r.flushEvery) {
		return nil
	}
	err := r.sink.WriteFrames(ctx, r.buf)
	if err != nil {
		r.log.Warn("replay frames dropped", zap.Int("frames", len(r.buf)), zap.Error(err))
	}
	clear(r.buf)
	r.buf = r.buf[:0]
	return err
}

// Close flushes what is left and closes the sink.
func (r *Recorder) Close(ctx context.Context) error {
	ferr := r.Flush(ctx, true)
	if err := r.sink.Close(); err != nil {
		return err
	}
	return ferr
}
