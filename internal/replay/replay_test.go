package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

type memSink struct {
	frames []Frame
	fail   error
	closed bool
}

func (m *memSink) WriteFrames(_ context.Context, frames []Frame) error {
	if m.fail != nil {
		return m.fail
	}
	m.frames = append(m.frames, frames...)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func fleetOf(xs ...float64) []*vehicle.Instance {
	out := make([]*vehicle.Instance, len(xs)+1)
	for i, x := range xs {
		// slot 0 left as a hole
		out[i+1] = &vehicle.Instance{ID: i + 1, Asset: "car", Position: geom.Vec3{X: x}}
	}
	return out
}

func TestRecorderSamplesAtInterval(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 100*time.Millisecond, 3, zaptest.NewLogger(t))
	insts := fleetOf(1, 2)
	for i := range 10 {
		r.Update(float64(i)*0.05, 0.05, insts)
	}
	// t = 0, 0.1, 0.2, 0.3, 0.4 with float slack on the boundaries
	if n := r.Buffered(); n < 4 || n > 5 {
		t.Fatalf("buffered=%d want 4..5", n)
	}
	if err := r.Flush(context.Background(), false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if r.Buffered() != 0 || len(sink.frames) < 4 {
		t.Fatalf("buffered=%d written=%d", r.Buffered(), len(sink.frames))
	}
	f := sink.frames[0]
	if f.Frame != 1 || len(f.Samples) != 2 || f.Samples[1].Slot != 2 || f.Samples[1].X != 2 {
		t.Fatalf("frame=%+v", f)
	}
}

func TestRecorderHoldsUntilBatchFull(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 0, 4, zaptest.NewLogger(t))
	r.Update(0, 0, fleetOf(1))
	r.Update(1, 0, fleetOf(1))
	if err := r.Flush(context.Background(), false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sink.frames) != 0 {
		t.Fatalf("flushed early: %d", len(sink.frames))
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(sink.frames) != 2 || !sink.closed {
		t.Fatalf("frames=%d closed=%v", len(sink.frames), sink.closed)
	}
}

func TestRecorderDropsOnSinkError(t *testing.T) {
	sink := &memSink{fail: errors.New("disk full")}
	r := NewRecorder(sink, 0, 1, zaptest.NewLogger(t))
	r.Update(0, 0, fleetOf(1))
	if err := r.Flush(context.Background(), false); err == nil {
		t.Fatalf("expected sink error")
	}
	if r.Buffered() != 0 {
		t.Fatalf("frames kept after failure: %d", r.Buffered())
	}
}

func TestFileSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir, "replay")
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()
	if err := s.WriteFrames(ctx, []Frame{{Frame: 1, Time: 0.1}, {Frame: 2, Time: 0.2, Samples: []Sample{{Slot: 4, Asset: "bus"}}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Reopening appends a second zstd frame to the same file.
	if err := s.WriteFrames(ctx, []Frame{{Frame: 3}}); err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	s.Close()

	var got []Frame
	path := filepath.Join(dir, "replay-2026-01-02-03.jsonl.zst")
	if err := ReadFile(path, func(f Frame) error { got = append(got, f); return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[1].Samples[0].Asset != "bus" || got[2].Frame != 3 {
		t.Fatalf("got=%+v", got)
	}
}

func TestSQLiteSinkIndexesFrames(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "replay.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	frames := []Frame{
		{Frame: 1, Samples: []Sample{{Slot: 0, Asset: "car"}, {Slot: 1, Asset: "car"}}},
		{Frame: 2, Samples: []Sample{{Slot: 0, Asset: "car"}}},
	}
	if err := s.WriteFrames(context.Background(), frames); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Written() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("frames not committed: %d", s.Written())
		}
		time.Sleep(10 * time.Millisecond)
	}
	n, err := s.FrameCount(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}
