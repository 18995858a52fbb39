package fleet

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/simfleet/server/internal/vehicle"
)

func TestWorkerPingPong(t *testing.T) {
	var running, steps atomic.Int32
	w := NewWorker(func(group []*vehicle.Instance, dt float64) {
		running.Store(1)
		time.Sleep(100 * time.Microsecond)
		steps.Add(int32(len(group)))
		running.Store(0)
	}, false, zaptest.NewLogger(t))
	defer w.Close()

	v := &vehicle.Instance{}
	for i := 0; i < 50; i++ {
		w.Dispatch([]*vehicle.Instance{v}, 0.01)
		if !w.Busy() {
			t.Fatalf("dispatched step not reported busy")
		}
		w.WaitForSync()
		if running.Load() != 0 {
			t.Fatalf("tick %d: barrier returned while the step was running", i)
		}
		// A second barrier with nothing in flight returns at once.
		w.WaitForSync()
	}
	if steps.Load() != 50 {
		t.Fatalf("steps=%d want=50", steps.Load())
	}
}

func TestWorkerDispatchSyncsOutstandingStep(t *testing.T) {
	var steps atomic.Int32
	w := NewWorker(func([]*vehicle.Instance, float64) {
		time.Sleep(50 * time.Microsecond)
		steps.Add(1)
	}, false, zaptest.NewLogger(t))
	w.Dispatch(nil, 0)
	w.Dispatch(nil, 0)
	w.Close()
	if steps.Load() != 2 {
		t.Fatalf("steps=%d want=2", steps.Load())
	}
	w.Dispatch(nil, 0)
	w.Close()
	if steps.Load() != 2 {
		t.Fatalf("dispatch after close ran a step")
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	calls := 0
	w := NewWorker(func([]*vehicle.Instance, float64) {
		calls++
		if calls == 1 {
			panic("bad body")
		}
	}, false, zaptest.NewLogger(t))
	defer w.Close()
	w.Dispatch(nil, 0)
	w.WaitForSync()
	w.Dispatch(nil, 0)
	w.WaitForSync()
	if calls != 2 {
		t.Fatalf("calls=%d want=2", calls)
	}
}

func TestInlineWorker(t *testing.T) {
	steps := 0
	w := NewWorker(func([]*vehicle.Instance, float64) { steps++ }, true, zaptest.NewLogger(t))
	w.Dispatch(nil, 0)
	if steps != 1 || w.Busy() {
		t.Fatalf("steps=%d busy=%v", steps, w.Busy())
	}
	w.Close()
}

func TestPool(t *testing.T) {
	if got := PoolSize(true, 8, 16); got != 0 {
		t.Fatalf("disabled size=%d", got)
	}
	if got := PoolSize(false, 3, 2); got != 3 {
		t.Fatalf("configured size=%d", got)
	}
	if got := PoolSize(false, 0, 2); got != 0 {
		t.Fatalf("two cores size=%d", got)
	}
	if got := PoolSize(false, 0, 8); got != 8 {
		t.Fatalf("eight cores size=%d", got)
	}

	for _, p := range []*Pool{nil, NewPool(1), NewPool(4)} {
		var hits [32]atomic.Int32
		p.Run(len(hits), func(i int) { hits[i].Add(1) })
		for i := range hits {
			if hits[i].Load() != 1 {
				t.Fatalf("size %d: index %d ran %d times", p.Size(), i, hits[i].Load())
			}
		}
	}
}
