package fleet

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/simfleet/server/internal/vehicle"
)

// StepFunc advances one tick's simulated group. group[0] is the designated
// instance.
type StepFunc func(group []*vehicle.Instance, dt float64)

type job struct {
	group []*vehicle.Instance
	dt    float64
}

// Worker runs steps on a persistent goroutine in strict ping-pong with the
// tick goroutine. Dispatch hands over a group; until WaitForSync returns, the
// tick goroutine must not touch any instance in that group.
//
// All methods belong to the tick goroutine.
type Worker struct {
	step   StepFunc
	log    *zap.Logger
	work   chan job
	done   chan struct{}
	exited chan struct{}

	inline bool
	busy   bool
	closed bool
}

// NewWorker starts the worker goroutine. With inline set no goroutine is
// started and Dispatch steps synchronously.
func NewWorker(step StepFunc, inline bool, log *zap.Logger) *Worker {
	w := &Worker{
		step:   step,
		log:    log,
		inline: inline,
	}
	if inline {
		return w
	}
	w.work = make(chan job, 1)
	w.done = make(chan struct{}, 1)
	w.exited = make(chan struct{})
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.exited)
	for j := range w.work {
		w.run(j)
		w.done <- struct{}{}
	}
}

// run steps a group and survives a panicking body so the barrier is always
// released.
func (w *Worker) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("step panic",
				zap.String("panic", fmt.Sprint(r)),
				zap.Int("group", len(j.group)),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	w.step(j.group, j.dt)
}

// Dispatch hands a group to the worker and returns without waiting, unless
// the worker is inline. An outstanding step is synced first.
func (w *Worker) Dispatch(group []*vehicle.Instance, dt float64) {
	if w.closed {
		return
	}
	if w.inline {
		w.run(job{group: group, dt: dt})
		return
	}
	w.WaitForSync()
	w.busy = true
	w.work <- job{group: group, dt: dt}
}

// WaitForSync blocks until the last dispatched step has finished. It returns
// at once when nothing is in flight.
func (w *Worker) WaitForSync() {
	if !w.busy {
		return
	}
	<-w.done
	w.busy = false
}

// Busy reports whether a dispatched step has not been synced yet.
func (w *Worker) Busy() bool { return w.busy }

// Close syncs and stops the worker goroutine. Later dispatches are dropped.
func (w *Worker) Close() {
	if w.closed {
		return
	}
	w.WaitForSync()
	w.closed = true
	if !w.inline {
		close(w.work)
		<-w.exited
	}
}
