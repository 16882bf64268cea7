// Package periodic implements the reusable tick-driven actor (C4): it
// wraps a user-supplied task and an interval behind the kernel's actor
// contract.
package periodic

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
)

// Task is the user work invoked on every tick.
type Task func(ctx context.Context) error

// Worker is a periodic actor: on Start it launches an internal loop that
// races a monotonic ticker against the actor's own cancellation, invoking
// Task on each tick. At most one Task execution runs at a time — a
// semaphore.Weighted(1) enforces the no-overlapping-ticks invariant the
// same way mwaaas-machinery's AMQP broker gates concurrent consumers.
type Worker struct {
	key      string
	interval time.Duration
	task     Task
	sink     *kernerr.Sink
	logger   *zap.Logger

	sem    *semaphore.Weighted
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a periodic Worker. sink receives Runtime-kind errors from
// failed ticks; a Shutdown-kind error from Task stops the loop early,
// matching the spec's "repeated errors do not stop the loop unless the
// error kind is Shutdown" invariant.
func New(key string, interval time.Duration, task Task, sink *kernerr.Sink, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		key:      key,
		interval: interval,
		task:     task,
		sink:     sink,
		logger:   logger,
		sem:      semaphore.NewWeighted(1),
	}
}

var _ actor.Actor = (*Worker)(nil)

func (w *Worker) Key() string { return w.key }

func (w *Worker) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(loopCtx)

	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.sem.TryAcquire(1) {
				// A previous tick is still running; skip this one
				// rather than queueing overlapping work.
				continue
			}
			started := time.Now()
			w.tick(ctx)
			w.sem.Release(1)

			// Missed-tick semantics: if work ran longer than the
			// interval, the ticker is left as is, so the tick that came
			// due during the work fires immediately; otherwise the
			// period restarts from the end of this tick's work.
			if time.Since(started) < w.interval {
				ticker.Reset(w.interval)
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if err := w.task(ctx); err != nil {
		if se, ok := err.(shutdownError); ok {
			w.sink.Report(kernerr.New(kernerr.Shutdown, w.key, "periodic task requested shutdown", se.cause))
			if w.cancel != nil {
				w.cancel()
			}
			return
		}
		w.sink.Report(kernerr.New(kernerr.Runtime, w.key, "periodic task failed", err))
	}
}

// Process handles the shared Start/Stop envelope; the periodic worker has
// no actor-specific messages of its own.
func (w *Worker) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	outcome, _ := actor.HandleServiceMsg(msg)
	return outcome, nil
}

func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

// shutdownError marks a Task error as requesting loop termination rather
// than a logged-and-continue Runtime error.
type shutdownError struct{ cause error }

func (s shutdownError) Error() string { return "shutdown: " + s.cause.Error() }

// Shutdown wraps err so the worker loop treats it as a Shutdown-kind
// error (terminating the loop) instead of a Runtime-kind one.
func Shutdown(err error) error { return shutdownError{cause: err} }
