// Package worker runs background jobs for one bridge on a single goroutine.
//
// Jobs run one at a time in submission order. A job submitted with a key
// supersedes the previous job with that key: a queued one is dropped, a running
// one has its context cancelled. A superseded or cancelled job can no longer
// deliver results, so the peer never receives output from a stale job once
// its replacement has been accepted.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned when submitting to a worker that is shutting down.
var ErrClosed = errors.New("worker closed")

// DefaultDrainTimeout bounds how long Shutdown waits for queued jobs.
const DefaultDrainTimeout = time.Second

// Job is one unit of background work.
type Job func(t *Task)

// Option configures a submitted task.
type Option func(*Task)

// OnDone registers fn to run exactly once when the task is finished: after its
// job returns, or when it is dropped without running. Jobs that own resources
// release them here so every exit path is covered.
func OnDone(fn func()) Option {
	return func(t *Task) {
		t.onDone = append(t.onDone, fn)
	}
}

// Task is a submitted job.
type Task struct {
	Key string

	w        *Worker
	job      Job
	ctx      context.Context
	cancel   context.CancelFunc
	dead     bool // guarded by w.emitMu
	onDone   []func()
	doneOnce sync.Once
}

// Context is cancelled when the task is superseded or the worker is shut down.
func (t *Task) Context() context.Context { return t.ctx }

// Cancelled reports whether the task can no longer deliver.
func (t *Task) Cancelled() bool {
	t.w.emitMu.Lock()
	defer t.w.emitMu.Unlock()
	return t.dead || t.w.terminated
}

// Deliver runs fn unless the task was cancelled. Cancellation waits for an
// in-progress Deliver, so after SubmitLatest, Cancel or Shutdown returns the
// superseded task delivers nothing more. fn must not block.
func (t *Task) Deliver(fn func()) bool {
	t.w.emitMu.Lock()
	defer t.w.emitMu.Unlock()
	if t.dead || t.w.terminated {
		return false
	}
	fn()
	return true
}

func (t *Task) kill() {
	t.cancel()
	t.w.emitMu.Lock()
	t.dead = true
	t.w.emitMu.Unlock()
}

func (t *Task) finish() {
	t.doneOnce.Do(func() {
		t.cancel()
		for _, fn := range t.onDone {
			fn()
		}
	})
}

// Worker is a single-goroutine FIFO job runner.
type Worker struct {
	name string

	mu      sync.Mutex
	queue   []*Task
	latest  map[string]*Task
	running *Task
	closed  bool

	emitMu     sync.Mutex
	terminated bool // guarded by emitMu

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wake       chan struct{}
	done       chan struct{}
}

// New starts a worker goroutine. name is used in logs.
func New(name string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		name:       name,
		latest:     make(map[string]*Task),
		baseCtx:    ctx,
		baseCancel: cancel,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues job behind everything already submitted.
func (w *Worker) Submit(job Job, opts ...Option) error {
	return w.enqueue("", job, opts)
}

// SubmitLatest queues job under key, superseding any pending or running job
// with the same key.
func (w *Worker) SubmitLatest(key string, job Job, opts ...Option) error {
	return w.enqueue(key, job, opts)
}

func (w *Worker) enqueue(key string, job Job, opts []Option) error {
	ctx, cancel := context.WithCancel(w.baseCtx)
	t := &Task{Key: key, w: w, job: job, ctx: ctx, cancel: cancel}
	for _, opt := range opts {
		opt(t)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		t.finish()
		return ErrClosed
	}
	var superseded *Task
	var dropped bool
	if key != "" {
		if prev, ok := w.latest[key]; ok {
			superseded = prev
			dropped = w.removeQueuedLocked(prev)
		}
		w.latest[key] = t
	}
	w.queue = append(w.queue, t)
	w.mu.Unlock()

	if superseded != nil {
		superseded.kill()
		if dropped {
			superseded.finish()
		}
		slog.Debug("worker job superseded", "worker", w.name, "key", key, "queued", dropped)
	}
	w.signal()
	return nil
}

// Cancel supersedes the job with key without replacing it.
func (w *Worker) Cancel(key string) {
	w.mu.Lock()
	t, ok := w.latest[key]
	var dropped bool
	if ok {
		delete(w.latest, key)
		dropped = w.removeQueuedLocked(t)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	t.kill()
	if dropped {
		t.finish()
	}
}

// Pending returns the number of queued jobs, not counting the running one.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Shutdown cancels keyed jobs, refuses new ones and waits up to timeout for the
// remaining queue to drain. If the wait times out every remaining job is
// cancelled and can no longer deliver; a job stuck in non-cancellable work is
// abandoned. Shutdown reports whether the queue drained in time. It is safe to
// call more than once.
func (w *Worker) Shutdown(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		select {
		case <-w.done:
			return true
		default:
			return false
		}
	}
	w.closed = true
	var keyed, dropped []*Task
	for _, t := range w.latest {
		keyed = append(keyed, t)
		if w.removeQueuedLocked(t) {
			dropped = append(dropped, t)
		}
	}
	clear(w.latest)
	w.mu.Unlock()

	for _, t := range keyed {
		t.kill()
	}
	for _, t := range dropped {
		t.finish()
	}
	w.signal()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
	}

	w.emitMu.Lock()
	w.terminated = true
	w.emitMu.Unlock()
	w.baseCancel()

	w.mu.Lock()
	rest := w.queue
	w.queue = nil
	running := w.running
	w.mu.Unlock()
	for _, t := range rest {
		t.finish()
	}
	attrs := []any{"worker", w.name, "timeout", timeout, "dropped", len(rest)}
	if running != nil {
		attrs = append(attrs, "abandoned", running.Key)
	}
	slog.Warn("worker drain timed out, forcing termination", attrs...)
	return false
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) removeQueuedLocked(t *Task) bool {
	for i, q := range w.queue {
		if q == t {
			copy(w.queue[i:], w.queue[i+1:])
			w.queue[len(w.queue)-1] = nil
			w.queue = w.queue[:len(w.queue)-1]
			return true
		}
	}
	return false
}

func (w *Worker) loop() {
	defer close(w.done)
	defer w.baseCancel()
	for {
		t, ok := w.next()
		if !ok {
			return
		}
		w.run(t)
	}
}

func (w *Worker) next() (*Task, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			t := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.running = t
			w.mu.Unlock()
			return t, true
		}
		if w.closed {
			w.mu.Unlock()
			return nil, false
		}
		w.mu.Unlock()
		<-w.wake
	}
}

func (w *Worker) run(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker job panicked", "worker", w.name, "key", t.Key, "panic", r)
		}
		w.mu.Lock()
		w.running = nil
		if t.Key != "" && w.latest[t.Key] == t {
			delete(w.latest, t.Key)
		}
		w.mu.Unlock()
		t.finish()
	}()
	if t.Cancelled() {
		return
	}
	t.job(t)
}
