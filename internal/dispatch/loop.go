// Package dispatch provides the ordered event-delivery context: callbacks posted
// to a Loop run one at a time, in posting order, on a single goroutine.
package dispatch

import (
	"log/slog"
	"sync"
)

// Loop is a single-goroutine callback queue. Post never blocks.
type Loop struct {
	name string

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func New(name string) *Loop {
	l := &Loop{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it. It must not be called from the
// loop itself. After Close, fn runs on the caller's goroutine.
func (l *Loop) Call(fn func()) {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		fn()
		return
	}
	<-done
}

// Close stops accepting callbacks, runs what is already queued and waits for
// the loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch callback panicked", "loop", l.name, "panic", r)
		}
	}()
	fn()
}
