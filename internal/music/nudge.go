package music

import (
	"sync/atomic"
	"time"
)

// DefaultSyncInterval is how often the summary is re-sent while playing.
const DefaultSyncInterval = 5 * time.Second

// Ticker runs named periodic jobs. Every replaces an existing job of the same
// name. *cron.Scheduler satisfies it.
type Ticker interface {
	Every(name string, interval time.Duration, fn func())
	Cancel(name string)
}

// Nudge re-runs fire on a fixed interval. Ticks are posted back onto the
// dispatch loop and dropped there if the nudge was stopped or restarted since
// the tick was scheduled, so at most one timer is ever live.
//
// Start, Stop and Active must be called on the dispatch loop.
type Nudge struct {
	ticker   Ticker
	name     string
	interval time.Duration
	post     func(func()) bool
	fire     func()

	active bool
	gen    atomic.Uint64
}

func NewNudge(ticker Ticker, name string, interval time.Duration, post func(func()) bool, fire func()) *Nudge {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Nudge{
		ticker:   ticker,
		name:     name,
		interval: interval,
		post:     post,
		fire:     fire,
	}
}

// Start cancels any running timer and schedules a fresh one.
func (n *Nudge) Start() {
	g := n.gen.Add(1)
	n.active = true
	n.ticker.Every(n.name, n.interval, func() {
		if n.gen.Load() != g {
			return
		}
		n.post(func() {
			if n.active && n.gen.Load() == g {
				n.fire()
			}
		})
	})
}

// Stop cancels the timer. Ticks already posted are ignored.
func (n *Nudge) Stop() {
	if !n.active {
		return
	}
	n.active = false
	n.gen.Add(1)
	n.ticker.Cancel(n.name)
}

// Active reports whether the timer is running.
func (n *Nudge) Active() bool { return n.active }
