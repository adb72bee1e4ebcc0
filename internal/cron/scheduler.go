package cron

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named periodic tasks. Each name has at most one schedule:
// scheduling a name again replaces the previous entry, so repeated starts never
// stack timers.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entryMap map[string]cron.EntryID // name → cron entry
	started  bool
}

func NewScheduler() *Scheduler {
	logger := slogLogger{}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		entryMap: make(map[string]cron.EntryID),
	}
}

// Start begins firing entries.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	slog.Info("periodic scheduler started", "entries", len(s.entryMap))
}

// Stop halts the scheduler and waits for running entries to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// Every runs fn every interval under name, replacing any existing entry with
// that name. Intervals below one second are rounded up to one second.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryMap[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, name)
	}
	s.entryMap[name] = s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))
}

// Cancel removes the entry with name, if any.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryMap[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, name)
	}
}

// Active reports whether name currently has an entry.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entryMap[name]
	return ok
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// slogLogger routes robfig/cron logging into slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
