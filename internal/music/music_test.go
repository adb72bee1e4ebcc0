package music

import (
	"testing"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/host/hosttest"
)

func TestEstimatePosition(t *testing.T) {
	base := time.Unix(1700000000, 0)
	tests := []struct {
		name  string
		state *host.PlaybackState
		now   time.Time
		want  int64
	}{
		{"nil state", nil, base, 0},
		{"paused", &host.PlaybackState{State: host.StatePaused, PositionMillis: 42000, LastPositionUpdate: base, Speed: 1}, base.Add(time.Minute), 42000},
		{"playing", &host.PlaybackState{State: host.StatePlaying, PositionMillis: 1000, LastPositionUpdate: base, Speed: 1}, base.Add(2500 * time.Millisecond), 3500},
		{"double speed", &host.PlaybackState{State: host.StatePlaying, PositionMillis: 1000, LastPositionUpdate: base, Speed: 2}, base.Add(time.Second), 3000},
		{"clock behind sample", &host.PlaybackState{State: host.StatePlaying, PositionMillis: 1000, LastPositionUpdate: base, Speed: 1}, base.Add(-time.Second), 1000},
		{"negative speed", &host.PlaybackState{State: host.StatePlaying, PositionMillis: 1000, LastPositionUpdate: base, Speed: -1}, base.Add(time.Second), 1000},
		{"buffering", &host.PlaybackState{State: host.StateBuffering, PositionMillis: 500, LastPositionUpdate: base, Speed: 1}, base.Add(time.Second), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimatePosition(tt.state, tt.now); got != tt.want {
				t.Errorf("EstimatePosition() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimatePositionMonotonic(t *testing.T) {
	base := time.Unix(1700000000, 0)
	for _, speed := range []float64{0, 0.5, 1, 1.25, 3} {
		state := &host.PlaybackState{State: host.StatePlaying, PositionMillis: 7000, LastPositionUpdate: base, Speed: speed}
		prev := EstimatePosition(state, base.Add(-time.Second))
		for step := 0; step < 200; step++ {
			now := base.Add(time.Duration(step*137) * time.Millisecond)
			got := EstimatePosition(state, now)
			if got < prev {
				t.Fatalf("speed %v: estimate went back from %d to %d at step %d", speed, prev, got, step)
			}
			prev = got
		}
	}
}

func TestClampToDuration(t *testing.T) {
	tests := []struct{ pos, dur, want int64 }{
		{-5, 1000, 0},
		{500, 1000, 500},
		{1500, 1000, 1000},
		{1500, 0, 1500},
	}
	for _, tt := range tests {
		if got := clampToDuration(tt.pos, tt.dur); got != tt.want {
			t.Errorf("clampToDuration(%d, %d) = %d, want %d", tt.pos, tt.dur, got, tt.want)
		}
	}
}

type nopCallback struct{ token string }

func (nopCallback) OnPlaybackStateChanged(*host.PlaybackState) {}
func (nopCallback) OnMetadataChanged(host.Metadata)            {}
func (nopCallback) OnSessionDestroyed()                        {}

func newTestArbiter() *Arbiter {
	return NewArbiter("app.y", func(token string) host.MediaCallback { return &nopCallback{token: token} })
}

func TestArbiterTransitions(t *testing.T) {
	a := newTestArbiter()
	s1 := hosttest.NewController("app.x", "s1")
	s2 := hosttest.NewController("app.y", "s2")

	if got := a.Update(nil); got != TransitionNone {
		t.Errorf("Update(empty) = %v, want none", got)
	}
	if got := a.Update([]host.MediaController{s1}); got != TransitionNone || a.Tracked() != nil {
		t.Errorf("Update([s1]) = %v, want none and untracked", got)
	}
	if s1.Callbacks() != 0 {
		t.Error("non-preferred session was subscribed")
	}

	if got := a.Update([]host.MediaController{s1, s2}); got != TransitionTracked {
		t.Fatalf("Update([s1 s2]) = %v, want tracked", got)
	}
	if a.Token() != "s2" || s2.Callbacks() != 1 {
		t.Errorf("tracked %q with %d callbacks, want s2 with 1", a.Token(), s2.Callbacks())
	}

	// A recreated controller for the same session is the same session.
	again := hosttest.NewController("app.y", "s2")
	if got := a.Update([]host.MediaController{s1, again}); got != TransitionNone {
		t.Errorf("Update(recreated s2) = %v, want none", got)
	}
	if again.Callbacks() != 0 || s2.Callbacks() != 1 {
		t.Error("recreated controller caused a resubscribe")
	}

	s3 := hosttest.NewController("app.y", "s3")
	if got := a.Update([]host.MediaController{s3}); got != TransitionSwitched {
		t.Fatalf("Update([s3]) = %v, want switched", got)
	}
	if s2.Callbacks() != 0 || s3.Callbacks() != 1 || a.Token() != "s3" {
		t.Errorf("after switch: s2 %d callbacks, s3 %d, token %q", s2.Callbacks(), s3.Callbacks(), a.Token())
	}

	if got := a.Update([]host.MediaController{s1}); got != TransitionCleared {
		t.Fatalf("Update([s1]) = %v, want cleared", got)
	}
	if s3.Callbacks() != 0 || a.Tracked() != nil {
		t.Error("cleared session still subscribed")
	}
}

func TestArbiterDestroyedAndReset(t *testing.T) {
	a := newTestArbiter()
	s := hosttest.NewController("app.y", "s")
	a.Update([]host.MediaController{s})

	if got := a.Destroyed(); got != TransitionCleared || s.Callbacks() != 0 {
		t.Errorf("Destroyed() = %v, callbacks %d", got, s.Callbacks())
	}
	if got := a.Destroyed(); got != TransitionNone {
		t.Errorf("Destroyed() while untracked = %v, want none", got)
	}

	a.Update([]host.MediaController{s})
	a.Reset()
	if a.Tracked() != nil || s.Callbacks() != 0 {
		t.Error("Reset() left the session subscribed")
	}
}

type panickyController struct{ *hosttest.Controller }

func (panickyController) PackageName() string { panic("recycled") }

func TestArbiterSkipsBrokenController(t *testing.T) {
	a := newTestArbiter()
	good := hosttest.NewController("app.y", "good")
	broken := panickyController{hosttest.NewController("app.y", "broken")}
	if got := a.Update([]host.MediaController{broken, good}); got != TransitionTracked || a.Token() != "good" {
		t.Errorf("Update() = %v tracking %q, want the readable session", got, a.Token())
	}
}
