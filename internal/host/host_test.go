package host

import (
	"errors"
	"testing"
)

func TestTry(t *testing.T) {
	v, err := Try("ok", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Try() = %d, %v, want 7, nil", v, err)
	}

	boom := errors.New("boom")
	_, err = Try("fail", func() (int, error) { return 1, boom })
	if !errors.Is(err, boom) {
		t.Errorf("Try() error = %v, want %v", err, boom)
	}

	v, err = Try("panics", func() (int, error) { panic("recycled") })
	if err == nil {
		t.Fatal("Try() should turn a panic into an error")
	}
	if v != 0 {
		t.Errorf("Try() value after panic = %d, want 0", v)
	}
}

func TestParsePlaybackStatus(t *testing.T) {
	tests := []struct {
		in   string
		want PlaybackStatus
	}{
		{"playing", StatePlaying},
		{"paused", StatePaused},
		{"stopped", StateStopped},
		{"buffering", StateBuffering},
		{"", StateNone},
		{"rewinding", StateNone},
	}
	for _, tt := range tests {
		if got := ParsePlaybackStatus(tt.in); got != tt.want {
			t.Errorf("ParsePlaybackStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if tt.want != StateNone && tt.want.String() != tt.in {
			t.Errorf("%v.String() = %q, want %q", tt.want, tt.want.String(), tt.in)
		}
	}
}

func TestPlaybackStatePlaying(t *testing.T) {
	var nilState *PlaybackState
	if nilState.Playing() {
		t.Error("nil state should not be playing")
	}
	if !(&PlaybackState{State: StatePlaying}).Playing() {
		t.Error("playing state should be playing")
	}
	if (&PlaybackState{State: StateBuffering}).Playing() {
		t.Error("buffering state should not be playing")
	}
}
