package music

import (
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/host"
)

// Clock supplies the current time to the position estimate.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// EstimatePosition returns where playback is at now. A paused or stopped
// session sits at its last sample; a playing one has advanced by the time
// since that sample times the playback speed. Time running backwards and
// negative speeds count as no progress.
func EstimatePosition(state *host.PlaybackState, now time.Time) int64 {
	if state == nil {
		return 0
	}
	pos := state.PositionMillis
	if !state.Playing() || state.LastPositionUpdate.IsZero() {
		return pos
	}
	elapsed := now.Sub(state.LastPositionUpdate)
	if elapsed <= 0 || state.Speed <= 0 {
		return pos
	}
	return pos + int64(float64(elapsed.Milliseconds())*state.Speed)
}

// clampToDuration keeps pos within [0, duration] when the duration is known.
func clampToDuration(pos, duration int64) int64 {
	if pos < 0 {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}
