package imaging

import (
	"context"
	"image"
	"log/slog"

	"github.com/DimaMzk/AnotherGlass/internal/message"
)

// Step is one resolution tier of a progressive delivery.
type Step struct {
	Tier message.Tier
	Size int
}

// Steps returns the usual small-then-large pair.
func Steps(small, large int) []Step {
	return []Step{
		{Tier: message.TierSmall, Size: small},
		{Tier: message.TierLarge, Size: large},
	}
}

// Progressive encodes src once per step, smallest first, and hands each result
// to emit. A failed step is logged and skipped; the next one still runs.
// It stops when ctx is done or emit returns false, and returns the number of
// tiers emitted.
func Progressive(ctx context.Context, src image.Image, steps []Step, quality int, emit func(Step, []byte) bool) int {
	sent := 0
	for _, step := range steps {
		if ctx.Err() != nil {
			return sent
		}
		data, err := Thumbnail(src, step.Size, quality)
		if err != nil {
			slog.Warn("image tier failed", "tier", step.Tier, "size", step.Size, "error", err)
			continue
		}
		if !emit(step, data) {
			return sent
		}
		sent++
	}
	return sent
}
