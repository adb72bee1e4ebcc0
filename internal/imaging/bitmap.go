// Package imaging turns host images into the small encoded thumbnails the peer
// can display: owned copies, square scaling, PNG/JPEG encoding and the app icon cache.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"
)

// ErrEmpty is returned for nil or zero-sized source images.
var ErrEmpty = errors.New("empty image")

// Error wraps a failure in one step of the pipeline.
type Error struct {
	Op  string // "copy", "decode", "scale", "encode"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imaging %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	pixPool     sync.Pool
	outstanding atomic.Int64
)

// Bitmap is an RGBA copy owned by exactly one goroutine. Its pixel buffer goes
// back to a pool on Release.
type Bitmap struct {
	*image.RGBA
	released atomic.Bool
}

// Clone copies src into a Bitmap the caller owns. The host may recycle src as
// soon as the current callback returns, so anything handed to a background job
// has to go through Clone first.
func Clone(src image.Image) (b *Bitmap, err error) {
	if src == nil {
		return nil, &Error{Op: "copy", Err: ErrEmpty}
	}
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = &Error{Op: "copy", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, &Error{Op: "copy", Err: ErrEmpty}
	}
	w, h := bounds.Dx(), bounds.Dy()
	rgba := &image.RGBA{
		Pix:    getPix(4 * w * h),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	draw.Draw(rgba, rgba.Rect, src, bounds.Min, draw.Src)
	outstanding.Add(1)
	return &Bitmap{RGBA: rgba}, nil
}

// Release returns the pixel buffer to the pool. It is safe to call more than once
// and on a nil Bitmap.
func (b *Bitmap) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	pix := b.Pix
	b.RGBA = nil
	outstanding.Add(-1)
	pixPool.Put(&pix)
}

// Released reports whether Release has been called.
func (b *Bitmap) Released() bool {
	return b == nil || b.released.Load()
}

// Outstanding returns the number of Bitmaps cloned but not yet released.
func Outstanding() int64 {
	return outstanding.Load()
}

func getPix(n int) []byte {
	if p, ok := pixPool.Get().(*[]byte); ok && cap(*p) >= n {
		buf := (*p)[:n]
		clear(buf)
		return buf
	}
	return make([]byte, n)
}
