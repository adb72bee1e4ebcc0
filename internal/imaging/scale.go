package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Formats produced for the peer.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
)

// DefaultJPEGQuality matches what the peer was tuned for.
const DefaultJPEGQuality = 80

// Rasterize draws src at its intrinsic size onto a fresh RGBA canvas. Sources
// without a usable size become a 1×1 transparent pixel rather than an error.
func Rasterize(src image.Image) *image.RGBA {
	if src == nil || src.Bounds().Empty() {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return dst
}

// Scale resamples src to a size×size square with bilinear filtering.
func Scale(src image.Image, size int) (img *image.RGBA, err error) {
	if src == nil || src.Bounds().Empty() {
		return nil, &Error{Op: "scale", Err: ErrEmpty}
	}
	if size <= 0 {
		return nil, &Error{Op: "scale", Err: fmt.Errorf("invalid size %d", size)}
	}
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = &Error{Op: "scale", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img at the given quality (1-100, 0 means DefaultJPEGQuality).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// Thumbnail scales src to size and encodes it as JPEG.
func Thumbnail(src image.Image, size, quality int) ([]byte, error) {
	scaled, err := Scale(src, size)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(scaled, quality)
}

// IconPNG rasterizes an app icon, scales it to size and encodes it as PNG.
func IconPNG(src image.Image, size int) ([]byte, error) {
	scaled, err := Scale(Rasterize(src), size)
	if err != nil {
		return nil, err
	}
	return EncodePNG(scaled)
}
