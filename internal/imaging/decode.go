package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode parses encoded image bytes in any registered format (PNG, JPEG, GIF,
// BMP, TIFF, WebP) and returns the image with its format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &Error{Op: "decode", Err: ErrEmpty}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &Error{Op: "decode", Err: err}
	}
	return img, format, nil
}

// DecodeBase64 decodes a standard base64 payload and then the image inside it.
func DecodeBase64(s string) (image.Image, error) {
	if s == "" {
		return nil, &Error{Op: "decode", Err: ErrEmpty}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &Error{Op: "decode", Err: fmt.Errorf("base64: %w", err)}
	}
	img, _, err := Decode(data)
	return img, err
}
