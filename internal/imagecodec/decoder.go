// Package imagecodec turns transport-encoded still images into face.PixelGrid values.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/example/faceid/internal/face"
)

// DefaultMaxPixels bounds the declared size of an image before it is decoded.
// 16 MP covers 4K frames and common phone cameras.
const DefaultMaxPixels = 16_000_000

// ErrTooManyPixels marks images whose header declares more pixels than allowed.
var ErrTooManyPixels = fmt.Errorf("%w: image exceeds pixel limit", face.ErrDecode)

// DataURLBytes strips an optional data URL header, as produced by
// canvas.toDataURL, and returns the encoded bytes.
func DataURLBytes(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", face.ErrDecode)
	}

	raw, err := decodeBase64(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrDecode, err)
	}
	return raw, nil
}

func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	s = strings.TrimRight(s, "=")
	if raw, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Decode parses raw image bytes and normalizes them to a 3-channel grid,
// refusing images larger than DefaultMaxPixels.
func Decode(data []byte) (*face.PixelGrid, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel limit. The header is checked
// before any pixel buffer is allocated.
func DecodeLimit(data []byte, maxPixels int) (*face.PixelGrid, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", face.ErrDecode)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", face.ErrDecode)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d, limit %d", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrDecode, err)
	}
	return FromImage(img)
}

// FromImage converts any image.Image to RGB, dropping alpha.
func FromImage(img image.Image) (*face.PixelGrid, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", face.ErrDecode)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	grid := face.NewPixelGrid(b.Dx(), b.Dy())
	for y := 0; y < grid.Height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+grid.Width*4]
		dst := grid.Pix[y*grid.Width*3 : (y+1)*grid.Width*3]
		for x := 0; x < grid.Width; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return grid, nil
}

// ToImage wraps the grid as an opaque RGBA image.
func ToImage(grid *face.PixelGrid) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, grid.Width, grid.Height))
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			si := (y*grid.Width + x) * 3
			di := y*img.Stride + x*4
			img.Pix[di] = grid.Pix[si]
			img.Pix[di+1] = grid.Pix[si+1]
			img.Pix[di+2] = grid.Pix[si+2]
			img.Pix[di+3] = 0xff
		}
	}
	return img
}

// EncodePNG serializes the grid losslessly.
func EncodePNG(grid *face.PixelGrid) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, ToImage(grid)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
