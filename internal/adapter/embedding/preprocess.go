package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"imgsearch/internal/domain"
)

// DefaultInputSize is the square input resolution of ViT-based CLIP image towers.
const DefaultInputSize = 224

// DefaultMaxPixels bounds the decoded size of an input image.
const DefaultMaxPixels = 40_000_000

// ReadImage reads an image file. Any failure is an input error.
func ReadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %v: %w", path, err, domain.ErrInput)
	}
	return data, nil
}

// Preprocess decodes an encoded image, takes its centered square and scales
// it to size x size, then re-encodes it as PNG. Images larger than maxPixels
// (width x height) are rejected before decoding.
func Preprocess(data []byte, size, maxPixels int) ([]byte, error) {
	if size <= 0 {
		size = DefaultInputSize
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode header: %v: %w", err, domain.ErrUnreadableImage)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("empty image %dx%d: %w", cfg.Width, cfg.Height, domain.ErrUnreadableImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("image %dx%d exceeds %d pixels: %w",
			cfg.Width, cfg.Height, maxPixels, domain.ErrUnreadableImage)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, domain.ErrUnreadableImage)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image %dx%d: %w", w, h, domain.ErrUnreadableImage)
	}

	// Scaling the crop directly keeps the output buffer at size x size
	// whatever the aspect ratio.
	side := min(w, h)
	x0 := bounds.Min.X + (w-side)/2
	y0 := bounds.Min.Y + (h-side)/2
	square := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, square, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %v: %w", err, domain.ErrModel)
	}
	return buf.Bytes(), nil
}
