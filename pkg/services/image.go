package services

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
)

// ErrNotImage is returned for sources that are not a decodable JPEG, PNG or WebP.
var ErrNotImage = errors.New("not a supported raster image")

// ImageProcessor turns an uploaded image into the stored representation.
type ImageProcessor interface {
	Process(raw []byte) ([]byte, error)
}

// WebPProcessor downsizes to MaxWidth and re-encodes as lossy WebP. Sources
// whose header declares more than MaxPixels pixels are not decoded.
type WebPProcessor struct {
	MaxWidth  int
	MaxPixels int
	Quality   int
}

func NewWebPProcessor() *WebPProcessor {
	return &WebPProcessor{MaxWidth: 1920, MaxPixels: 50_000_000, Quality: 85}
}

func (p *WebPProcessor) Process(raw []byte) ([]byte, error) {
	img, err := decodeRaster(raw, p.MaxPixels)
	if err != nil {
		return nil, err
	}

	img = ScaleToWidth(img, p.MaxWidth)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: p.Quality}); err != nil {
		return nil, fmt.Errorf("encoding webp: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeRaster reads the header first and refuses to decode images with more
// than maxPixels pixels. A non-positive maxPixels disables the check.
func decodeRaster(raw []byte, maxPixels int) (image.Image, error) {
	var (
		decode       func(io.Reader) (image.Image, error)
		decodeConfig func(io.Reader) (image.Config, error)
	)
	switch mimetype.Detect(raw).String() {
	case "image/jpeg":
		decode, decodeConfig = jpeg.Decode, jpeg.DecodeConfig
	case "image/png":
		decode, decodeConfig = png.Decode, png.DecodeConfig
	case "image/webp":
		decode, decodeConfig = webp.Decode, webp.DecodeConfig
	default:
		return nil, ErrNotImage
	}

	cfg, err := decodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrNotImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return img, nil
}

// ScaleToWidth returns src unchanged when it is at most maxWidth wide, and
// otherwise a copy exactly maxWidth wide with the height scaled
// proportionally and rounded to the nearest pixel. Alpha is kept.
func ScaleToWidth(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxWidth {
		return src
	}

	newHeight := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
