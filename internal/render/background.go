package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder registration
	_ "image/jpeg" // JPEG decoder registration
	_ "image/png"  // PNG decoder registration

	_ "golang.org/x/image/bmp"  // BMP decoder registration
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder registration
)

// DefaultMaxImagePixels bounds width*height of a background image.
const DefaultMaxImagePixels = 40_000_000

var (
	// ErrUnsupportedImage is returned for background bytes no registered
	// decoder recognizes.
	ErrUnsupportedImage = errors.New("unsupported image format")

	// ErrImageTooLarge is returned when an image declares more pixels than
	// allowed. A few kilobytes of PNG can declare gigabytes of pixels.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// SniffImage reports the media type of an image without decoding its
// pixels. Only formats the renderer can draw are accepted, and only up to
// maxPixels pixels; maxPixels <= 0 means DefaultMaxImagePixels.
func SniffImage(data []byte, maxPixels int64) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return "", ErrUnsupportedImage
		}
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return "", fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxPixels {
		return "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	return "image/" + format, nil
}

func decodeBackground(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode background: %w", err)
	}
	return img, nil
}

// drawCover scales src to cover dst's rectangle r, keeping its aspect
// ratio and cropping the overflow equally on both sides.
func drawCover(dst draw.Image, r image.Rectangle, src image.Image) {
	sb := src.Bounds()
	if sb.Empty() || r.Empty() {
		return
	}

	crop := sb
	// Compare aspect ratios with integer cross-multiplication.
	if sb.Dx()*r.Dy() > r.Dx()*sb.Dy() {
		w := sb.Dy() * r.Dx() / r.Dy()
		x0 := sb.Min.X + (sb.Dx()-w)/2
		crop = image.Rect(x0, sb.Min.Y, x0+w, sb.Max.Y)
	} else {
		h := sb.Dx() * r.Dy() / r.Dx()
		y0 := sb.Min.Y + (sb.Dy()-h)/2
		crop = image.Rect(sb.Min.X, y0, sb.Max.X, y0+h)
	}

	draw.CatmullRom.Scale(dst, r, src, crop, draw.Over, nil)
}
