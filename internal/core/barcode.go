package core

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/pdf417"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PDF417 symbol parameters.
const (
	BarcodeSecurityLevel = 5
	BarcodeModuleScale   = 2
)

// Fallback artifact layout.
const (
	FallbackPrefix   = "Barcode: "
	FallbackMaxRunes = 20
	fallbackWidth    = 200
	fallbackHeight   = 50
	fallbackBaseline = 25
)

// BarcodeEncoder turns a payload into a barcode raster.
type BarcodeEncoder func(text string) (image.Image, error)

// BarcodeDeriver produces one barcode artifact per payload. It never fails:
// any encoding problem yields the plain-text fallback artifact instead.
type BarcodeDeriver struct {
	Encode BarcodeEncoder
	Logger *slog.Logger
}

// NewBarcodeDeriver returns a deriver using the PDF417 encoder.
func NewBarcodeDeriver() *BarcodeDeriver {
	return &BarcodeDeriver{Encode: EncodePDF417}
}

// EncodePDF417 encodes text as a PDF417 symbol with each module scaled to
// BarcodeModuleScale pixels.
func EncodePDF417(text string) (image.Image, error) {
	bc, err := pdf417.Encode(text, BarcodeSecurityLevel)
	if err != nil {
		return nil, err
	}
	b := bc.Bounds()
	return barcode.Scale(bc, b.Dx()*BarcodeModuleScale, b.Dy()*BarcodeModuleScale)
}

// Derive returns the PNG barcode for text, or the fallback artifact.
func (d *BarcodeDeriver) Derive(text string) BarcodeArtifact {
	data, err := d.encode(text)
	if err == nil {
		return BarcodeArtifact{MediaType: "image/png", Data: data}
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("barcode encoding failed, using fallback", "payload_len", len(text), "error", err)
	return FallbackArtifact(text)
}

func (d *BarcodeDeriver) encode(text string) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("barcode encoder panic: %v", r)
		}
	}()

	encode := d.Encode
	if encode == nil {
		encode = EncodePDF417
	}
	img, err := encode(text)
	if err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("barcode encoder returned an empty image")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode barcode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FallbackArtifact renders "Barcode: " and the first 20 characters of text
// in red on a white 200x50 image.
func FallbackArtifact(text string) BarcodeArtifact {
	img := image.NewRGBA(image.Rect(0, 0, fallbackWidth, fallbackHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	label := FallbackLabel(text)
	face := basicfont.Face7x13
	width := font.MeasureString(face, label)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0xff, A: 0xff}),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(fallbackWidth/2) - width/2, Y: fixed.I(fallbackBaseline)},
	}
	d.DrawString(label)

	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = png.Encode(&buf, img)
	return BarcodeArtifact{MediaType: "image/png", Data: buf.Bytes(), Fallback: true}
}

// FallbackLabel is the text drawn on a fallback artifact.
func FallbackLabel(text string) string {
	runes := []rune(text)
	if len(runes) > FallbackMaxRunes {
		runes = runes[:FallbackMaxRunes]
	}
	return FallbackPrefix + string(runes)
}
