package render

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var parsedFonts = sync.OnceValues(func() ([2]*opentype.Font, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return [2]*opentype.Font{}, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return [2]*opentype.Font{}, fmt.Errorf("parse bold font: %w", err)
	}
	return [2]*opentype.Font{regular, bold}, nil
})

type faceKey struct {
	bold bool
	px   int
}

// faceCache hands out font faces by weight and pixel size. Faces are not
// safe for concurrent use; callers serialize access.
type faceCache struct {
	faces map[faceKey]font.Face
}

func newFaceCache() *faceCache {
	return &faceCache{faces: make(map[faceKey]font.Face)}
}

func (c *faceCache) face(bold bool, px int) (font.Face, error) {
	key := faceKey{bold: bold, px: px}
	if f, ok := c.faces[key]; ok {
		return f, nil
	}

	fonts, err := parsedFonts()
	if err != nil {
		return nil, err
	}
	src := fonts[0]
	if bold {
		src = fonts[1]
	}
	// At 72 DPI one point is one pixel.
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    float64(px),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create %dpx face: %w", px, err)
	}
	c.faces[key] = f
	return f, nil
}

func (c *faceCache) close() {
	for k, f := range c.faces {
		_ = f.Close()
		delete(c.faces, k)
	}
}

// fitText shortens s with an ellipsis until it is at most maxWidth wide.
func fitText(face font.Face, s string, maxWidth fixed.Int26_6) string {
	if font.MeasureString(face, s) <= maxWidth {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "…"
		if font.MeasureString(face, candidate) <= maxWidth {
			return candidate
		}
	}
	return ""
}
