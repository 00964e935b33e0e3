package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// roundedRect is an alpha mask for a rectangle with rounded corners.
type roundedRect struct {
	r      image.Rectangle
	radius int
}

func (m roundedRect) ColorModel() color.Model { return color.AlphaModel }
func (m roundedRect) Bounds() image.Rectangle { return m.r }

func (m roundedRect) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(m.r) {
		return color.Transparent
	}
	rad := m.radius
	cx, cy := x, y
	switch {
	case x < m.r.Min.X+rad:
		cx = m.r.Min.X + rad
	case x >= m.r.Max.X-rad:
		cx = m.r.Max.X - rad - 1
	}
	switch {
	case y < m.r.Min.Y+rad:
		cy = m.r.Min.Y + rad
	case y >= m.r.Max.Y-rad:
		cy = m.r.Max.Y - rad - 1
	}
	dx, dy := x-cx, y-cy
	if dx*dx+dy*dy > rad*rad {
		return color.Transparent
	}
	return color.Opaque
}

// ring is an alpha mask for an annulus. inner 0 gives a filled disc.
type ring struct {
	center       image.Point
	outer, inner int
}

func (m ring) ColorModel() color.Model { return color.AlphaModel }

func (m ring) Bounds() image.Rectangle {
	return image.Rect(m.center.X-m.outer, m.center.Y-m.outer, m.center.X+m.outer+1, m.center.Y+m.outer+1)
}

func (m ring) At(x, y int) color.Color {
	dx, dy := x-m.center.X, y-m.center.Y
	d := dx*dx + dy*dy
	if d > m.outer*m.outer || d < m.inner*m.inner {
		return color.Transparent
	}
	return color.Opaque
}

// fill paints c through mask over dst.
func fill(dst draw.Image, mask image.Image, c color.Color) {
	b := mask.Bounds().Intersect(dst.Bounds())
	if b.Empty() {
		return
	}
	draw.DrawMask(dst, b, image.NewUniform(c), image.Point{}, mask, b.Min, draw.Over)
}

func fillRect(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

// verticalGradient fills r from top to bottom color.
func verticalGradient(dst draw.Image, r image.Rectangle, top, bottom color.NRGBA) {
	h := r.Dy()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		t := 0
		if h > 1 {
			t = (y - r.Min.Y) * 255 / (h - 1)
		}
		c := color.NRGBA{
			R: lerp(top.R, bottom.R, t),
			G: lerp(top.G, bottom.G, t),
			B: lerp(top.B, bottom.B, t),
			A: lerp(top.A, bottom.A, t),
		}
		draw.Draw(dst, image.Rect(r.Min.X, y, r.Max.X, y+1), image.NewUniform(c), image.Point{}, draw.Src)
	}
}

func lerp(a, b uint8, t int) uint8 {
	return uint8((int(a)*(255-t) + int(b)*t) / 255)
}

// textStyle describes one line of text.
type textStyle struct {
	face   font.Face
	color  color.Color
	shadow color.Color // nil for none
	offset int        // shadow offset in device pixels
}

// drawCentered draws s horizontally centered on cx with its baseline at y.
func drawCentered(dst draw.Image, s string, cx, y int, st textStyle) {
	width := font.MeasureString(st.face, s)
	x := fixed.I(cx) - width/2

	if st.shadow != nil {
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(st.shadow),
			Face: st.face,
			Dot:  fixed.Point26_6{X: x + fixed.I(st.offset), Y: fixed.I(y + st.offset)},
		}
		d.DrawString(s)
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(st.color),
		Face: st.face,
		Dot:  fixed.Point26_6{X: x, Y: fixed.I(y)},
	}
	d.DrawString(s)
}

// middleBaseline returns the baseline that vertically centers capital
// letters of face on cy.
func middleBaseline(face font.Face, cy int) int {
	m := face.Metrics()
	capHeight := m.CapHeight
	if capHeight <= 0 {
		capHeight = m.Ascent
	}
	return cy + capHeight.Round()/2
}
