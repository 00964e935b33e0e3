// Package render rasterizes bib cards.
//
// A card is an A5 landscape sheet (210mm x 148mm at 96 DPI) with a themed
// fill or background photo, an event header, the bib number, a barcode
// panel, a participant footer, a tagline and four hole punches. All layout
// is expressed in CSS pixels and multiplied by the requested scale.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/JonMunkholm/bibcards/internal/core"
)

// Card geometry at scale 1.
const (
	CardWidth  = 794
	CardHeight = 559
	padding    = 24
)

// Tagline is printed at the bottom of every card.
const Tagline = "RUN • ACHIEVE • INSPIRE"

var (
	panelFill   = color.NRGBA{R: 255, G: 255, B: 255, A: 230}
	pillFill    = color.NRGBA{R: 255, G: 255, B: 255, A: 153}
	inkDark     = color.NRGBA{R: 0x11, G: 0x18, B: 0x27, A: 255}
	inkMuted    = color.NRGBA{R: 0x37, G: 0x41, B: 0x51, A: 255}
	holeFill    = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	holeRim     = color.NRGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 255}
	shadowDark  = color.NRGBA{A: 90}
	shadowLight = color.NRGBA{R: 255, G: 255, B: 255, A: 90}
	bibLight    = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	bibDark     = color.NRGBA{R: 0x22, G: 0x22, B: 0x22, A: 255}
)

type palette struct {
	top, bottom color.NRGBA
	bright      bool
	none        bool
}

var themes = map[string]palette{
	"theme-red":         {top: color.NRGBA{R: 0xef, G: 0x44, B: 0x44, A: 255}, bottom: color.NRGBA{R: 0x99, G: 0x1b, B: 0x1b, A: 255}},
	"theme-blue":        {top: color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 255}, bottom: color.NRGBA{R: 0x1e, G: 0x3a, B: 0x8a, A: 255}},
	"theme-green":       {top: color.NRGBA{R: 0x86, G: 0xef, B: 0xac, A: 255}, bottom: color.NRGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 255}, bright: true},
	"theme-orange":      {top: color.NRGBA{R: 0xfd, G: 0xba, B: 0x74, A: 255}, bottom: color.NRGBA{R: 0xf9, G: 0x73, B: 0x16, A: 255}, bright: true},
	"theme-purple":      {top: color.NRGBA{R: 0xa8, G: 0x55, B: 0xf7, A: 255}, bottom: color.NRGBA{R: 0x58, G: 0x1c, B: 0x87, A: 255}},
	"theme-transparent": {none: true},
}

// Renderer draws the cards of one deck. Render calls are serialized.
type Renderer struct {
	deck    core.CardDeck
	palette palette
	logger  *slog.Logger

	mu       sync.Mutex
	faces    *faceCache
	bgOnce   sync.Once
	bg       image.Image
	barcodes map[string]image.Image
}

// New returns a renderer for deck. An unknown theme falls back to the
// default theme.
func New(deck core.CardDeck) *Renderer {
	p, ok := themes[deck.Theme]
	if !ok {
		p = themes[core.DefaultTheme]
	}
	return &Renderer{
		deck:     deck,
		palette:  p,
		logger:   slog.Default(),
		faces:    newFaceCache(),
		barcodes: make(map[string]image.Image),
	}
}

// Factory adapts New to core.RendererFactory.
func Factory(deck core.CardDeck) core.CardRenderer {
	return New(deck)
}

// Size returns the pixel size of a card at scale.
func Size(scale int) image.Point {
	if scale < 1 {
		scale = 1
	}
	return image.Pt(CardWidth*scale, CardHeight*scale)
}

// Render draws the card for bib. Transparent drops every fill so only text,
// barcode bars and hole rims remain. TextOnly drops the hole punches.
func (r *Renderer) Render(ctx context.Context, bib string, opts core.RenderOptions) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	card, ok := r.deck.Cards[bib]
	if !ok {
		return nil, fmt.Errorf("%w: bib %s", core.ErrCardNotFound, bib)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := opts.Scale
	if s < 1 {
		s = 1
	}
	size := Size(s)
	dst := image.NewNRGBA(image.Rectangle{Max: size})

	c := &canvas{dst: dst, s: s, faces: r.faces}
	if opts.Background != nil {
		fillRect(dst, dst.Bounds(), opts.Background)
	}

	withPhoto := false
	if !opts.Transparent && !r.palette.none {
		verticalGradient(dst, dst.Bounds(), r.palette.top, r.palette.bottom)
		if bg := r.background(); bg != nil {
			drawCover(dst, dst.Bounds(), bg)
			withPhoto = true
		}
	}

	bibInk, shadow := bibLight, shadowDark
	if !withPhoto && r.palette.bright {
		bibInk, shadow = bibDark, shadowLight
	}

	if !opts.TextOnly {
		c.holePunches(!opts.Transparent)
	}

	p := card.Participant
	if err := c.header(p.EventName, p.RaceCategory, !opts.Transparent); err != nil {
		return nil, err
	}
	if err := c.bibNumber(p.BibNumber, bibInk, shadow); err != nil {
		return nil, err
	}
	if err := c.barcodePanel(r.barcode(bib, card.Barcode), p.BibNumber, !opts.Transparent); err != nil {
		return nil, err
	}
	if err := c.footer(p.ParticipantName, p.Date, !opts.Transparent); err != nil {
		return nil, err
	}
	if err := c.tagline(bibInk, shadow); err != nil {
		return nil, err
	}
	return dst, nil
}

// Close releases cached font faces.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faces.close()
}

// background decodes the deck's background photo once. An undecodable
// image is logged and ignored.
func (r *Renderer) background() image.Image {
	r.bgOnce.Do(func() {
		if len(r.deck.Background) == 0 {
			return
		}
		img, err := decodeBackground(r.deck.Background)
		if err != nil {
			r.logger.Warn("background image ignored", "media_type", r.deck.BackgroundMediaType, "error", err)
			return
		}
		r.bg = img
	})
	return r.bg
}

func (r *Renderer) barcode(bib string, a core.BarcodeArtifact) image.Image {
	if img, ok := r.barcodes[bib]; ok {
		return img
	}
	img, _, err := image.Decode(bytes.NewReader(a.Data))
	if err != nil {
		r.logger.Warn("barcode image unreadable", "bib", bib, "error", err)
		img = nil
	}
	r.barcodes[bib] = img
	return img
}

// canvas lays out one card at scale s.
type canvas struct {
	dst   *image.NRGBA
	s     int
	faces *faceCache
}

func (c *canvas) px(v int) int { return v * c.s }

func (c *canvas) rect(x0, y0, x1, y1 int) image.Rectangle {
	return image.Rect(c.px(x0), c.px(y0), c.px(x1), c.px(y1))
}

func (c *canvas) style(bold bool, size int, ink color.Color) (textStyle, error) {
	face, err := c.faces.face(bold, c.px(size))
	if err != nil {
		return textStyle{}, err
	}
	return textStyle{face: face, color: ink}, nil
}

func (c *canvas) holePunches(filled bool) {
	const inset, radius = 20, 9
	for _, pt := range []image.Point{
		{X: inset, Y: inset},
		{X: CardWidth - inset, Y: inset},
		{X: inset, Y: CardHeight - inset},
		{X: CardWidth - inset, Y: CardHeight - inset},
	} {
		center := image.Pt(c.px(pt.X), c.px(pt.Y))
		if filled {
			fill(c.dst, ring{center: center, outer: c.px(radius)}, holeFill)
		}
		fill(c.dst, ring{center: center, outer: c.px(radius), inner: c.px(radius - 1)}, holeRim)
	}
}

// Header occupies y 62..158: 1cm top margin below the padding.
func (c *canvas) header(event, category string, panels bool) error {
	if panels {
		fill(c.dst, roundedRect{r: c.rect(padding, 62, CardWidth-padding, 158), radius: c.px(8)}, panelFill)
	}

	title, err := c.style(true, 20, inkDark)
	if err != nil {
		return err
	}
	maxW := fixed.I(c.px(CardWidth - 2*padding - 32))
	drawCentered(c.dst, fitText(title.face, event, maxW), c.px(CardWidth/2), c.px(98), title)

	pill, err := c.style(false, 14, inkDark)
	if err != nil {
		return err
	}
	label := fitText(pill.face, category, maxW-fixed.I(c.px(32)))
	if panels {
		textW := font.MeasureString(pill.face, label).Ceil()
		half := textW/2 + c.px(16)
		pr := image.Rect(c.px(CardWidth/2)-half, c.px(112), c.px(CardWidth/2)+half, c.px(138))
		fill(c.dst, roundedRect{r: pr, radius: pr.Dy() / 2}, pillFill)
	}
	drawCentered(c.dst, label, c.px(CardWidth/2), c.px(130), pill)
	return nil
}

// bibNumber is centered in the free band between header and barcode panel.
func (c *canvas) bibNumber(bib string, ink, shadow color.Color) error {
	size := 64
	switch n := utf8.RuneCountInString(bib); {
	case n > 6:
		size = 48
	case n > 4:
		size = 56
	}
	st, err := c.style(true, size, ink)
	if err != nil {
		return err
	}
	st.shadow, st.offset = shadow, c.px(2)

	text := fitText(st.face, bib, fixed.I(c.px(CardWidth-2*padding)))
	drawCentered(c.dst, text, c.px(CardWidth/2), middleBaseline(st.face, c.px(238)), st)
	return nil
}

// barcodePanel occupies y 319..451, at most 80% of the content width.
func (c *canvas) barcodePanel(code image.Image, bib string, panels bool) error {
	const top, bottom = 319, 451
	const boxH = 64

	maxW := (CardWidth - 2*padding) * 8 / 10
	panelW := maxW
	if code != nil {
		if w := code.Bounds().Dx() + 48; w < maxW {
			panelW = w
		}
	}
	x0 := (CardWidth - panelW) / 2
	pr := c.rect(x0, top, x0+panelW, bottom)
	if panels {
		fill(c.dst, roundedRect{r: pr, radius: c.px(12)}, color.White)
	}

	if code != nil {
		box := c.rect(x0+24, top+24, x0+panelW-24, top+24+boxH)
		target := fitRect(code.Bounds().Size(), box)
		if panels {
			draw.NearestNeighbor.Scale(c.dst, target, code, code.Bounds(), draw.Over, nil)
		} else {
			draw.NearestNeighbor.Scale(c.dst, target, darkOnly{code}, code.Bounds(), draw.Over, nil)
		}
	}

	label, err := c.style(true, 12, inkMuted)
	if err != nil {
		return err
	}
	drawCentered(c.dst, "BIB: "+bib, c.px(CardWidth/2), c.px(top+24+boxH+22), label)
	return nil
}

// Footer occupies y 451..535.
func (c *canvas) footer(name, date string, panels bool) error {
	if panels {
		fill(c.dst, roundedRect{r: c.rect(padding, 451, CardWidth-padding, 535), radius: c.px(8)}, panelFill)
	}
	maxW := fixed.I(c.px(CardWidth - 2*padding - 32))

	nameSt, err := c.style(true, 18, inkDark)
	if err != nil {
		return err
	}
	drawCentered(c.dst, fitText(nameSt.face, name, maxW), c.px(CardWidth/2), c.px(485), nameSt)

	dateSt, err := c.style(false, 14, inkMuted)
	if err != nil {
		return err
	}
	drawCentered(c.dst, fitText(dateSt.face, date, maxW), c.px(CardWidth/2), c.px(510), dateSt)
	return nil
}

func (c *canvas) tagline(ink, shadow color.Color) error {
	st, err := c.style(true, 12, ink)
	if err != nil {
		return err
	}
	st.shadow, st.offset = shadow, c.px(1)
	drawCentered(c.dst, Tagline, c.px(CardWidth/2), c.px(CardHeight-8), st)
	return nil
}

// fitRect returns the largest rectangle with the aspect ratio of size that
// fits in box, centered.
func fitRect(size image.Point, box image.Rectangle) image.Rectangle {
	if size.X == 0 || size.Y == 0 {
		return image.Rectangle{}
	}
	w, h := box.Dx(), box.Dx()*size.Y/size.X
	if h > box.Dy() {
		h = box.Dy()
		w = box.Dy() * size.X / size.Y
	}
	x0 := box.Min.X + (box.Dx()-w)/2
	y0 := box.Min.Y + (box.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// darkOnly hides the light pixels of a barcode so only its bars remain.
type darkOnly struct{ image.Image }

func (d darkOnly) ColorModel() color.Model { return color.NRGBAModel }

func (d darkOnly) At(x, y int) color.Color {
	r, g, b, a := d.Image.At(x, y).RGBA()
	if a == 0 || (r+g+b)/3 > 0x8000 {
		return color.NRGBA{}
	}
	return color.NRGBA{A: 255}
}
