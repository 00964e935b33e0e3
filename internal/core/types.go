package core

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"time"
)

// Placeholder values used when a participant cell is blank.
const (
	DefaultEventName       = "Marathon Event"
	DefaultRaceCategory    = "Race Category"
	DefaultBibNumber       = "000"
	DefaultParticipantName = "Runner Name"
	DefaultDate            = "2024-12-31"
)

var (
	// ErrNoData is returned when a batch is requested without participants
	// (or, for export, without generated barcodes).
	ErrNoData = errors.New("no data: nothing to process")

	// ErrBusy is returned when a stage is started while another is running
	// against the same session.
	ErrBusy = errors.New("operation in progress for this session")

	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyArchive is returned when an export produced no card images.
	ErrEmptyArchive = errors.New("generated archive is empty")

	// ErrCardNotFound is returned by a CardRenderer that has no card for a bib number.
	ErrCardNotFound = errors.New("card not found")

	// ErrNoArchive is returned when a download is requested before any export succeeded.
	ErrNoArchive = errors.New("no archive available")
)

// Participant is one accepted input row.
type Participant struct {
	EventName       string `json:"eventName"`
	RaceCategory    string `json:"raceCategory"`
	BibNumber       string `json:"bibNumber"`
	ParticipantName string `json:"participantName"`
	Date            string `json:"date"`
	QRData          string `json:"qrData"`
}

// BarcodeArtifact is an encoded barcode image for one participant.
type BarcodeArtifact struct {
	MediaType string
	Data      []byte
	// Fallback is true when encoding failed and Data holds the plain-text
	// substitute image.
	Fallback bool
}

// DataURL returns the artifact as a data: URL suitable for an <img> src.
func (a BarcodeArtifact) DataURL() string {
	return "data:" + a.MediaType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Stage identifies which pipeline step is advancing.
type Stage string

const (
	StageParsing    Stage = "parsing"
	StageGenerating Stage = "generating"
	StageExporting  Stage = "exporting"
	StageComplete   Stage = "complete"
)

// GenerationProgress is the progress readout of the active stage.
type GenerationProgress struct {
	Current int   `json:"current"`
	Total   int   `json:"total"`
	Stage   Stage `json:"stage"`
}

// idleProgress is the state a session rests in between operations.
var idleProgress = GenerationProgress{Stage: StageComplete}

// Percent returns round(current/max(total,1)*100).
func (p GenerationProgress) Percent() int {
	total := p.Total
	if total < 1 {
		total = 1
	}
	return (p.Current*200 + total) / (2 * total)
}

// ExportOptions controls post-processing of rendered cards.
type ExportOptions struct {
	Transparent bool `json:"transparent"`
	TextOnly    bool `json:"textOnly"`
}

// RenderOptions is passed to the CardRenderer for every card.
type RenderOptions struct {
	Scale int
	// Background is the implicit fill behind the card; nil means none.
	Background  color.Color
	UseCORS     bool
	AllowTaint  bool
	Transparent bool
	TextOnly    bool
}

// CardContent is what a renderer needs to draw one card.
type CardContent struct {
	Participant Participant
	Barcode     BarcodeArtifact
}

// CardDeck is the presentational state handed to a renderer for one export.
type CardDeck struct {
	Theme               string
	Background          []byte
	BackgroundMediaType string
	// Cards is keyed by bib number.
	Cards map[string]CardContent
}

// CardRenderer rasterizes the card of one participant, addressed by bib number.
// It returns ErrCardNotFound when it has nothing to draw for that bib.
type CardRenderer interface {
	Render(ctx context.Context, bibNumber string, opts RenderOptions) (image.Image, error)
}

// RendererFactory builds a CardRenderer for one export batch.
type RendererFactory func(deck CardDeck) CardRenderer

// Archive is the downloadable result of an export.
type Archive struct {
	Name      string
	Data      []byte
	Files     int
	Skipped   []string
	CreatedAt time.Time
}

// NotificationVariant mirrors the two toast styles of the UI.
type NotificationVariant string

const (
	VariantDefault     NotificationVariant = "default"
	VariantDestructive NotificationVariant = "destructive"
)

// Notification is a user-facing message produced by a pipeline operation.
type Notification struct {
	ID      int                 `json:"id"`
	Title   string              `json:"title"`
	Message string              `json:"message"`
	Variant NotificationVariant `json:"variant"`
	At      time.Time           `json:"at"`
}
