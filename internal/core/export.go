package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"log/slog"
	"time"
)

// Export defaults.
const (
	DefaultExportScale      = 6
	DefaultExportYieldDelay = 100 * time.Millisecond
)

// ExportConfig tunes the export coordinator.
type ExportConfig struct {
	// Scale is the rasterization multiplier passed to the renderer.
	Scale int
	// YieldDelay is slept after every item.
	YieldDelay       time.Duration
	CompressionLevel int
	ArchivePrefix    string
	NewRenderer      RendererFactory
	// Now stamps the archive; nil uses time.Now.
	Now func() time.Time
}

func (c ExportConfig) withDefaults() ExportConfig {
	if c.Scale <= 0 {
		c.Scale = DefaultExportScale
	}
	if c.YieldDelay < 0 {
		c.YieldDelay = 0
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = DefaultArchivePrefix
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// RenderOptionsFor maps export options to the options handed to the
// renderer. Transparent and text-only exports get no implicit background.
func RenderOptionsFor(opts ExportOptions, scale int) RenderOptions {
	ro := RenderOptions{
		Scale:       scale,
		UseCORS:     true,
		AllowTaint:  true,
		Transparent: opts.Transparent,
		TextOnly:    opts.TextOnly,
	}
	if !opts.Transparent && !opts.TextOnly {
		ro.Background = color.White
	}
	return ro
}

// Export renders every participant's card and packs the PNGs into a zip.
// Cards that cannot be rendered are skipped. The progress record returns to
// idle whether or not the export succeeds.
func (s *Session) Export(ctx context.Context, opts ExportOptions, cfg ExportConfig) (*Archive, error) {
	participants, deck, err := s.startExport()
	if err != nil {
		return nil, err
	}
	return s.runExport(ctx, participants, deck, opts, cfg)
}

// startExport checks preconditions and claims the session.
func (s *Session) startExport() ([]Participant, CardDeck, error) {
	if !s.hasExportData() {
		s.notify("No Data", "Please generate BIB cards first", VariantDestructive)
		return nil, CardDeck{}, ErrNoData
	}
	if err := s.begin(StageExporting, 0); err != nil {
		return nil, CardDeck{}, err
	}

	participants, _ := s.snapshot()
	if len(participants) == 0 {
		s.end(idleProgress)
		return nil, CardDeck{}, ErrNoData
	}
	s.setProgress(GenerationProgress{Current: 0, Total: len(participants), Stage: StageExporting})
	return participants, s.deck(), nil
}

func (s *Session) hasExportData() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants) > 0 && len(s.barcodes) > 0
}

// runExport is the body of a claimed export batch. It releases the session
// when done.
func (s *Session) runExport(ctx context.Context, participants []Participant, deck CardDeck, opts ExportOptions, cfg ExportConfig) (*Archive, error) {
	defer s.end(idleProgress)

	logger := s.logger()
	start := time.Now()

	archive, err := exportCards(ctx, logger, participants, deck, opts, cfg.withDefaults(), s.setProgress)
	if err != nil {
		logger.Error("export failed", "error", err, "participants", len(participants))
		s.notify("Export Failed", "Failed to export BIB cards: "+err.Error(), VariantDestructive)
		return nil, fmt.Errorf("export cards: %w", err)
	}

	s.setArchive(archive)
	logger.Info("cards exported",
		"archive", archive.Name,
		"files", archive.Files,
		"skipped", len(archive.Skipped),
		"bytes", len(archive.Data),
		"transparent", opts.Transparent,
		"text_only", opts.TextOnly,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.notify("Export Complete", fmt.Sprintf("Successfully exported %d BIB cards", archive.Files), VariantDefault)
	return archive, nil
}

// exportCards renders, encodes and archives each card in participant order.
func exportCards(ctx context.Context, logger *slog.Logger, participants []Participant, deck CardDeck, opts ExportOptions, cfg ExportConfig, report func(GenerationProgress)) (*Archive, error) {
	if cfg.NewRenderer == nil {
		return nil, errors.New("no card renderer configured")
	}
	renderer := cfg.NewRenderer(deck)

	aw, err := newArchiveWriter(cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}

	now := cfg.Now()
	renderOpts := RenderOptionsFor(opts, cfg.Scale)
	total := len(participants)
	var skipped []string

	for i, p := range participants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := renderer.Render(ctx, p.BibNumber, renderOpts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("card not rendered, skipping", "bib", p.BibNumber, "error", err)
			skipped = append(skipped, p.BibNumber)
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			logger.Warn("card not encoded, skipping", "bib", p.BibNumber, "error", err)
			skipped = append(skipped, p.BibNumber)
			continue
		}
		if err := aw.add(CardFileName(p.BibNumber, i+1), buf.Bytes(), now); err != nil {
			return nil, err
		}

		report(GenerationProgress{Current: i + 1, Total: total, Stage: StageExporting})
		if err := yield(ctx, cfg.YieldDelay); err != nil {
			return nil, err
		}
	}

	data, err := aw.close()
	if err != nil {
		return nil, err
	}
	if aw.files == 0 {
		return nil, ErrEmptyArchive
	}

	return &Archive{
		Name:      ArchiveName(cfg.ArchivePrefix, now),
		Data:      data,
		Files:     aw.files,
		Skipped:   skipped,
		CreatedAt: now,
	}, nil
}
