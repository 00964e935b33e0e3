package core

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// DefaultGenerateYieldEvery is how many barcodes are derived between
// cooperative yields.
const DefaultGenerateYieldEvery = 10

// GenerateConfig tunes the generation coordinator.
type GenerateConfig struct {
	// YieldEvery is the number of items between suspension points.
	YieldEvery int
	// Deriver encodes barcodes; nil uses the PDF417 deriver.
	Deriver *BarcodeDeriver
}

// Generate derives a barcode for every participant and publishes the
// complete map. It runs synchronously; see Service.StartGeneration for the
// background form.
func (s *Session) Generate(ctx context.Context, cfg GenerateConfig) error {
	participants, err := s.startGeneration()
	if err != nil {
		return err
	}
	return s.runGeneration(ctx, participants, cfg)
}

// startGeneration checks preconditions and claims the session.
func (s *Session) startGeneration() ([]Participant, error) {
	if len(s.Participants()) == 0 {
		s.notify("No Data", "Please upload a CSV file first", VariantDestructive)
		return nil, ErrNoData
	}
	if err := s.begin(StageGenerating, 0); err != nil {
		return nil, err
	}

	// Ingestion cannot run while the session is claimed, so this snapshot
	// is the dataset the batch works on.
	participants := s.Participants()
	if len(participants) == 0 {
		s.end(idleProgress)
		return nil, ErrNoData
	}
	s.setProgress(GenerationProgress{Current: 0, Total: len(participants), Stage: StageGenerating})
	return participants, nil
}

// runGeneration is the body of a claimed generation batch. It releases the
// session when done.
func (s *Session) runGeneration(ctx context.Context, participants []Participant, cfg GenerateConfig) error {
	logger := s.logger()
	start := time.Now()
	total := len(participants)

	barcodes, err := deriveBarcodes(ctx, participants, cfg, s.setProgress)
	if err != nil {
		s.end(idleProgress)
		logger.Error("barcode generation failed", "error", err, "participants", total)
		s.notify("Error", "Failed to generate BIB cards", VariantDestructive)
		return fmt.Errorf("generate barcodes: %w", err)
	}

	s.publishBarcodes(barcodes)
	s.end(GenerationProgress{Current: total, Total: total, Stage: StageComplete})

	fallbacks := 0
	for _, b := range barcodes {
		if b.Fallback {
			fallbacks++
		}
	}
	logger.Info("barcodes generated",
		"participants", total,
		"barcodes", len(barcodes),
		"fallbacks", fallbacks,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.notify("BIB Cards Generated", fmt.Sprintf("Successfully generated %d BIB cards", total), VariantDefault)
	return nil
}

// deriveBarcodes builds the full map for participants. On error nothing is
// returned, so a failed batch never leaves a partial map behind.
func deriveBarcodes(ctx context.Context, participants []Participant, cfg GenerateConfig, report func(GenerationProgress)) (m map[string]BarcodeArtifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("generation panic: %v", r)
		}
	}()

	deriver := cfg.Deriver
	if deriver == nil {
		deriver = NewBarcodeDeriver()
	}
	every := cfg.YieldEvery
	if every <= 0 {
		every = DefaultGenerateYieldEvery
	}

	total := len(participants)
	out := make(map[string]BarcodeArtifact, total)
	for i, p := range participants {
		// Duplicate bibs overwrite: last write wins.
		out[p.BibNumber] = deriver.Derive(p.QRData)
		report(GenerationProgress{Current: i + 1, Total: total, Stage: StageGenerating})

		if (i+1)%every == 0 {
			if err := yield(ctx, 0); err != nil {
				return nil, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// yield is a cooperative suspension point. With a zero delay it only cedes
// the processor; otherwise it sleeps for delay. Either way it reports
// cancellation of ctx.
func yield(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
