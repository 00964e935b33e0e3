package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// MinParticipantFields is the number of positional columns a row needs.
const MinParticipantFields = 5

// ParseOptions tunes ParseParticipants.
type ParseOptions struct {
	// Size is the source length in bytes, if known, for progress reporting.
	Size int64
	// OnProgress receives bytes read so far and Size.
	OnProgress func(read, total int64)
}

// ParseParticipants reads a comma-separated participant source.
//
// The first record is a header and is always discarded. Columns are
// positional: event, category, bib, name, date; extra columns are ignored.
// Rows with fewer than five fields, or whose fields are all blank, are
// skipped silently. A source that cannot be parsed as CSV fails as a whole
// and no participants are returned.
func ParseParticipants(r io.Reader, opts ParseOptions) ([]Participant, error) {
	src, counter := WrapForStreaming(r, opts.Size)
	counter.OnRead = opts.OnProgress

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var participants []Participant
	header := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		if header {
			header = false
			continue
		}
		if p, ok := participantFromRow(row); ok {
			participants = append(participants, p)
		}
	}
	return participants, nil
}

// participantFromRow maps one record positionally, applying defaults to
// blank cells. ok is false for rows the ingestion policy drops.
func participantFromRow(row []string) (Participant, bool) {
	if len(row) < MinParticipantFields || isBlankRow(row) {
		return Participant{}, false
	}

	bib := cellOr(row[2], DefaultBibNumber)
	return Participant{
		EventName:       cellOr(row[0], DefaultEventName),
		RaceCategory:    cellOr(row[1], DefaultRaceCategory),
		BibNumber:       bib,
		ParticipantName: cellOr(row[3], DefaultParticipantName),
		Date:            cellOr(row[4], DefaultDate),
		QRData:          bib,
	}, true
}

func cellOr(cell, fallback string) string {
	if v := strings.TrimSpace(cell); v != "" {
		return v
	}
	return fallback
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// duplicateBibs returns the bib numbers that occur more than once.
func duplicateBibs(participants []Participant) []string {
	seen := make(map[string]int, len(participants))
	var dups []string
	for _, p := range participants {
		seen[p.BibNumber]++
		if seen[p.BibNumber] == 2 {
			dups = append(dups, p.BibNumber)
		}
	}
	return dups
}

// Ingest parses a participant source and, on success, replaces the
// session's dataset with the sorted result. Barcodes and the archive of the
// previous dataset are discarded. On failure the previous dataset is kept.
func (s *Session) Ingest(r io.Reader, size int64) ([]Participant, error) {
	if err := s.begin(StageParsing, int(size)); err != nil {
		return nil, err
	}
	defer s.end(idleProgress)

	logger := s.logger()
	start := time.Now()

	parsed, err := ParseParticipants(r, ParseOptions{
		Size: size,
		OnProgress: func(read, total int64) {
			s.setProgress(GenerationProgress{Current: int(read), Total: int(total), Stage: StageParsing})
		},
	})
	if err != nil {
		logger.Warn("participant source rejected", "error", err)
		s.notify("Error", "Failed to parse CSV file", VariantDestructive)
		return nil, err
	}

	sorted := SortParticipants(parsed)
	s.replaceDataset(sorted)

	msg := fmt.Sprintf("Successfully loaded %d participants", len(sorted))
	if dups := duplicateBibs(sorted); len(dups) > 0 {
		logger.Warn("duplicate bib numbers in source", "count", len(dups), "bibs", dups)
		msg += fmt.Sprintf(" (%d duplicate bib numbers)", len(dups))
	}
	logger.Info("participants loaded",
		"participants", len(sorted),
		"bytes", size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.notify("CSV Loaded", msg, VariantDefault)
	return sorted, nil
}
