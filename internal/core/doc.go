// Package core turns participant CSV files into bib cards.
//
// This package contains the whole card pipeline, independent of any UI or
// transport layer. The web server and the bibcards CLI both drive it.
//
// # Pipeline
//
// A [Session] moves through three stages, one at a time:
//
//  1. Ingestion: [Session.Ingest] parses the CSV ([ParseParticipants]),
//     applies defaults for blank cells and sorts by bib number
//     ([SortParticipants]). Numeric bibs sort numerically, everything else
//     by locale collation.
//  2. Generation: [Session.Generate] derives a PDF417 barcode per
//     participant ([BarcodeDeriver]). Encoding never fails a batch; a bad
//     payload gets a plain-text fallback image. The barcode map is published
//     only once complete.
//  3. Export: [Session.Export] renders each card through a [CardRenderer],
//     encodes it as PNG and adds it to a zip [Archive]. Cards that cannot be
//     rendered are skipped.
//
// Progress of the running stage is broadcast to subscribers via
// [Session.Subscribe]. User-facing outcomes are recorded as [Notification]s.
//
// # Service
//
// [Service] owns sessions, bounds concurrent batches with a [BatchLimiter]
// and can run batches in the background ([Service.StartGeneration],
// [Service.StartExport]). [Service.StartSessionSweeper] expires idle sessions.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FILE001-FILE005: File errors (size, format, missing upload, image type)
//   - SES001-SES004: Session errors (expired, busy, capacity, theme)
//   - BAT001-BAT004: Batch errors (no data, capacity, timeout, cancel)
//   - EXP001-EXP002: Export errors (empty archive, nothing to download)
package core
