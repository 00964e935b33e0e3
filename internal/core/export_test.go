package core

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

// stubRenderer draws a 4x3 card per bib present in the deck.
type stubRenderer struct {
	mu    sync.Mutex
	deck  CardDeck
	fail  map[string]bool
	calls []RenderOptions
}

func (r *stubRenderer) Render(ctx context.Context, bib string, opts RenderOptions) (image.Image, error) {
	r.mu.Lock()
	r.calls = append(r.calls, opts)
	r.mu.Unlock()

	if r.fail[bib] {
		return nil, errors.New("render failed")
	}
	if _, ok := r.deck.Cards[bib]; !ok {
		return nil, ErrCardNotFound
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	if opts.Background != nil {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				img.Set(x, y, opts.Background)
			}
		}
	}
	return img, nil
}

func stubFactory(fail ...string) (RendererFactory, *stubRenderer) {
	r := &stubRenderer{fail: make(map[string]bool)}
	for _, f := range fail {
		r.fail[f] = true
	}
	return func(deck CardDeck) CardRenderer {
		r.deck = deck
		return r
	}, r
}

var fixedNow = time.UnixMilli(1735689600000)

func testExportConfig(factory RendererFactory) ExportConfig {
	return ExportConfig{
		Scale:            1,
		YieldDelay:       0,
		CompressionLevel: DefaultCompressionLevel,
		NewRenderer:      factory,
		Now:              func() time.Time { return fixedNow },
	}
}

// generatedSession loads bibs and publishes barcodes for them.
func generatedSession(t *testing.T, bibs ...string) *Session {
	t.Helper()
	sess := loadSession(t, bibs...)
	var calls []string
	if err := sess.Generate(context.Background(), GenerateConfig{Deriver: fakeDeriver(&calls)}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return sess
}

func zipEntries(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive is not a zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		if f.Method != zip.Deflate {
			t.Errorf("entry %s uses method %d, want deflate", f.Name, f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if _, err := png.Decode(bytes.NewReader(body)); err != nil {
			t.Errorf("entry %s is not a PNG: %v", f.Name, err)
		}
		names = append(names, f.Name)
	}
	return names
}

func TestExport(t *testing.T) {
	sess := generatedSession(t, "2", "1", "A 7")
	factory, stub := stubFactory()

	archive, err := sess.Export(context.Background(), ExportOptions{}, testExportConfig(factory))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if archive.Name != "marathon-bib-cards-1735689600000.zip" {
		t.Errorf("Name = %q", archive.Name)
	}
	if archive.Files != 3 {
		t.Errorf("Files = %d, want 3", archive.Files)
	}
	names := zipEntries(t, archive.Data)
	if want := []string{"1.png", "2.png", "A_7.png"}; !slices.Equal(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}

	for _, opts := range stub.calls {
		if opts.Background != color.White || !opts.UseCORS || !opts.AllowTaint || opts.Scale != 1 {
			t.Errorf("render options = %+v", opts)
		}
	}

	if got := sess.Progress(); got != idleProgress {
		t.Errorf("progress after export = %+v, want idle", got)
	}
	if got, err := sess.Archive(); err != nil || got != archive {
		t.Errorf("latest archive not stored: %v", err)
	}

	notes := sess.Notifications(2)
	if len(notes) != 1 || notes[0].Title != "Export Complete" || notes[0].Message != "Successfully exported 3 BIB cards" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestExport_DuplicateBibsKeepEveryCard(t *testing.T) {
	sess := generatedSession(t, "7", "7", "7-2")
	factory, _ := stubFactory()

	archive, err := sess.Export(context.Background(), ExportOptions{}, testExportConfig(factory))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	names := zipEntries(t, archive.Data)
	if len(names) != 3 || archive.Files != 3 {
		t.Fatalf("entries = %v, Files = %d, want 3 of each", names, archive.Files)
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			t.Errorf("entry %s appears twice in %v", n, names)
		}
		seen[n] = true
	}
}

func TestExport_TransparentAndTextOnlyDropBackground(t *testing.T) {
	for _, opts := range []ExportOptions{{Transparent: true}, {TextOnly: true}, {Transparent: true, TextOnly: true}} {
		sess := generatedSession(t, "1")
		factory, stub := stubFactory()

		if _, err := sess.Export(context.Background(), opts, testExportConfig(factory)); err != nil {
			t.Fatalf("Export(%+v): %v", opts, err)
		}
		got := stub.calls[0]
		if got.Background != nil {
			t.Errorf("Export(%+v) background = %v, want none", opts, got.Background)
		}
		if got.Transparent != opts.Transparent || got.TextOnly != opts.TextOnly {
			t.Errorf("Export(%+v) passed %+v", opts, got)
		}
	}
}

func TestExport_SkipsUnrenderableCards(t *testing.T) {
	sess := generatedSession(t, "1", "2", "3")
	factory, _ := stubFactory("2")

	archive, err := sess.Export(context.Background(), ExportOptions{}, testExportConfig(factory))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if archive.Files != 2 {
		t.Errorf("Files = %d, want 2", archive.Files)
	}
	if !slices.Equal(archive.Skipped, []string{"2"}) {
		t.Errorf("Skipped = %v, want [2]", archive.Skipped)
	}
	if names := zipEntries(t, archive.Data); !slices.Equal(names, []string{"1.png", "3.png"}) {
		t.Errorf("entries = %v", names)
	}
}

func TestExport_NothingRendered(t *testing.T) {
	sess := generatedSession(t, "1", "2")
	factory, _ := stubFactory("1", "2")

	_, err := sess.Export(context.Background(), ExportOptions{}, testExportConfig(factory))
	if !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("err = %v, want ErrEmptyArchive", err)
	}
	if _, err := sess.Archive(); !errors.Is(err, ErrNoArchive) {
		t.Error("a failed export must not store an archive")
	}
	if got := sess.Progress(); got != idleProgress {
		t.Errorf("progress after failure = %+v, want idle", got)
	}

	notes := sess.Notifications(2)
	want := "Failed to export BIB cards: generated archive is empty"
	if len(notes) != 1 || notes[0].Title != "Export Failed" || notes[0].Message != want {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestExport_NoData(t *testing.T) {
	sess := loadSession(t, "1")
	factory, stub := stubFactory()

	_, err := sess.Export(context.Background(), ExportOptions{}, testExportConfig(factory))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	if len(stub.calls) != 0 {
		t.Error("renderer should not be called without barcodes")
	}
	notes := sess.Notifications(1)
	if len(notes) != 1 || notes[0].Message != "Please generate BIB cards first" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestExport_CancelledDiscardsArchive(t *testing.T) {
	sess := generatedSession(t, "1", "2", "3")
	factory, _ := stubFactory()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := testExportConfig(factory)
	cfg.YieldDelay = time.Hour
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := sess.Export(ctx, ExportOptions{}, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := sess.Archive(); !errors.Is(err, ErrNoArchive) {
		t.Error("a cancelled export must not store an archive")
	}
}

func TestExport_ProgressPerItem(t *testing.T) {
	sess := generatedSession(t, "1", "2", "3")
	factory, _ := stubFactory()
	updates, detach := sess.Subscribe()
	defer detach()

	if _, err := sess.Export(context.Background(), ExportOptions{}, testExportConfig(factory)); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var seen []int
	for done := false; !done; {
		select {
		case p := <-updates:
			if p.Stage == StageExporting && p.Current > 0 {
				seen = append(seen, p.Current)
			}
		default:
			done = true
		}
	}
	if !slices.Equal(seen, []int{1, 2, 3}) {
		t.Errorf("export progress = %v, want [1 2 3]", seen)
	}
}

func TestCardFileName(t *testing.T) {
	tests := []struct {
		bib  string
		n    int
		want string
	}{
		{bib: "42", n: 1, want: "42.png"},
		{bib: "A 7", n: 1, want: "A_7.png"},
		{bib: "x/../y", n: 1, want: "x_.._y.png"},
		{bib: "Zoë-01", n: 1, want: "Zoe-01.png"},
		{bib: "  12  ", n: 1, want: "12.png"},
		{bib: "東京", n: 4, want: "bib-card-4.png"},
		{bib: "", n: 2, want: "bib-card-2.png"},
		{bib: "...", n: 3, want: "bib-card-3.png"},
		{bib: "a***b", n: 1, want: "a_b.png"},
	}

	for _, tt := range tests {
		t.Run(tt.bib, func(t *testing.T) {
			if got := CardFileName(tt.bib, tt.n); got != tt.want {
				t.Errorf("CardFileName(%q, %d) = %q, want %q", tt.bib, tt.n, got, tt.want)
			}
		})
	}
}

func TestArchiveWriter_DuplicateNames(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  []string
	}{
		{"repeated", []string{"7.png", "7.png", "7.png"}, []string{"7.png", "7-2.png", "7-3.png"}},
		{"suffix collides with later bib", []string{"7.png", "7.png", "7-2.png"}, []string{"7.png", "7-2.png", "7-2-2.png"}},
		{"suffix taken by earlier bib", []string{"7-2.png", "7.png", "7.png"}, []string{"7-2.png", "7.png", "7-3.png"}},
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1)))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aw, err := newArchiveWriter(DefaultCompressionLevel)
			if err != nil {
				t.Fatalf("newArchiveWriter: %v", err)
			}
			for _, f := range tt.files {
				if err := aw.add(f, buf.Bytes(), fixedNow); err != nil {
					t.Fatalf("add: %v", err)
				}
			}
			data, err := aw.close()
			if err != nil {
				t.Fatalf("close: %v", err)
			}
			if names := zipEntries(t, data); !slices.Equal(names, tt.want) {
				t.Errorf("entries = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestNewArchiveWriter_RejectsBadLevel(t *testing.T) {
	if _, err := newArchiveWriter(12); err == nil {
		t.Error("expected error for compression level 12")
	}
}
