package core

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Archive defaults.
const (
	DefaultArchivePrefix    = "marathon-bib-cards"
	DefaultCompressionLevel = 6
	cardFilePrefix          = "bib-card-"
	cardFileExt             = ".png"
)

// ArchiveName returns "<prefix>-<unix millis>.zip".
func ArchiveName(prefix string, at time.Time) string {
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	return prefix + "-" + strconv.FormatInt(at.UnixMilli(), 10) + ".zip"
}

// CardFileName names the archive entry of the card at 1-based position n.
// The bib number is reduced to a safe file name; if nothing survives, the
// name falls back to "bib-card-<n>".
func CardFileName(bib string, n int) string {
	if name := SanitizeFileName(bib); name != "" {
		return name + cardFileExt
	}
	return cardFilePrefix + strconv.Itoa(n) + cardFileExt
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeFileName folds accents away and replaces every run of characters
// outside [A-Za-z0-9._-] with a single underscore. Leading dots and
// surrounding underscores are trimmed.
func SanitizeFileName(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_') {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(strings.TrimLeft(b.String(), "."), "_")
}

// archiveWriter collects card images into an in-memory zip.
type archiveWriter struct {
	buf   bytes.Buffer
	zw    *zip.Writer
	names map[string]bool
	files int
}

func newArchiveWriter(level int) (*archiveWriter, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("invalid compression level %d", level)
	}
	a := &archiveWriter{names: make(map[string]bool)}
	a.zw = zip.NewWriter(&a.buf)
	a.zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	return a, nil
}

// add stores one entry. A name already in the archive gets the first free
// "-2", "-3" suffix so no card silently replaces another.
func (a *archiveWriter) add(name string, data []byte, modified time.Time) error {
	name = a.uniqueName(name)
	a.names[name] = true

	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	a.files++
	return nil
}

func (a *archiveWriter) uniqueName(name string) string {
	if !a.names[name] {
		return name
	}
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i:]
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n) + ext
		if !a.names[candidate] {
			return candidate
		}
	}
}

func (a *archiveWriter) close() ([]byte, error) {
	if err := a.zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return a.buf.Bytes(), nil
}
