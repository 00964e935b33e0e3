package core

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// MaxNotifications is how many notifications a session retains.
const MaxNotifications = 50

// DefaultTheme is the card theme of a new session.
const DefaultTheme = "theme-red"

// Themes lists the card themes a session accepts.
var Themes = []string{
	"theme-red",
	"theme-blue",
	"theme-green",
	"theme-orange",
	"theme-purple",
	"theme-transparent",
}

// IsTheme reports whether name is a known theme.
func IsTheme(name string) bool {
	return slices.Contains(Themes, name)
}

// Session is the transient state of one organizer working on one dataset.
// It is replaced wholesale on new ingestion and discarded when it expires.
//
// Only one stage (parsing, generating, exporting) runs at a time; the
// running stage owns the progress record and, for generation, the barcode
// map it publishes on success.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu             sync.RWMutex
	participants   []Participant
	barcodes       map[string]BarcodeArtifact
	theme          string
	background     []byte
	backgroundType string
	progress       GenerationProgress
	active         bool
	done           chan struct{}
	archive        *Archive
	notifications  []Notification
	nextNoticeID   int
	lastActive     time.Time

	listenerMu   sync.Mutex
	listeners    map[int]chan GenerationProgress
	nextListener int
}

func newSession(id string) *Session {
	now := time.Now()
	done := make(chan struct{})
	close(done)
	return &Session{
		ID:         id,
		CreatedAt:  now,
		theme:      DefaultTheme,
		progress:   idleProgress,
		done:       done,
		lastActive: now,
		listeners:  make(map[int]chan GenerationProgress),
	}
}

func (s *Session) logger() *slog.Logger {
	return slog.Default().With("session_id", s.ID)
}

// Participants returns a copy of the sorted participant list.
func (s *Session) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.participants)
}

// Barcodes returns the published barcode map. The map is never mutated
// after publication, callers must treat it as read-only.
func (s *Session) Barcodes() map[string]BarcodeArtifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.barcodes
}

// Barcode returns the artifact for one bib number.
func (s *Session) Barcode(bib string) (BarcodeArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.barcodes[bib]
	return a, ok
}

// Progress returns the current progress readout.
func (s *Session) Progress() GenerationProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Busy reports whether a stage is running.
func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Theme returns the card theme.
func (s *Session) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// HasBackground reports whether a background image was uploaded.
func (s *Session) HasBackground() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.background) > 0
}

// Archive returns the latest successful export.
func (s *Session) Archive() (*Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.archive, nil
}

// Notifications returns notifications with an ID greater than since.
func (s *Session) Notifications(since int) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.notifications {
		if n.ID > since {
			out = append(out, n)
		}
	}
	return out
}

// touch marks the session as in use.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns when the session was last used.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Wait blocks until the running stage, if any, has finished.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetTheme changes the card theme.
func (s *Session) SetTheme(theme string) error {
	if !IsTheme(theme) {
		return fmt.Errorf("unknown theme: %q", theme)
	}
	s.mu.Lock()
	s.theme = theme
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

// SetBackground stores a background image for pass-through to the renderer.
// The bytes are not inspected.
func (s *Session) SetBackground(data []byte, mediaType string) {
	s.mu.Lock()
	s.background = slices.Clone(data)
	s.backgroundType = mediaType
	s.lastActive = time.Now()
	s.mu.Unlock()
	s.notify("Background Image Loaded", "Background image applied successfully", VariantDefault)
}

// RejectBackground records a background image that could not be used.
// The current background is kept.
func (s *Session) RejectBackground(err error) {
	s.logger().Warn("background image rejected", "error", err)
	s.notify("Error", "Failed to load background image", VariantDestructive)
}

// Subscribe returns a channel of progress updates and a function that
// detaches it. The current progress is delivered immediately.
func (s *Session) Subscribe() (<-chan GenerationProgress, func()) {
	ch := make(chan GenerationProgress, 16)

	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = ch
	ch <- s.Progress()
	s.listenerMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

// begin claims the session for one stage.
func (s *Session) begin(stage Stage, total int) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrBusy
	}
	s.active = true
	s.done = make(chan struct{})
	s.progress = GenerationProgress{Current: 0, Total: total, Stage: stage}
	s.lastActive = time.Now()
	p := s.progress
	s.mu.Unlock()

	s.broadcast(p)
	return nil
}

// end releases the session and leaves progress at final.
func (s *Session) end(final GenerationProgress) {
	s.mu.Lock()
	s.active = false
	s.progress = final
	s.lastActive = time.Now()
	close(s.done)
	s.mu.Unlock()

	s.broadcast(final)
}

// setProgress is called by the running stage only.
func (s *Session) setProgress(p GenerationProgress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()

	s.broadcast(p)
}

// broadcast sends p to every listener. A listener with a full buffer
// loses its oldest pending update, so the newest state, including the
// final one of a stage, always arrives.
func (s *Session) broadcast(p GenerationProgress) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		select {
		case ch <- p:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}

func (s *Session) notify(title, message string, variant NotificationVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNoticeID++
	s.notifications = append(s.notifications, Notification{
		ID:      s.nextNoticeID,
		Title:   title,
		Message: message,
		Variant: variant,
		At:      time.Now(),
	})
	if over := len(s.notifications) - MaxNotifications; over > 0 {
		s.notifications = slices.Delete(s.notifications, 0, over)
	}
}

// replaceDataset installs a freshly ingested participant list. Barcodes and
// the archive belong to the previous dataset and are dropped.
func (s *Session) replaceDataset(participants []Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = participants
	s.barcodes = nil
	s.archive = nil
}

// publishBarcodes swaps in a complete barcode map in one step.
func (s *Session) publishBarcodes(m map[string]BarcodeArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barcodes = m
}

func (s *Session) setArchive(a *Archive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = a
}

// deck snapshots what the renderer needs for one export.
func (s *Session) deck() CardDeck {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cards := make(map[string]CardContent, len(s.barcodes))
	for _, p := range s.participants {
		if b, ok := s.barcodes[p.BibNumber]; ok {
			cards[p.BibNumber] = CardContent{Participant: p, Barcode: b}
		}
	}
	return CardDeck{
		Theme:               s.theme,
		Background:          s.background,
		BackgroundMediaType: s.backgroundType,
		Cards:               cards,
	}
}

// snapshot returns the participants and a copy of the barcode map.
func (s *Session) snapshot() ([]Participant, map[string]BarcodeArtifact) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.participants), maps.Clone(s.barcodes)
}
