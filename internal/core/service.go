package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTooManySessions is returned when the session table is full.
var ErrTooManySessions = errors.New("too many sessions, please try again later")

// Service defaults.
const (
	DefaultMaxSessions  = 100
	DefaultBatchTimeout = 30 * time.Minute
)

// Options configures a Service. Zero fields take package defaults.
type Options struct {
	MaxSessions          int
	MaxConcurrentBatches int
	MaxBatchWait         time.Duration
	// BatchTimeout bounds one background generation or export.
	BatchTimeout time.Duration
	Generate     GenerateConfig
	Export       ExportConfig
}

// Service owns the sessions and runs their pipeline stages.
type Service struct {
	opts    Options
	limiter *BatchLimiter

	// batchCtx parents every background batch; Close cancels it.
	batchCtx    context.Context
	cancelBatch context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a Service. A card renderer factory is required.
func NewService(opts Options) (*Service, error) {
	if opts.Export.NewRenderer == nil {
		return nil, errors.New("card renderer factory is required")
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	if opts.Generate.Deriver == nil {
		opts.Generate.Deriver = NewBarcodeDeriver()
	}
	opts.Export = opts.Export.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		opts:        opts,
		limiter:     NewBatchLimiter(opts.MaxConcurrentBatches, opts.MaxBatchWait),
		batchCtx:    ctx,
		cancelBatch: cancel,
		sessions:    make(map[string]*Session),
	}, nil
}

// CreateSession starts an empty session.
func (s *Service) CreateSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.opts.MaxSessions {
		return nil, ErrTooManySessions
	}
	sess := newSession(uuid.New().String())
	s.sessions[sess.ID] = sess
	slog.Info("session created", "session_id", sess.ID, "sessions", len(s.sessions))
	return sess, nil
}

// Session looks up a session by ID. Every lookup counts as activity, so
// a session that is being viewed or streamed is not swept.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.touch()
	return sess, nil
}

// RemoveSession discards a session. A session with a running stage cannot
// be removed.
func (s *Service) RemoveSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if sess.Busy() {
		return ErrBusy
	}
	delete(s.sessions, id)
	slog.Info("session removed", "session_id", id)
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Ingest loads a participant source into a session.
func (s *Service) Ingest(id string, r io.Reader, size int64) ([]Participant, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.Ingest(r, size)
}

// SetTheme changes a session's card theme.
func (s *Service) SetTheme(id, theme string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	return sess.SetTheme(theme)
}

// SetBackground stores a background image on a session.
func (s *Service) SetBackground(id string, data []byte, mediaType string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	sess.SetBackground(data, mediaType)
	return nil
}

// RejectBackground reports an unusable background image on a session.
func (s *Service) RejectBackground(id string, cause error) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	sess.RejectBackground(cause)
	return nil
}

// Generate runs a generation batch and waits for it.
func (s *Service) Generate(ctx context.Context, id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer s.limiter.Release()

	return sess.Generate(ctx, s.opts.Generate)
}

// StartGeneration claims the session and runs generation in the background.
// Preconditions are checked before it returns; progress and the outcome are
// observed through SubscribeProgress and the session's notifications.
func (s *Service) StartGeneration(ctx context.Context, id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}

	participants, err := sess.startGeneration()
	if err != nil {
		s.limiter.Release()
		return err
	}

	go func() {
		defer s.limiter.Release()
		bctx, cancel := context.WithTimeout(s.batchCtx, s.opts.BatchTimeout)
		defer cancel()
		_ = sess.runGeneration(bctx, participants, s.opts.Generate)
	}()
	return nil
}

// Export runs an export batch and waits for the archive.
func (s *Service) Export(ctx context.Context, id string, opts ExportOptions) (*Archive, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	return sess.Export(ctx, opts, s.opts.Export)
}

// StartExport claims the session and runs the export in the background.
// The archive is fetched afterwards with Session.Archive.
func (s *Service) StartExport(ctx context.Context, id string, opts ExportOptions) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}

	participants, deck, err := sess.startExport()
	if err != nil {
		s.limiter.Release()
		return err
	}

	go func() {
		defer s.limiter.Release()
		bctx, cancel := context.WithTimeout(s.batchCtx, s.opts.BatchTimeout)
		defer cancel()
		_, _ = sess.runExport(bctx, participants, deck, opts, s.opts.Export)
	}()
	return nil
}

// SubscribeProgress attaches a progress listener to a session. The returned
// function detaches it and must be called.
func (s *Service) SubscribeProgress(id string) (<-chan GenerationProgress, func(), error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.Subscribe()
	return ch, cancel, nil
}

// LimiterStatus reports batch slot usage.
func (s *Service) LimiterStatus() BatchLimiterStatus {
	return s.limiter.Status()
}

// WaitForBatches blocks until no batch is running.
func (s *Service) WaitForBatches(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Close cancels running background batches. Their sessions fall back to
// idle and no partial results are published.
func (s *Service) Close() {
	s.cancelBatch()
}
