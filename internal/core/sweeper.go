package core

// sweeper.go expires idle sessions. Sessions hold whole datasets, barcode
// maps and archives in memory, so one left behind by a closed browser tab
// would otherwise live until restart.
//
// The sweeper runs on a ticker and stops when its context is cancelled.
// A session with a running stage is never expired.

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper defaults.
const (
	DefaultSessionTTL    = 2 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// SweepConfig holds configuration for the session sweeper.
type SweepConfig struct {
	TTL      time.Duration // Idle time before a session expires (default: 2h)
	Interval time.Duration // How often to sweep (default: 10m)
}

// StartSessionSweeper blocks, removing expired sessions every Interval,
// until ctx is cancelled.
func (s *Service) StartSessionSweeper(ctx context.Context, cfg SweepConfig) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	slog.Info("session sweeper started", "ttl", cfg.TTL.String(), "interval", cfg.Interval.String())

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case now := <-ticker.C:
			s.sweepSessions(now, cfg.TTL)
		}
	}
}

// sweepSessions removes sessions idle since before now-ttl and returns how
// many were removed.
func (s *Service) sweepSessions(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if !sess.Busy() && sess.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	if len(expired) > 0 {
		slog.Info("expired idle sessions", "expired", len(expired), "remaining", remaining)
	} else {
		slog.Debug("session sweep found nothing to expire", "sessions", remaining)
	}
	return len(expired)
}
