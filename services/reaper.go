package services

import (
	"context"
	"log/slog"
	"time"
)

type staleSessionMarker interface {
	MarkStaleSessionsAbandoned(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionReaper periodically abandons active sessions that have gone idle.
// It is the only thing that moves a session to abandoned.
type SessionReaper struct {
	store    staleSessionMarker
	idle     time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewSessionReaper(store staleSessionMarker, idle, interval time.Duration) *SessionReaper {
	if idle <= 0 {
		idle = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &SessionReaper{store: store, idle: idle, interval: interval, now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *SessionReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Session reaper started", "idle_after", s.idle, "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Session reaper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep abandons sessions idle for longer than the configured window and
// returns how many it touched.
func (s *SessionReaper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.idle)
	n, err := s.store.MarkStaleSessionsAbandoned(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to sweep stale sessions", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Abandoned stale sessions", "count", n, "cutoff", cutoff)
	}
	return n
}
