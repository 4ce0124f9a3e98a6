// Package retention expires sealed segments past the retention window.
// Deletion is reference-count aware: a segment under an in-flight query is
// only marked retiring and removed once released, or force-removed after the
// grace period.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/metrics"
)

// Service is the retention manager.
type Service struct {
	store     SegmentStore
	artifacts Artifacts
	window    time.Duration
	grace     time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a retention manager. A zero window disables expiry.
func New(store SegmentStore, artifacts Artifacts, window, grace, interval time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		artifacts: artifacts,
		window:    window,
		grace:     grace,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the wall clock (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.window <= 0 {
		s.logger.Info("retention disabled")
		<-ctx.Done()
		return nil
	}

	s.logger.Info("retention manager started",
		zap.Duration("window", s.window),
		zap.Duration("interval", s.interval),
		zap.Duration("grace", s.grace),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one retention pass and returns the number of segments removed.
// Segments still referenced stay registered until a later sweep finds them
// released or past the grace period.
func (s *Service) Sweep() int {
	if s.window <= 0 {
		return 0
	}

	now := s.now()
	cutoff := now.Add(-s.window).UnixNano()

	removed := 0
	for _, seg := range s.store.Sealed() {
		if seg.MaxTime().UnixNano() >= cutoff {
			continue
		}
		seg.BeginRetire(now)

		if !seg.Removable(now, s.grace) {
			s.logger.Debug("segment expiry deferred, queries in flight",
				zap.String("segment", seg.ID()),
				zap.Int("refs", seg.Refs()),
			)
			continue
		}

		s.store.Remove(seg)
		if err := s.artifacts.Delete(seg); err != nil {
			s.logger.Error("segment artifact delete failed",
				zap.String("segment", seg.ID()),
				zap.Error(err),
			)
		}
		metrics.SegmentsDeleted.Inc()
		removed++
		s.logger.Info("expired segment deleted",
			zap.String("segment", seg.ID()),
			zap.Time("max_ts", seg.MaxTime()),
		)
	}
	return removed
}
