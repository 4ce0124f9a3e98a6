// Package ingest implements the ingestion gateway: per-record validation,
// sequence admission, and timeout-based backpressure toward the buffers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/domain"
	"github.com/outpost-labs/logsieve/internal/metrics"
)

// Reject is a per-record failure. The record at Index was not admitted.
type Reject struct {
	Index int
	Err   error
}

// Result summarizes one ingest batch.
type Result struct {
	Accepted int
	Rejects  []Reject
}

// Service validates and admits records from many concurrent sources.
type Service struct {
	buffers        RecordBuffer
	cursors        CursorStore
	skewTolerance  time.Duration
	enqueueTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// New creates the gateway service.
func New(buffers RecordBuffer, cursors CursorStore, skewTolerance, enqueueTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		buffers:        buffers,
		cursors:        cursors,
		skewTolerance:  skewTolerance,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// WithClock overrides the wall clock (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest admits a batch of records. Validation failures reject individual
// records and never fail the batch; buffer overload aborts the remainder of
// the batch with domain.ErrOverloaded so the source can back off and resend.
func (s *Service) Ingest(ctx context.Context, records []domain.Record) (Result, error) {
	var res Result

	// Accepted cursors are read once per source per batch.
	accepted := make(map[string]uint64)

	for i, rec := range records {
		key := rec.Source().Key()

		if err := s.validate(ctx, rec, key, accepted); err != nil {
			res.Rejects = append(res.Rejects, Reject{Index: i, Err: err})
			metrics.RecordsRejected.WithLabelValues(rejectReason(err)).Inc()
			s.logger.Debug("record rejected",
				zap.String("source", key),
				zap.Uint64("seq", rec.Seq()),
				zap.Error(err),
			)
			continue
		}

		enqCtx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
		err := s.buffers.Enqueue(enqCtx, rec)
		cancel()
		if err != nil {
			if errors.Is(err, domain.ErrOverloaded) {
				metrics.Overloads.Inc()
				s.logger.Warn("buffer overloaded, aborting batch",
					zap.String("source", key),
					zap.Int("admitted", res.Accepted),
					zap.Int("remaining", len(records)-i),
				)
				return res, err
			}
			return res, fmt.Errorf("enqueue record: %w", err)
		}

		accepted[key] = rec.Seq()
		if err := s.cursors.SetAccepted(ctx, key, rec.Seq()); err != nil {
			return res, fmt.Errorf("advance accepted cursor: %w", err)
		}
		res.Accepted++
		metrics.RecordsAccepted.Inc()
	}

	return res, nil
}

// validate checks the skew tolerance and per-source sequence monotonicity.
func (s *Service) validate(ctx context.Context, rec domain.Record, key string, accepted map[string]uint64) error {
	if s.skewTolerance > 0 {
		oldest := s.now().Add(-s.skewTolerance)
		if rec.Timestamp().Before(oldest) {
			return fmt.Errorf("%w: %s is before %s", domain.ErrStaleRecord,
				rec.Timestamp().Format(time.RFC3339), oldest.Format(time.RFC3339))
		}
	}

	last, ok := accepted[key]
	if !ok {
		var err error
		last, err = s.cursors.Accepted(ctx, key)
		if err != nil {
			return fmt.Errorf("read accepted cursor: %w", err)
		}
		accepted[key] = last
	}
	if rec.Seq() <= last {
		return domain.NewSequenceError(rec.Seq(), last)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStaleRecord):
		return "stale"
	case errors.Is(err, domain.ErrDuplicateRecord):
		return "duplicate"
	default:
		return "invalid"
	}
}
