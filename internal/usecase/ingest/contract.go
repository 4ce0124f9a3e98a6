package ingest

import (
	"context"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// RecordBuffer admits records into their per-source queues, blocking under
// backpressure until the passed context expires.
type RecordBuffer interface {
	Enqueue(ctx context.Context, rec domain.Record) error
}

// CursorStore tracks the per-source accepted cursor: the highest sequence
// number the gateway has admitted.
type CursorStore interface {
	Accepted(ctx context.Context, sourceKey string) (uint64, error)
	SetAccepted(ctx context.Context, sourceKey string, seq uint64) error
}
