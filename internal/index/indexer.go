package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/outpost-labs/logsieve/internal/buffer"
	"github.com/outpost-labs/logsieve/internal/domain"
	"github.com/outpost-labs/logsieve/internal/metrics"
)

// persistBackoff is the initial retry delay for failed segment writes and
// failed batches. Failed-batch delays double per consecutive failure up to
// retryBackoffCap.
const (
	persistBackoff  = 250 * time.Millisecond
	retryBackoffCap = 5 * time.Second
)

// CursorStore tracks the per-source committed cursor: the highest sequence
// number already indexed. It is injected so the indexer stays testable and
// the state can live in memory or Redis.
type CursorStore interface {
	Committed(ctx context.Context, sourceKey string) (uint64, error)
	SetCommitted(ctx context.Context, sourceKey string, seq uint64) error
}

// Config controls the indexer pool.
type Config struct {
	Workers        int
	Policy         SealPolicy
	Dir            string
	PersistRetries int
}

// Indexer drains flush-ready buffers into the active segment via a
// work-stealing worker pool. Flushes from different sources interleave, but
// each source's records keep their order: a queue hands out one claim at a
// time.
type Indexer struct {
	store   *Store
	codec   *Codec
	cursors CursorStore
	cfg     Config
	dirty   <-chan *buffer.Queue
	logger  *zap.Logger

	persistSem *semaphore.Weighted
	sealMu     sync.Mutex

	retryMu    sync.Mutex
	retryDelay map[string]time.Duration
}

// New creates an indexer consuming from dirty.
func New(store *Store, codec *Codec, cursors CursorStore, dirty <-chan *buffer.Queue, cfg Config, logger *zap.Logger) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = 3
	}
	return &Indexer{
		store:      store,
		codec:      codec,
		cursors:    cursors,
		cfg:        cfg,
		dirty:      dirty,
		logger:     logger,
		persistSem: semaphore.NewWeighted(2),
		retryDelay: make(map[string]time.Duration),
	}
}

// Run blocks until ctx is cancelled, operating the worker pool and the
// age-based sealer.
func (ix *Indexer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < ix.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case q := <-ix.dirty:
					ix.drain(ctx, q)
				}
			}
		})
	}

	if ix.cfg.Policy.MaxAge > 0 {
		g.Go(func() error {
			interval := ix.cfg.Policy.MaxAge / 4
			if interval < time.Second {
				interval = time.Second
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if ix.store.ActiveShouldSeal(ix.cfg.Policy) {
						ix.seal(ctx)
					}
				}
			}
		})
	}

	return g.Wait()
}

// drain indexes every pending batch of q.
func (ix *Indexer) drain(ctx context.Context, q *buffer.Queue) {
	for {
		batch := q.Take(0)
		if len(batch) == 0 {
			return
		}

		if err := ix.process(ctx, q.Source().Key(), batch); err != nil {
			ix.logger.Error("indexing batch failed, returned to buffer",
				zap.String("source", q.Source().Key()),
				zap.Int("records", len(batch)),
				zap.Error(err),
			)
			// The claim is still held through the wait, so the failing queue
			// cannot bounce between workers in a hot loop.
			ix.waitRetry(ctx, q.Source().Key())
			q.Nack()
			return
		}
		ix.clearRetry(q.Source().Key())
		if err := q.Ack(); err != nil {
			ix.logger.Error("buffer ack failed", zap.String("source", q.Source().Key()), zap.Error(err))
		}

		if ix.store.ActiveShouldSeal(ix.cfg.Policy) {
			ix.seal(ctx)
		}
	}
}

// waitRetry blocks for the source's current retry delay, doubling it for the
// next consecutive failure.
func (ix *Indexer) waitRetry(ctx context.Context, sourceKey string) {
	ix.retryMu.Lock()
	delay := ix.retryDelay[sourceKey]
	if delay == 0 {
		delay = persistBackoff
	}
	next := delay * 2
	if next > retryBackoffCap {
		next = retryBackoffCap
	}
	ix.retryDelay[sourceKey] = next
	ix.retryMu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (ix *Indexer) clearRetry(sourceKey string) {
	ix.retryMu.Lock()
	delete(ix.retryDelay, sourceKey)
	ix.retryMu.Unlock()
}

// process appends a batch to the active segment, deduplicating via the
// committed cursor so a replayed flush after a crash indexes nothing twice.
func (ix *Indexer) process(ctx context.Context, sourceKey string, batch []domain.Record) error {
	committed, err := ix.cursors.Committed(ctx, sourceKey)
	if err != nil {
		return fmt.Errorf("read committed cursor: %w", err)
	}

	last := committed
	indexed := 0
	for _, rec := range batch {
		if rec.Seq() <= last {
			metrics.RecordsDeduplicated.Inc()
			continue
		}
		ix.store.AppendRecord(rec)
		last = rec.Seq()
		indexed++
	}

	if last > committed {
		if err := ix.cursors.SetCommitted(ctx, sourceKey, last); err != nil {
			return fmt.Errorf("advance committed cursor: %w", err)
		}
	}
	metrics.RecordsIndexed.Add(float64(indexed))
	return nil
}

// ForceSeal seals the active segment regardless of policy. Used at shutdown
// so buffered-but-unsealed data becomes durable and queryable.
func (ix *Indexer) ForceSeal(ctx context.Context) *Segment {
	return ix.seal(ctx)
}

// seal swaps the active segment, publishes it, and persists the artifact
// with bounded retries. Persist failures mark the segment corrupt; queries
// skip it.
func (ix *Indexer) seal(ctx context.Context) *Segment {
	ix.sealMu.Lock()
	seg := ix.store.SealActive()
	ix.sealMu.Unlock()
	if seg == nil {
		return nil
	}

	metrics.SegmentsSealed.Inc()
	ix.logger.Info("segment sealed",
		zap.String("segment", seg.ID()),
		zap.Int("records", seg.NumRecords()),
		zap.Time("min_ts", seg.MinTime()),
		zap.Time("max_ts", seg.MaxTime()),
	)

	if err := ix.persist(ctx, seg); err != nil {
		seg.MarkCorrupt()
		metrics.SegmentsCorrupt.Inc()
		ix.logger.Error("segment persist failed permanently, marked corrupt",
			zap.String("segment", seg.ID()),
			zap.Error(err),
		)
	}
	return seg
}

// persist writes the segment artifact, retrying with exponential backoff.
func (ix *Indexer) persist(ctx context.Context, seg *Segment) error {
	if err := ix.persistSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire persist slot: %w", err)
	}
	defer ix.persistSem.Release(1)

	var lastErr error
	delay := persistBackoff
	for attempt := 0; attempt < ix.cfg.PersistRetries; attempt++ {
		if attempt > 0 {
			metrics.SegmentPersistRetries.Inc()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		if _, err := ix.codec.WriteSegment(ix.cfg.Dir, seg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
