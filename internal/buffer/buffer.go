// Package buffer implements the per-source record buffer: a bounded queue
// with a durable write-ahead log and ack-based handoff to the indexer.
// Records count against capacity until the indexer acknowledges their flush,
// so a crash never loses admitted records and a slow indexer surfaces as
// backpressure instead of unbounded memory growth.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// Config controls queue behavior. One Config is shared by all sources.
type Config struct {
	// Capacity is the maximum number of unacknowledged records per source.
	Capacity int
	// FlushRecords marks a queue flush-ready at this pending count.
	FlushRecords int
	// FlushInterval marks a queue flush-ready once its oldest pending record
	// reaches this age.
	FlushInterval time.Duration
	// Dir holds one WAL file per source.
	Dir string
}

// Queue is the bounded durable buffer for a single source. Enqueue may be
// called by one producer at a time; Take/Ack/Nack by one consumer at a time.
type Queue struct {
	source domain.Source
	wal    *WAL
	slots  chan struct{}

	mu       sync.Mutex
	pending  []domain.Record
	inflight []domain.Record
	claimed  bool
	oldest   time.Time
	notified bool

	flushRecords int
	dirty        chan<- *Queue
}

// Source returns the source this queue buffers.
func (q *Queue) Source() domain.Source { return q.source }

// Enqueue admits a record, blocking while the queue is full until ctx
// expires. A deadline expiry maps to domain.ErrOverloaded; the record is
// never silently dropped.
func (q *Queue) Enqueue(ctx context.Context, rec domain.Record) error {
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: buffer full for source %s", domain.ErrOverloaded, q.source)
		}
		return ctx.Err()
	}

	q.mu.Lock()
	if err := q.wal.AppendRecord(rec); err != nil {
		q.mu.Unlock()
		<-q.slots
		return fmt.Errorf("wal append: %w", err)
	}
	if len(q.pending) == 0 {
		q.oldest = time.Now()
	}
	q.pending = append(q.pending, rec)
	ready := len(q.pending) >= q.flushRecords
	q.mu.Unlock()

	if ready {
		q.notify()
	}
	return nil
}

// Take claims up to max pending records for indexing. It returns nil when the
// queue is empty or another consumer already holds a claim; per-source order
// is preserved because at most one claim exists at a time.
func (q *Queue) Take(max int) []domain.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.notified = false
	if q.claimed || len(q.pending) == 0 {
		return nil
	}

	n := len(q.pending)
	if max > 0 && n > max {
		n = max
	}
	batch := make([]domain.Record, n)
	copy(batch, q.pending[:n])
	q.pending = append([]domain.Record(nil), q.pending[n:]...)
	if len(q.pending) > 0 {
		q.oldest = time.Now()
	}
	q.inflight = batch
	q.claimed = true
	return batch
}

// Ack acknowledges the claimed batch: a commit entry is written, the slots
// are released, and the WAL is truncated once the queue fully drains.
func (q *Queue) Ack() error {
	q.mu.Lock()
	if !q.claimed {
		q.mu.Unlock()
		return nil
	}

	last := q.inflight[len(q.inflight)-1].Seq()
	err := q.wal.AppendCommit(last)
	n := len(q.inflight)
	q.inflight = nil
	q.claimed = false

	if err == nil && len(q.pending) == 0 {
		err = q.wal.Reset()
	}
	ready := len(q.pending) >= q.flushRecords
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		<-q.slots
	}
	if ready {
		q.notify()
	}
	if err != nil {
		return fmt.Errorf("ack source %s: %w", q.source, err)
	}
	return nil
}

// Nack returns the claimed batch to the head of the queue for a later retry.
func (q *Queue) Nack() {
	q.mu.Lock()
	if !q.claimed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.inflight, q.pending...)
	q.inflight = nil
	q.claimed = false
	q.oldest = time.Now()
	q.mu.Unlock()

	q.notify()
}

// Len returns the number of pending (unclaimed) records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// readyByAge reports whether the oldest pending record exceeds the interval.
func (q *Queue) readyByAge(interval time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.claimed && len(q.pending) > 0 && time.Since(q.oldest) >= interval
}

func (q *Queue) notify() {
	q.mu.Lock()
	if q.notified || q.claimed || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	q.notified = true
	q.mu.Unlock()

	select {
	case q.dirty <- q:
	default:
		// Dirty channel full; the flush ticker will retry.
		q.mu.Lock()
		q.notified = false
		q.mu.Unlock()
	}
}

// Set owns the queues for all sources and the shared flush-readiness channel.
type Set struct {
	cfg    Config
	logger *zap.Logger
	dirty  chan *Queue

	mu     sync.RWMutex
	queues map[string]*Queue
}

// NewSet creates a queue set backed by cfg.Dir.
func NewSet(cfg Config, logger *zap.Logger) (*Set, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.FlushRecords <= 0 || cfg.FlushRecords > cfg.Capacity {
		return nil, fmt.Errorf("flush threshold %d out of range (capacity %d)", cfg.FlushRecords, cfg.Capacity)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	return &Set{
		cfg:    cfg,
		logger: logger,
		dirty:  make(chan *Queue, 1024),
		queues: make(map[string]*Queue),
	}, nil
}

// Dirty returns the channel announcing flush-ready queues to the indexer.
func (s *Set) Dirty() <-chan *Queue { return s.dirty }

// ForSource returns the queue for src, creating it (and replaying its WAL)
// on first use.
func (s *Set) ForSource(src domain.Source) (*Queue, error) {
	key := src.Key()

	s.mu.RLock()
	q, ok := s.queues[key]
	s.mu.RUnlock()
	if ok {
		return q, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.queues[key]; ok {
		return q, nil
	}

	q, err := s.openQueue(src)
	if err != nil {
		return nil, err
	}
	s.queues[key] = q
	return q, nil
}

// openQueue opens the WAL, replays unacknowledged records, and primes the
// capacity slots. Caller holds s.mu.
func (s *Set) openQueue(src domain.Source) (*Queue, error) {
	wal, err := OpenWAL(s.walPath(src))
	if err != nil {
		return nil, err
	}
	pending, err := wal.Replay()
	if err != nil {
		_ = wal.Close()
		return nil, fmt.Errorf("replay wal for %s: %w", src, err)
	}

	q := &Queue{
		source:       src,
		wal:          wal,
		slots:        make(chan struct{}, s.cfg.Capacity),
		pending:      pending,
		flushRecords: s.cfg.FlushRecords,
		dirty:        s.dirty,
	}
	if len(pending) > 0 {
		q.oldest = time.Now()
		for i := 0; i < len(pending) && i < s.cfg.Capacity; i++ {
			q.slots <- struct{}{}
		}
		s.logger.Info("replayed wal records",
			zap.String("source", src.Key()),
			zap.Int("records", len(pending)),
		)
	}
	return q, nil
}

// Enqueue admits a record into its source's queue, creating the queue on
// first use.
func (s *Set) Enqueue(ctx context.Context, rec domain.Record) error {
	q, err := s.ForSource(rec.Source())
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, rec)
}

// Recover opens all WAL files left by a previous run so their records flow to
// the indexer without waiting for new traffic from those sources.
func (s *Set) Recover() error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read wal dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wal") {
			continue
		}
		path := filepath.Join(s.cfg.Dir, entry.Name())
		wal, err := OpenWAL(path)
		if err != nil {
			s.logger.Warn("skipping unreadable wal", zap.String("path", path), zap.Error(err))
			continue
		}
		pending, err := wal.Replay()
		if err != nil || len(pending) == 0 {
			_ = wal.Close()
			if err == nil {
				_ = os.Remove(path)
			}
			continue
		}
		_ = wal.Close()

		// Source identity lives in the entries themselves.
		q, err := s.ForSource(pending[0].Source())
		if err != nil {
			return err
		}
		q.notify()
	}
	return nil
}

// RunFlushTicker periodically marks queues flush-ready on the age threshold.
// Blocks until ctx is cancelled.
func (s *Set) RunFlushTicker(ctx context.Context) {
	interval := s.cfg.FlushInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range s.snapshot() {
				if q.readyByAge(interval) {
					q.notify()
				}
			}
		}
	}
}

// DrainReady notifies every queue holding pending records. Used at shutdown
// to push remaining data through the indexer.
func (s *Set) DrainReady() {
	for _, q := range s.snapshot() {
		q.notify()
	}
}

// PendingTotal returns the pending record count across all queues.
func (s *Set) PendingTotal() int {
	total := 0
	for _, q := range s.snapshot() {
		total += q.Len()
	}
	return total
}

// Close syncs and closes all WAL files.
func (s *Set) Close() error {
	var firstErr error
	for _, q := range s.snapshot() {
		if err := q.wal.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := q.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Set) snapshot() []*Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q)
	}
	return out
}

func (s *Set) walPath(src domain.Source) string {
	name := strings.ReplaceAll(src.Key(), "/", "__") + ".wal"
	return filepath.Join(s.cfg.Dir, name)
}
