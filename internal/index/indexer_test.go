package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/buffer"
	"github.com/outpost-labs/logsieve/internal/domain"
)

type fakeCursors struct {
	committed map[string]uint64
	err       error
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{committed: make(map[string]uint64)}
}

func (f *fakeCursors) Committed(_ context.Context, sourceKey string) (uint64, error) {
	return f.committed[sourceKey], f.err
}

func (f *fakeCursors) SetCommitted(_ context.Context, sourceKey string, seq uint64) error {
	if f.err != nil {
		return f.err
	}
	if seq > f.committed[sourceKey] {
		f.committed[sourceKey] = seq
	}
	return nil
}

func newTestIndexer(t *testing.T, store *Store, cursors CursorStore, dirty <-chan *buffer.Queue, cfg Config) *Indexer {
	t.Helper()
	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return New(store, codec, cursors, dirty, cfg, zap.NewNop())
}

func TestProcessSkipsAlreadyCommitted(t *testing.T) {
	store := NewStore()
	cursors := newFakeCursors()
	cursors.committed["prod/api-1/app"] = 2

	ix := newTestIndexer(t, store, cursors, nil, Config{Dir: t.TempDir()})

	now := time.Now()
	batch := []domain.Record{
		makeRec(t, "api-1", 1, now, "replayed"),
		makeRec(t, "api-1", 2, now, "replayed"),
		makeRec(t, "api-1", 3, now, "fresh"),
		makeRec(t, "api-1", 4, now, "fresh"),
	}
	if err := ix.process(context.Background(), "prod/api-1/app", batch); err != nil {
		t.Fatalf("process: %v", err)
	}

	seg := store.SealActive()
	if seg == nil || seg.NumRecords() != 2 {
		t.Fatalf("indexed %v records, want 2", seg)
	}
	if got := cursors.committed["prod/api-1/app"]; got != 4 {
		t.Errorf("committed cursor = %d, want 4", got)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	store := NewStore()
	cursors := newFakeCursors()
	ix := newTestIndexer(t, store, cursors, nil, Config{Dir: t.TempDir()})

	now := time.Now()
	batch := []domain.Record{
		makeRec(t, "api-1", 1, now, "once"),
		makeRec(t, "api-1", 2, now, "once"),
	}
	ctx := context.Background()
	if err := ix.process(ctx, "prod/api-1/app", batch); err != nil {
		t.Fatalf("process: %v", err)
	}
	// A crash between index and ack re-delivers the same batch.
	if err := ix.process(ctx, "prod/api-1/app", batch); err != nil {
		t.Fatalf("process replay: %v", err)
	}

	seg := store.SealActive()
	if seg == nil || seg.NumRecords() != 2 {
		t.Fatalf("replayed batch duplicated rows: %v", seg)
	}
}

func TestDrainAcksAndSealsByPolicy(t *testing.T) {
	dir := t.TempDir()
	set, err := buffer.NewSet(buffer.Config{
		Capacity:      16,
		FlushRecords:  2,
		FlushInterval: time.Second,
		Dir:           filepath.Join(dir, "wal"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	defer func() { _ = set.Close() }()

	ctx := context.Background()
	for seq := uint64(1); seq <= 4; seq++ {
		if err := set.Enqueue(ctx, makeRec(t, "api-1", seq, time.Now(), "flood")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q, err := set.ForSource(makeRec(t, "api-1", 1, time.Now(), "x").Source())
	if err != nil {
		t.Fatalf("ForSource: %v", err)
	}

	store := NewStore()
	segDir := filepath.Join(dir, "segments")
	ix := newTestIndexer(t, store, newFakeCursors(), set.Dirty(), Config{
		Policy: SealPolicy{MaxRecords: 2},
		Dir:    segDir,
	})

	ix.drain(ctx, q)

	if q.Len() != 0 {
		t.Errorf("queue still holds %d records", q.Len())
	}
	sealed := store.Sealed()
	if len(sealed) == 0 {
		t.Fatal("no segment sealed at the record bound")
	}
	total := 0
	for _, seg := range sealed {
		total += seg.NumRecords()
		if seg.Corrupt() {
			t.Errorf("segment %s marked corrupt", seg.ID())
		}
		if _, err := os.Stat(filepath.Join(segDir, SegmentFileName(seg))); err != nil {
			t.Errorf("segment %s not persisted: %v", seg.ID(), err)
		}
	}
	if total != 4 {
		t.Errorf("sealed segments hold %d records, want 4", total)
	}
}

func TestDrainBacksOffWhileBatchesFail(t *testing.T) {
	dir := t.TempDir()
	set, err := buffer.NewSet(buffer.Config{
		Capacity:      16,
		FlushRecords:  2,
		FlushInterval: time.Second,
		Dir:           filepath.Join(dir, "wal"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	defer func() { _ = set.Close() }()

	ctx := context.Background()
	for seq := uint64(1); seq <= 2; seq++ {
		if err := set.Enqueue(ctx, makeRec(t, "api-1", seq, time.Now(), "stuck")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q, err := set.ForSource(makeRec(t, "api-1", 1, time.Now(), "x").Source())
	if err != nil {
		t.Fatalf("ForSource: %v", err)
	}

	cursors := newFakeCursors()
	cursors.err = errors.New("cursor store down")
	ix := newTestIndexer(t, NewStore(), cursors, set.Dirty(), Config{
		Dir: filepath.Join(dir, "segments"),
	})

	start := time.Now()
	ix.drain(ctx, q)
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("failed drain returned after %v, want a delay", elapsed)
	}
	if q.Len() != 2 {
		t.Errorf("nacked batch not returned: %d pending", q.Len())
	}

	// The delay doubles while the failure persists.
	start = time.Now()
	ix.drain(ctx, q)
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("second failed drain returned after %v, want a doubled delay", elapsed)
	}

	// A successful batch clears the backoff.
	cursors.err = nil
	ix.drain(ctx, q)
	if q.Len() != 0 {
		t.Errorf("queue still holds %d records after recovery", q.Len())
	}
	if d := ix.retryDelay["prod/api-1/app"]; d != 0 {
		t.Errorf("retry delay not cleared after success: %v", d)
	}
}

func TestSealMarksCorruptWhenPersistFails(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the segment dir should be makes every write fail.
	blocked := filepath.Join(dir, "segments")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := NewStore()
	store.AppendRecord(makeRec(t, "api-1", 1, time.Now(), "doomed"))

	ix := newTestIndexer(t, store, newFakeCursors(), nil, Config{
		Dir:            blocked,
		PersistRetries: 1,
	})

	seg := ix.ForceSeal(context.Background())
	if seg == nil {
		t.Fatal("ForceSeal returned nil")
	}
	if !seg.Corrupt() {
		t.Error("segment not marked corrupt after persist failure")
	}

	// Corrupt segments are invisible to queries.
	from := time.Now().Add(-time.Hour).UnixNano()
	to := time.Now().Add(time.Hour).UnixNano()
	if got := store.Overlapping(from, to); len(got) != 0 {
		t.Errorf("corrupt segment served to queries: %d", len(got))
	}
}
