package retention

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/domain"
	"github.com/outpost-labs/logsieve/internal/index"
)

// --- Mocks ---

type mockStore struct {
	segs    []*index.Segment
	removed []*index.Segment
}

func (m *mockStore) Sealed() []*index.Segment { return m.segs }

func (m *mockStore) Remove(seg *index.Segment) {
	m.removed = append(m.removed, seg)
	for i, s := range m.segs {
		if s == seg {
			m.segs = append(m.segs[:i], m.segs[i+1:]...)
			return
		}
	}
}

type mockArtifacts struct {
	deleted []string
	err     error
}

func (m *mockArtifacts) Delete(seg *index.Segment) error {
	m.deleted = append(m.deleted, seg.ID())
	return m.err
}

func sealSegmentAt(t *testing.T, ts time.Time) *index.Segment {
	t.Helper()
	src, err := domain.NewSource("prod", "api-1", "app")
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	rec, err := domain.NewRecord(ts, src, 1, "old line", nil)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	m := index.NewMemSegment()
	m.Append(rec)
	seg := m.Seal()
	if seg == nil {
		t.Fatal("Seal returned nil")
	}
	return seg
}

func newSweeper(store SegmentStore, artifacts Artifacts, window time.Duration, now time.Time) *Service {
	svc := New(store, artifacts, window, 30*time.Second, time.Minute, zap.NewNop())
	return svc.WithClock(func() time.Time { return now })
}

func TestSweepDeletesExpiredSegments(t *testing.T) {
	now := time.Now()
	old := sealSegmentAt(t, now.Add(-2*time.Hour))
	fresh := sealSegmentAt(t, now.Add(-10*time.Minute))

	store := &mockStore{segs: []*index.Segment{old, fresh}}
	artifacts := &mockArtifacts{}
	svc := newSweeper(store, artifacts, time.Hour, now)

	if removed := svc.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d segments, want 1", removed)
	}
	if len(store.removed) != 1 || store.removed[0] != old {
		t.Errorf("removed = %v", store.removed)
	}
	if len(artifacts.deleted) != 1 || artifacts.deleted[0] != old.ID() {
		t.Errorf("artifacts deleted = %v", artifacts.deleted)
	}
	if fresh.Retiring() {
		t.Error("fresh segment was retired")
	}
}

func TestSweepDefersWhileQueryHoldsRef(t *testing.T) {
	now := time.Now()
	old := sealSegmentAt(t, now.Add(-2*time.Hour))
	if !old.Acquire() {
		t.Fatal("Acquire failed")
	}

	store := &mockStore{segs: []*index.Segment{old}}
	artifacts := &mockArtifacts{}
	svc := newSweeper(store, artifacts, time.Hour, now)

	if removed := svc.Sweep(); removed != 0 {
		t.Fatalf("Sweep removed %d segments while referenced", removed)
	}
	if !old.Retiring() {
		t.Error("expired segment not marked retiring")
	}

	// New queries cannot reach a retiring segment.
	if old.Acquire() {
		t.Error("Acquire succeeded on retiring segment")
	}

	// Once released, the next sweep removes it.
	old.Release()
	if removed := svc.Sweep(); removed != 1 {
		t.Errorf("Sweep after release removed %d segments", removed)
	}
}

func TestSweepForcesRemovalAfterGrace(t *testing.T) {
	now := time.Now()
	old := sealSegmentAt(t, now.Add(-2*time.Hour))
	if !old.Acquire() {
		t.Fatal("Acquire failed")
	}

	store := &mockStore{segs: []*index.Segment{old}}
	svc := newSweeper(store, &mockArtifacts{}, time.Hour, now)

	if removed := svc.Sweep(); removed != 0 {
		t.Fatalf("first sweep removed %d", removed)
	}

	// The reference is stuck. Past the grace period the sweep removes anyway.
	svc.WithClock(func() time.Time { return now.Add(31 * time.Second) })
	if removed := svc.Sweep(); removed != 1 {
		t.Errorf("sweep after grace removed %d segments", removed)
	}
}

func TestSweepDisabledWindow(t *testing.T) {
	now := time.Now()
	old := sealSegmentAt(t, now.Add(-1000*time.Hour))
	store := &mockStore{segs: []*index.Segment{old}}
	svc := newSweeper(store, &mockArtifacts{}, 0, now)

	if removed := svc.Sweep(); removed != 0 {
		t.Errorf("disabled retention removed %d segments", removed)
	}
}
