package index

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/outpost-labs/logsieve/internal/domain"
)

func TestSealPolicyShouldSeal(t *testing.T) {
	p := SealPolicy{MaxRecords: 10, MaxBytes: 1000, MaxAge: time.Minute}

	if p.ShouldSeal(0, 0, time.Hour) {
		t.Error("empty segment must never seal")
	}
	if !p.ShouldSeal(10, 0, 0) {
		t.Error("record bound not honored")
	}
	if !p.ShouldSeal(1, 1000, 0) {
		t.Error("byte bound not honored")
	}
	if !p.ShouldSeal(1, 0, time.Minute) {
		t.Error("age bound not honored")
	}
	if p.ShouldSeal(9, 999, 59*time.Second) {
		t.Error("sealed below every bound")
	}
}

func TestSealActiveSwapsAtomically(t *testing.T) {
	st := NewStore()
	now := time.Now()
	st.AppendRecord(makeRec(t, "api-1", 1, now, "before seal"))

	seg := st.SealActive()
	if seg == nil {
		t.Fatal("SealActive returned nil")
	}
	if seg.NumRecords() != 1 {
		t.Errorf("sealed segment holds %d records", seg.NumRecords())
	}

	// Writes after the seal land in the fresh active segment.
	st.AppendRecord(makeRec(t, "api-1", 2, now, "after seal"))
	if seg.NumRecords() != 1 {
		t.Errorf("sealed segment grew to %d records", seg.NumRecords())
	}

	if again := st.SealActive(); again == nil || again.NumRecords() != 1 {
		t.Errorf("second seal = %v", again)
	}
	if len(st.Sealed()) != 2 {
		t.Errorf("Sealed() holds %d segments", len(st.Sealed()))
	}
}

func TestAppendRecordNotLostDuringConcurrentSeals(t *testing.T) {
	const (
		writers   = 8
		perWriter = 2000
	)

	st := NewStore()
	now := time.Now()

	batches := make([][]domain.Record, writers)
	for w := range batches {
		pod := fmt.Sprintf("api-%d", w)
		for i := 0; i < perWriter; i++ {
			batches[w] = append(batches[w], makeRec(t, pod, uint64(i+1), now, "racing the seal"))
		}
	}

	stop := make(chan struct{})
	var sealer sync.WaitGroup
	sealer.Add(1)
	go func() {
		defer sealer.Done()
		for {
			select {
			case <-stop:
				return
			default:
				st.SealActive()
			}
		}
	}()

	var writersWG sync.WaitGroup
	for _, batch := range batches {
		writersWG.Add(1)
		go func(batch []domain.Record) {
			defer writersWG.Done()
			for _, rec := range batch {
				st.AppendRecord(rec)
			}
		}(batch)
	}
	writersWG.Wait()
	close(stop)
	sealer.Wait()
	st.SealActive()

	total := 0
	for _, seg := range st.Sealed() {
		total += seg.NumRecords()
	}
	if total != writers*perWriter {
		t.Fatalf("sealed segments hold %d records, want %d", total, writers*perWriter)
	}
}

func TestSealActiveEmptyReturnsNil(t *testing.T) {
	st := NewStore()
	if seg := st.SealActive(); seg != nil {
		t.Errorf("SealActive on empty store = %v", seg)
	}
	if len(st.Sealed()) != 0 {
		t.Error("empty seal published a segment")
	}
}

func TestOverlappingAcquiresAndSkips(t *testing.T) {
	st := NewStore()
	now := time.Now()
	st.AppendRecord(makeRec(t, "api-1", 1, now, "a"))
	live := st.SealActive()

	st.AppendRecord(makeRec(t, "api-1", 2, now, "b"))
	corrupt := st.SealActive()
	corrupt.MarkCorrupt()

	st.AppendRecord(makeRec(t, "api-1", 3, now, "c"))
	retiring := st.SealActive()
	retiring.BeginRetire(now)

	from := now.Add(-time.Hour).UnixNano()
	to := now.Add(time.Hour).UnixNano()
	got := st.Overlapping(from, to)
	if len(got) != 1 || got[0] != live {
		t.Fatalf("Overlapping returned %d segments", len(got))
	}
	if live.Refs() != 1 {
		t.Errorf("Overlapping did not acquire a reference: refs=%d", live.Refs())
	}
	got[0].Release()
}

func TestRemoveUnregistersSegment(t *testing.T) {
	st := NewStore()
	st.AppendRecord(makeRec(t, "api-1", 1, time.Now(), "a"))
	seg := st.SealActive()

	st.Remove(seg)
	if len(st.Sealed()) != 0 {
		t.Errorf("Sealed() holds %d segments after Remove", len(st.Sealed()))
	}
}
