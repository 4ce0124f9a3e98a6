package index

import (
	"testing"
	"time"

	"github.com/outpost-labs/logsieve/internal/domain"
)

func makeRec(t *testing.T, pod string, seq uint64, ts time.Time, body string) domain.Record {
	t.Helper()
	src, err := domain.NewSource("prod", pod, "app")
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	rec, err := domain.NewRecord(ts, src, seq, body, map[string]domain.FieldValue{
		"level": domain.StringValue("error"),
		"code":  domain.IntValue(500),
	})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return rec
}

func TestMemSegmentAppendIndexesBody(t *testing.T) {
	m := NewMemSegment()
	now := time.Now()
	m.Append(makeRec(t, "api-1", 1, now, "connection refused"))
	m.Append(makeRec(t, "api-1", 2, now, "connection reset"))

	seg := m.Seal()
	if seg == nil {
		t.Fatal("Seal returned nil for non-empty segment")
	}
	if seg.NumRecords() != 2 {
		t.Fatalf("NumRecords() = %d", seg.NumRecords())
	}

	if got := seg.Postings("connection"); len(got) != 2 {
		t.Errorf("postings for %q = %v", "connection", got)
	}
	if got := seg.Postings("refused"); len(got) != 1 || got[0] != 0 {
		t.Errorf("postings for %q = %v", "refused", got)
	}
	if got := seg.Postings("missing"); got != nil {
		t.Errorf("postings for absent term = %v", got)
	}
}

func TestMemSegmentIndexesFields(t *testing.T) {
	m := NewMemSegment()
	now := time.Now()
	m.Append(makeRec(t, "api-1", 1, now, "a"))
	m.Append(makeRec(t, "web-1", 2, now, "b"))

	seg := m.Seal()
	if got := seg.MatchField(FieldPod, "api-*"); len(got) != 1 || got[0] != 0 {
		t.Errorf("MatchField(pod, api-*) = %v", got)
	}
	if got := seg.MatchField("level", "error"); len(got) != 2 {
		t.Errorf("MatchField(level, error) = %v", got)
	}
	if got := seg.MatchField("code", "500"); len(got) != 2 {
		t.Errorf("MatchField(code, 500) = %v", got)
	}
}

func TestMemSegmentTimeBounds(t *testing.T) {
	m := NewMemSegment()
	base := time.Now()
	m.Append(makeRec(t, "api-1", 1, base.Add(time.Minute), "later"))
	m.Append(makeRec(t, "api-1", 2, base, "earlier"))

	seg := m.Seal()
	if !seg.MinTime().Equal(time.Unix(0, base.UnixNano())) {
		t.Errorf("MinTime() = %v, want %v", seg.MinTime(), base)
	}
	if !seg.MaxTime().Equal(time.Unix(0, base.Add(time.Minute).UnixNano())) {
		t.Errorf("MaxTime() = %v", seg.MaxTime())
	}
}

func TestSealEmptySegmentReturnsNil(t *testing.T) {
	if seg := NewMemSegment().Seal(); seg != nil {
		t.Errorf("Seal of empty segment = %v, want nil", seg)
	}
}

func TestRepeatedTermIndexedOnce(t *testing.T) {
	m := NewMemSegment()
	m.Append(makeRec(t, "api-1", 1, time.Now(), "retry retry retry"))

	seg := m.Seal()
	if got := seg.Postings("retry"); len(got) != 1 {
		t.Errorf("repeated term produced %d postings", len(got))
	}
}
