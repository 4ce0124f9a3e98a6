package index

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// Segment is a sealed, immutable batch of indexed records covering a bounded
// time window. Its data is safe for unsynchronized concurrent reads; the
// only mutable state is the retirement bookkeeping, which has its own lock.
type Segment struct {
	id        string
	minTs     int64
	maxTs     int64
	records   []domain.Record
	postings  map[string]PostingList
	fields    *FieldStore
	sizeBytes int64
	sealedAt  time.Time

	corrupt atomic.Bool

	mu       sync.Mutex
	refs     int
	retiring bool
	retireAt time.Time
}

func newSegment(
	id string, minTs, maxTs int64,
	records []domain.Record, postings map[string]PostingList, fields *FieldStore,
	sizeBytes int64,
) *Segment {
	return &Segment{
		id:        id,
		minTs:     minTs,
		maxTs:     maxTs,
		records:   records,
		postings:  postings,
		fields:    fields,
		sizeBytes: sizeBytes,
		sealedAt:  time.Now(),
	}
}

// ID returns the segment identifier.
func (s *Segment) ID() string { return s.id }

// MinTime returns the earliest record timestamp.
func (s *Segment) MinTime() time.Time { return time.Unix(0, s.minTs) }

// MaxTime returns the latest record timestamp.
func (s *Segment) MaxTime() time.Time { return time.Unix(0, s.maxTs) }

// NumRecords returns the record count.
func (s *Segment) NumRecords() int { return len(s.records) }

// SizeBytes returns the estimated size.
func (s *Segment) SizeBytes() int64 { return s.sizeBytes }

// Record returns the record at row. Rows come from posting lists produced by
// this segment, so the index is always valid.
func (s *Segment) Record(row uint32) domain.Record { return s.records[row] }

// AllRows returns every row id in order.
func (s *Segment) AllRows() PostingList {
	rows := make(PostingList, len(s.records))
	for i := range rows {
		rows[i] = uint32(i)
	}
	return rows
}

// Postings returns the rows containing term, or nil.
func (s *Segment) Postings(term string) PostingList { return s.postings[term] }

// MatchField returns the rows whose field value matches pattern.
func (s *Segment) MatchField(field, pattern string) PostingList {
	return s.fields.Match(field, pattern)
}

// Overlaps reports whether the segment's window intersects [from, to).
func (s *Segment) Overlaps(from, to int64) bool {
	return s.minTs < to && s.maxTs >= from
}

// MarkCorrupt flags the segment after persistence gave up; the query engine
// skips corrupt segments.
func (s *Segment) MarkCorrupt() { s.corrupt.Store(true) }

// Corrupt reports the corruption flag.
func (s *Segment) Corrupt() bool { return s.corrupt.Load() }

// Acquire takes a query reference. It fails once retirement has begun.
func (s *Segment) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retiring {
		return false
	}
	s.refs++
	return true
}

// Release drops a query reference.
func (s *Segment) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		panic(fmt.Sprintf("segment %s: release without acquire", s.id))
	}
	s.refs--
}

// Refs returns the current reference count.
func (s *Segment) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// BeginRetire marks the segment retiring so no new references are handed
// out. Idempotent; the first call starts the grace clock.
func (s *Segment) BeginRetire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.retiring {
		s.retiring = true
		s.retireAt = now
	}
}

// Retiring reports whether retirement has begun.
func (s *Segment) Retiring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retiring
}

// Removable reports whether a retiring segment may be deleted: all query
// references released, or the grace period elapsed.
func (s *Segment) Removable(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.retiring {
		return false
	}
	return s.refs == 0 || now.Sub(s.retireAt) >= grace
}
