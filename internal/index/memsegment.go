package index

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// MemSegment is the active, append-only segment under construction. It is
// owned by the indexer; queries never read it. Sealing freezes its contents
// into an immutable Segment.
type MemSegment struct {
	mu        sync.Mutex
	records   []domain.Record
	postings  map[string]PostingList
	fields    *FieldStore
	minTs     int64
	maxTs     int64
	sizeBytes int64
	createdAt time.Time
}

// NewMemSegment creates an empty active segment.
func NewMemSegment() *MemSegment {
	return &MemSegment{
		postings:  make(map[string]PostingList),
		fields:    NewFieldStore(),
		createdAt: time.Now(),
	}
}

// Append indexes one record: row store, inverted index, and field columns.
func (m *MemSegment) Append(rec domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := uint32(len(m.records))
	m.records = append(m.records, rec)

	ts := rec.TimestampNanos()
	if len(m.records) == 1 || ts < m.minTs {
		m.minTs = ts
	}
	if ts > m.maxTs {
		m.maxTs = ts
	}

	for _, term := range Tokenize(rec.Body()) {
		pl := m.postings[term]
		if n := len(pl); n > 0 && pl[n-1] == row {
			continue // term repeated within the body
		}
		m.postings[term] = append(pl, row)
	}

	src := rec.Source()
	m.fields.Add(row, FieldNamespace, src.Namespace)
	m.fields.Add(row, FieldPod, src.Pod)
	if src.Container != "" {
		m.fields.Add(row, FieldContainer, src.Container)
	}
	for name, val := range rec.Fields() {
		m.fields.Add(row, name, val.Canonical())
	}

	m.sizeBytes += int64(len(rec.Body())) + int64(len(src.Key())) + 16
}

// Len returns the number of records appended so far.
func (m *MemSegment) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// SizeBytes returns the estimated in-memory size.
func (m *MemSegment) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizeBytes
}

// Age returns how long the segment has been accumulating.
func (m *MemSegment) Age() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.createdAt)
}

// Seal freezes the segment into an immutable Segment. The caller must have
// already swapped the active segment so no further Append can race the seal.
func (m *MemSegment) Seal() *Segment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) == 0 {
		return nil
	}
	return newSegment(
		uuid.NewString(),
		m.minTs, m.maxTs,
		m.records, m.postings, m.fields,
		m.sizeBytes,
	)
}
