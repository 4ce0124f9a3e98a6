package index

import (
	"sort"
	"sync"
	"time"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// SealPolicy bounds the active segment. A segment is sealed once any bound
// is hit.
type SealPolicy struct {
	MaxRecords int
	MaxBytes   int64
	MaxAge     time.Duration
}

// ShouldSeal reports whether an active segment with the given shape is due.
func (p SealPolicy) ShouldSeal(records int, bytes int64, age time.Duration) bool {
	if records == 0 {
		return false
	}
	if p.MaxRecords > 0 && records >= p.MaxRecords {
		return true
	}
	if p.MaxBytes > 0 && bytes >= p.MaxBytes {
		return true
	}
	if p.MaxAge > 0 && age >= p.MaxAge {
		return true
	}
	return false
}

// Store holds the active segment and the sealed, queryable segments.
// Sealing is the synchronization point between writers and readers: the
// active segment is swapped under the store lock, then published immutable.
type Store struct {
	mu     sync.RWMutex
	active *MemSegment
	sealed []*Segment
}

// NewStore creates a store with a fresh active segment.
func NewStore() *Store {
	return &Store{active: NewMemSegment()}
}

// AppendRecord indexes one record into the active segment. The read lock is
// held across the append so a concurrent SealActive cannot swap the segment
// away from an in-flight append.
func (st *Store) AppendRecord(rec domain.Record) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	st.active.Append(rec)
}

// ActiveShouldSeal evaluates the seal policy against the active segment.
func (st *Store) ActiveShouldSeal(p SealPolicy) bool {
	st.mu.RLock()
	a := st.active
	st.mu.RUnlock()
	return p.ShouldSeal(a.Len(), a.SizeBytes(), a.Age())
}

// SealActive atomically swaps in a fresh active segment and publishes the
// previous one as sealed. Returns nil when the active segment was empty:
// either the whole segment becomes queryable or none of it does.
func (st *Store) SealActive() *Segment {
	st.mu.Lock()
	old := st.active
	st.active = NewMemSegment()
	st.mu.Unlock()

	seg := old.Seal()
	if seg == nil {
		return nil
	}

	st.mu.Lock()
	st.sealed = append(st.sealed, seg)
	sort.Slice(st.sealed, func(i, j int) bool {
		return st.sealed[i].minTs < st.sealed[j].minTs
	})
	st.mu.Unlock()
	return seg
}

// AddSealed registers a segment loaded from disk at startup.
func (st *Store) AddSealed(seg *Segment) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sealed = append(st.sealed, seg)
	sort.Slice(st.sealed, func(i, j int) bool {
		return st.sealed[i].minTs < st.sealed[j].minTs
	})
}

// Overlapping returns the sealed segments intersecting [from, to) with a
// query reference acquired on each. Corrupt and retiring segments are
// skipped. The caller must Release every returned segment.
func (st *Store) Overlapping(from, to int64) []*Segment {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []*Segment
	for _, seg := range st.sealed {
		if seg.Corrupt() || !seg.Overlaps(from, to) {
			continue
		}
		if seg.Acquire() {
			out = append(out, seg)
		}
	}
	return out
}

// Sealed returns all sealed segments, including corrupt and retiring ones.
// Used by the retention manager.
func (st *Store) Sealed() []*Segment {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]*Segment(nil), st.sealed...)
}

// Remove unregisters a segment.
func (st *Store) Remove(seg *Segment) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, s := range st.sealed {
		if s == seg {
			st.sealed = append(st.sealed[:i], st.sealed[i+1:]...)
			return
		}
	}
}
