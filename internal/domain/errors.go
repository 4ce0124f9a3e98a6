package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord signals a malformed or unacceptable record.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrStaleRecord signals a record older than the skew tolerance.
	ErrStaleRecord = errors.New("record timestamp too old")
	// ErrDuplicateRecord signals a sequence number at or below the last accepted one.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrOverloaded signals buffer backpressure after the admission timeout.
	ErrOverloaded = errors.New("ingestion overloaded")
	// ErrSegmentCorrupt signals a segment whose persistence failed permanently.
	ErrSegmentCorrupt = errors.New("segment corrupt")
	// ErrSegmentRetired signals a segment already removed by retention.
	ErrSegmentRetired = errors.New("segment retired")
	// ErrBadCursor signals an unusable pagination token.
	ErrBadCursor = errors.New("bad continuation token")
)

// SequenceError wraps ErrDuplicateRecord with the last accepted sequence.
type SequenceError struct {
	Seq      uint64
	Accepted uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%s: seq %d not after accepted %d", ErrDuplicateRecord.Error(), e.Seq, e.Accepted)
}

func (e *SequenceError) Unwrap() error { return ErrDuplicateRecord }

// NewSequenceError creates a duplicate-sequence error.
func NewSequenceError(seq, accepted uint64) error {
	return &SequenceError{Seq: seq, Accepted: accepted}
}
