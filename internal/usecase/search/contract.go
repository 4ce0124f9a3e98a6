package search

import "github.com/outpost-labs/logsieve/internal/index"

// SegmentSource hands out sealed segments overlapping a time range, each
// with a query reference acquired. The caller must Release every segment.
type SegmentSource interface {
	Overlapping(fromNanos, toNanos int64) []*index.Segment
}
