package retention

import "github.com/outpost-labs/logsieve/internal/index"

// SegmentStore exposes sealed segments for the sweep and removes expired ones.
type SegmentStore interface {
	Sealed() []*index.Segment
	Remove(seg *index.Segment)
}

// Artifacts deletes a segment's on-disk artifact.
type Artifacts interface {
	Delete(seg *index.Segment) error
}
