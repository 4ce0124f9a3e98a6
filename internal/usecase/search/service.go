// Package search implements the query engine: segment selection, posting
// intersection, field filtering, ordering, and pagination.
package search

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/domain/query"
	"github.com/outpost-labs/logsieve/internal/domain/result"
	"github.com/outpost-labs/logsieve/internal/index"
	"github.com/outpost-labs/logsieve/internal/metrics"
)

// Service executes queries against sealed segments. Queries never block
// writers: every segment handed out by the source is immutable.
type Service struct {
	segments SegmentSource
	logger   *zap.Logger
}

// New creates a query service.
func New(segments SegmentSource, logger *zap.Logger) *Service {
	return &Service{segments: segments, logger: logger}
}

// Search runs a query. A time range with no overlapping segments yields an
// empty page, not an error. A context deadline hit mid-scan returns the
// matches gathered so far with Truncated set.
func (s *Service) Search(ctx context.Context, q query.Query) (result.Page, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	offset := 0
	if q.Token() != "" {
		tok, err := decodeToken(q.Token(), q)
		if err != nil {
			return result.Page{}, err
		}
		offset = tok.Offset
	}

	from := q.From().UnixNano()
	to := q.To().UnixNano()

	segs := s.segments.Overlapping(from, to)
	defer func() {
		for _, seg := range segs {
			seg.Release()
		}
	}()
	if len(segs) == 0 {
		return result.Page{Matches: []result.Match{}}, nil
	}

	var (
		matches   []result.Match
		truncated bool
	)
	for _, seg := range segs {
		select {
		case <-ctx.Done():
			truncated = true
		default:
		}
		if truncated {
			break
		}
		matches = s.scanSegment(seg, q, from, to, matches)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].Record, matches[j].Record
		if a.TimestampNanos() != b.TimestampNanos() {
			return a.TimestampNanos() < b.TimestampNanos()
		}
		if a.Source().Key() != b.Source().Key() {
			return a.Source().Key() < b.Source().Key()
		}
		return a.Seq() < b.Seq()
	})

	if truncated {
		metrics.QueriesTruncated.Inc()
		s.logger.Warn("query deadline exceeded, returning partial results",
			zap.Int("matches", len(matches)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	total := len(matches)
	if offset > total {
		offset = total
	}
	end := offset + q.Limit()
	if end > total {
		end = total
	}

	page := result.Page{
		Matches:   append([]result.Match{}, matches[offset:end]...),
		Truncated: truncated,
	}
	if !truncated && end < total {
		page.NextToken = encodeToken(pageToken{Offset: end, Fingerprint: fingerprint(q)})
	}
	return page, nil
}

// scanSegment appends the segment's matching rows to acc.
func (s *Service) scanSegment(seg *index.Segment, q query.Query, from, to int64, acc []result.Match) []result.Match {
	rows := s.candidates(seg, q)
	for _, row := range rows {
		rec := seg.Record(row)
		ts := rec.TimestampNanos()
		if ts < from || ts >= to {
			continue
		}
		acc = append(acc, result.Match{Record: rec, SegmentID: seg.ID()})
	}
	return acc
}

// candidates narrows a segment to rows satisfying the keyword terms, the
// source selector, and the field filters; the time range is applied per row
// afterwards.
func (s *Service) candidates(seg *index.Segment, q query.Query) index.PostingList {
	var (
		rows index.PostingList
		open bool // rows initialized
	)
	narrow := func(next index.PostingList) {
		if !open {
			rows = next
			open = true
			return
		}
		rows = index.Intersect(rows, next)
	}

	for _, term := range q.Terms() {
		// A term may normalize into several tokens ("foo-bar"); a record
		// matches when it contains all of them.
		for _, tok := range index.Tokenize(term) {
			narrow(seg.Postings(tok))
			if open && len(rows) == 0 {
				return nil
			}
		}
	}

	src := q.Source()
	if src.Namespace() != "" {
		narrow(seg.MatchField(index.FieldNamespace, src.Namespace()))
	}
	if src.Pod() != "" {
		narrow(seg.MatchField(index.FieldPod, src.Pod()))
	}
	if src.Container() != "" {
		narrow(seg.MatchField(index.FieldContainer, src.Container()))
	}

	for _, f := range q.Filters() {
		narrow(seg.MatchField(f.Key(), f.Pattern()))
		if open && len(rows) == 0 {
			return nil
		}
	}

	if !open {
		return seg.AllRows()
	}
	return rows
}
