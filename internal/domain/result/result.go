// Package result defines search response types.
package result

import "github.com/outpost-labs/logsieve/internal/domain"

// Match is a single record returned by a query.
type Match struct {
	Record    domain.Record
	SegmentID string
}

// Page is one page of query results, ordered by timestamp ascending.
type Page struct {
	Matches []Match
	// NextToken continues the query on the following page; empty when the
	// result set is exhausted.
	NextToken string
	// Truncated reports that the query deadline expired before all candidate
	// segments were scanned, so Matches may be incomplete.
	Truncated bool
}
