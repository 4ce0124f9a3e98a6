// Package query defines the search request value object.
package query

import (
	"fmt"
	"time"
)

const (
	// MaxTerms is the maximum number of keyword terms per query.
	MaxTerms = 16
	// MaxFilters is the maximum number of field filters per query.
	MaxFilters = 32
	// DefaultLimit is the page size used when the request does not set one.
	DefaultLimit = 100
	// MaxLimit is the maximum page size.
	MaxLimit = 1000
)

// Filter matches a structured field against a value pattern. Patterns support
// a trailing or embedded '*' wildcard ("api-*", "*-worker-*"); a pattern
// without '*' is an exact match.
type Filter struct {
	key     string
	pattern string
}

// NewFilter validates and creates a field Filter.
func NewFilter(key, pattern string) (Filter, error) {
	if key == "" {
		return Filter{}, fmt.Errorf("filter key is required")
	}
	if pattern == "" {
		return Filter{}, fmt.Errorf("filter pattern is required for key %q", key)
	}
	return Filter{key: key, pattern: pattern}, nil
}

// Key returns the field name.
func (f Filter) Key() string { return f.key }

// Pattern returns the value pattern.
func (f Filter) Pattern() string { return f.pattern }

// SourceSelector narrows a query to matching sources. Empty parts match
// everything; non-empty parts are patterns (same wildcard rules as Filter).
type SourceSelector struct {
	namespace string
	pod       string
	container string
}

// NewSourceSelector creates a source selector.
func NewSourceSelector(namespace, pod, container string) SourceSelector {
	return SourceSelector{namespace: namespace, pod: pod, container: container}
}

// Namespace returns the namespace pattern.
func (s SourceSelector) Namespace() string { return s.namespace }

// Pod returns the pod pattern.
func (s SourceSelector) Pod() string { return s.pod }

// Container returns the container pattern.
func (s SourceSelector) Container() string { return s.container }

// IsEmpty reports whether the selector matches all sources.
func (s SourceSelector) IsEmpty() bool {
	return s.namespace == "" && s.pod == "" && s.container == ""
}

// Query is a search request: keyword terms, field filters, a time range,
// source filters, and an opaque continuation token.
type Query struct {
	terms   []string
	filters []Filter
	source  SourceSelector
	from    time.Time
	to      time.Time
	limit   int
	token   string
}

// New validates and creates a Query. The time range is half-open [from, to).
func New(terms []string, filters []Filter, source SourceSelector, from, to time.Time, limit int, token string) (Query, error) {
	if from.IsZero() || to.IsZero() {
		return Query{}, fmt.Errorf("query time range is required")
	}
	if !to.After(from) {
		return Query{}, fmt.Errorf("query time range is empty: from %s, to %s", from, to)
	}
	if len(terms) > MaxTerms {
		return Query{}, fmt.Errorf("too many terms (max %d)", MaxTerms)
	}
	if len(filters) > MaxFilters {
		return Query{}, fmt.Errorf("too many filters (max %d)", MaxFilters)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return Query{}, fmt.Errorf("limit too large (max %d)", MaxLimit)
	}
	return Query{
		terms:   terms,
		filters: filters,
		source:  source,
		from:    from,
		to:      to,
		limit:   limit,
		token:   token,
	}, nil
}

// Terms returns the keyword terms.
func (q Query) Terms() []string { return q.terms }

// Filters returns the field filters.
func (q Query) Filters() []Filter { return q.filters }

// Source returns the source selector.
func (q Query) Source() SourceSelector { return q.source }

// From returns the inclusive range start.
func (q Query) From() time.Time { return q.from }

// To returns the exclusive range end.
func (q Query) To() time.Time { return q.to }

// Limit returns the page size.
func (q Query) Limit() int { return q.limit }

// Token returns the continuation token ("" for the first page).
func (q Query) Token() string { return q.token }
