package logsieve

import "time"

// Record is one log record to ingest. Seq must be strictly increasing per
// source; Fields values must be scalars (string, int64, float64, bool).
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Namespace string         `json:"namespace"`
	Pod       string         `json:"pod"`
	Container string         `json:"container,omitempty"`
	Seq       uint64         `json:"seq"`
	Body      string         `json:"body"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Reject reports one record that was not admitted. Line is the zero-based
// index into the submitted batch.
type Reject struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// IngestResult summarizes one ingest call.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Rejects  []Reject `json:"rejects,omitempty"`
	Err      string   `json:"error,omitempty"`
}

// Filter matches a structured field against a value pattern ('*' wildcard).
type Filter struct {
	Key     string `json:"key"`
	Pattern string `json:"pattern"`
}

// Query is a search request. The time range is half-open [From, To).
type Query struct {
	Terms     []string  `json:"terms,omitempty"`
	Filters   []Filter  `json:"filters,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
	Pod       string    `json:"pod,omitempty"`
	Container string    `json:"container,omitempty"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Limit     int       `json:"limit,omitempty"`
	Token     string    `json:"token,omitempty"`
	TimeoutMs int       `json:"timeout_ms,omitempty"`
}

// Match is one query hit.
type Match struct {
	Timestamp time.Time      `json:"timestamp"`
	Namespace string         `json:"namespace"`
	Pod       string         `json:"pod"`
	Container string         `json:"container,omitempty"`
	Seq       uint64         `json:"seq"`
	Body      string         `json:"body"`
	Fields    map[string]any `json:"fields,omitempty"`
	SegmentID string         `json:"segment_id"`
}

// QueryResult is one result page. A non-empty NextToken continues the query;
// Truncated means the server deadline cut the scan short.
type QueryResult struct {
	Matches   []Match `json:"matches"`
	NextToken string  `json:"next_token,omitempty"`
	Truncated bool    `json:"truncated"`
}

// Health is the server health report.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
