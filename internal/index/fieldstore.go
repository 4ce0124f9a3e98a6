package index

import "sort"

// Reserved field names for the source coordinates. Dynamic record fields
// share the same store, so structured filters treat them uniformly.
const (
	FieldNamespace = "namespace"
	FieldPod       = "pod"
	FieldContainer = "container"
)

// FieldStore is a columnar store for structured filters: per field, a value
// dictionary mapping each distinct value to the sorted rows holding it.
type FieldStore struct {
	cols map[string]map[string]PostingList
}

// NewFieldStore creates an empty field store.
func NewFieldStore() *FieldStore {
	return &FieldStore{cols: make(map[string]map[string]PostingList)}
}

// Add records that row holds value for field. Rows must be added in
// ascending order, which keeps every posting list sorted for free.
func (fs *FieldStore) Add(row uint32, field, value string) {
	col, ok := fs.cols[field]
	if !ok {
		col = make(map[string]PostingList)
		fs.cols[field] = col
	}
	col[value] = append(col[value], row)
}

// Match returns the rows whose value for field matches pattern ('*'
// wildcards). Dictionary cardinality is bounded by distinct values, so a
// scan over keys is cheap relative to a row scan.
func (fs *FieldStore) Match(field, pattern string) PostingList {
	col, ok := fs.cols[field]
	if !ok {
		return nil
	}
	var out PostingList
	for value, rows := range col {
		if MatchPattern(pattern, value) {
			out = Union(out, rows)
		}
	}
	return out
}

// Fields returns the field names present, sorted.
func (fs *FieldStore) Fields() []string {
	out := make([]string, 0, len(fs.cols))
	for f := range fs.cols {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// column exposes the raw dictionary for serialization.
func (fs *FieldStore) column(field string) map[string]PostingList {
	return fs.cols[field]
}

// reconstructFieldStore hydrates a store from its serialized dictionary.
func reconstructFieldStore(cols map[string]map[string]PostingList) *FieldStore {
	if cols == nil {
		cols = make(map[string]map[string]PostingList)
	}
	return &FieldStore{cols: cols}
}
