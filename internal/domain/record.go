package domain

import (
	"fmt"
	"strconv"
	"time"
)

// MaxBodySize is the maximum record body size in bytes.
const MaxBodySize = 1 << 20 // 1MB

// Source identifies where a record originated: namespace/pod/container.
type Source struct {
	Namespace string
	Pod       string
	Container string
}

// NewSource validates and creates a Source. Namespace and pod are required,
// container may be empty (single-container pods).
func NewSource(namespace, pod, container string) (Source, error) {
	if namespace == "" {
		return Source{}, fmt.Errorf("source namespace is required")
	}
	if pod == "" {
		return Source{}, fmt.Errorf("source pod is required")
	}
	return Source{Namespace: namespace, Pod: pod, Container: container}, nil
}

// Key returns the canonical "namespace/pod/container" form used as a buffer
// and cursor key.
func (s Source) Key() string {
	return s.Namespace + "/" + s.Pod + "/" + s.Container
}

func (s Source) String() string { return s.Key() }

// FieldKind discriminates the tagged FieldValue union.
type FieldKind uint8

const (
	// FieldString holds a string value.
	FieldString FieldKind = iota
	// FieldInt holds an int64 value.
	FieldInt
	// FieldFloat holds a float64 value.
	FieldFloat
	// FieldBool holds a bool value.
	FieldBool
)

// FieldValue is a tagged scalar: string, int, float, or bool. Dynamic record
// fields are represented with this union instead of open reflection.
type FieldValue struct {
	kind FieldKind
	str  string
	num  int64
	flt  float64
	bit  bool
}

// StringValue creates a string FieldValue.
func StringValue(v string) FieldValue { return FieldValue{kind: FieldString, str: v} }

// IntValue creates an int FieldValue.
func IntValue(v int64) FieldValue { return FieldValue{kind: FieldInt, num: v} }

// FloatValue creates a float FieldValue.
func FloatValue(v float64) FieldValue { return FieldValue{kind: FieldFloat, flt: v} }

// BoolValue creates a bool FieldValue.
func BoolValue(v bool) FieldValue { return FieldValue{kind: FieldBool, bit: v} }

// Kind returns the value kind.
func (v FieldValue) Kind() FieldKind { return v.kind }

// Str returns the string value (zero unless Kind is FieldString).
func (v FieldValue) Str() string { return v.str }

// Int returns the int value (zero unless Kind is FieldInt).
func (v FieldValue) Int() int64 { return v.num }

// Float returns the float value (zero unless Kind is FieldFloat).
func (v FieldValue) Float() float64 { return v.flt }

// Bool returns the bool value (false unless Kind is FieldBool).
func (v FieldValue) Bool() bool { return v.bit }

// Canonical returns the string form used by the field store dictionary.
// Floats use the shortest round-trippable representation.
func (v FieldValue) Canonical() string {
	switch v.kind {
	case FieldString:
		return v.str
	case FieldInt:
		return strconv.FormatInt(v.num, 10)
	case FieldFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case FieldBool:
		return strconv.FormatBool(v.bit)
	default:
		return ""
	}
}

// Record is a single accepted log record. Immutable once created.
type Record struct {
	timestamp int64 // unix nanoseconds
	source    Source
	seq       uint64
	body      string
	fields    map[string]FieldValue
}

// NewRecord validates and creates a Record.
func NewRecord(ts time.Time, source Source, seq uint64, body string, fields map[string]FieldValue) (Record, error) {
	if ts.IsZero() {
		return Record{}, fmt.Errorf("record timestamp is required")
	}
	if source.Namespace == "" || source.Pod == "" {
		return Record{}, fmt.Errorf("record source is incomplete: %q", source.Key())
	}
	if seq == 0 {
		return Record{}, fmt.Errorf("record sequence number must be positive")
	}
	if body == "" {
		return Record{}, fmt.Errorf("record body is required")
	}
	if len(body) > MaxBodySize {
		return Record{}, fmt.Errorf("record body too large (max %d bytes)", MaxBodySize)
	}
	return Record{
		timestamp: ts.UnixNano(),
		source:    source,
		seq:       seq,
		body:      body,
		fields:    cloneFields(fields),
	}, nil
}

// Reconstruct creates a Record without validation (WAL and segment hydration).
func Reconstruct(tsNanos int64, source Source, seq uint64, body string, fields map[string]FieldValue) Record {
	return Record{timestamp: tsNanos, source: source, seq: seq, body: body, fields: fields}
}

// Timestamp returns the record timestamp.
func (r Record) Timestamp() time.Time { return time.Unix(0, r.timestamp) }

// TimestampNanos returns the timestamp as unix nanoseconds.
func (r Record) TimestampNanos() int64 { return r.timestamp }

// Source returns the record origin.
func (r Record) Source() Source { return r.source }

// Seq returns the per-source sequence number.
func (r Record) Seq() uint64 { return r.seq }

// Body returns the record text body.
func (r Record) Body() string { return r.body }

// Fields returns the structured fields. Callers must not mutate the map.
func (r Record) Fields() map[string]FieldValue { return r.fields }

func cloneFields(m map[string]FieldValue) map[string]FieldValue {
	if m == nil {
		return nil
	}
	c := make(map[string]FieldValue, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
