package chi

import (
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// parseRecordLine parses one NDJSON ingest line into a Record. The timestamp
// is either an RFC3339 string or integer unix nanoseconds.
func parseRecordLine(p *fastjson.Parser, line []byte) (domain.Record, error) {
	v, err := p.ParseBytes(line)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}

	ts, err := parseTimestamp(v.Get("timestamp"))
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}

	source, err := domain.NewSource(
		string(v.GetStringBytes("namespace")),
		string(v.GetStringBytes("pod")),
		string(v.GetStringBytes("container")),
	)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}

	seq := v.GetUint64("seq")
	body := string(v.GetStringBytes("body"))

	fields, err := parseFields(v.Get("fields"))
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}

	rec, err := domain.NewRecord(ts, source, seq, body, fields)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}
	return rec, nil
}

func parseTimestamp(v *fastjson.Value) (time.Time, error) {
	if v == nil {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	switch v.Type() {
	case fastjson.TypeString:
		ts, err := time.Parse(time.RFC3339Nano, string(v.GetStringBytes()))
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp: %v", err)
		}
		return ts, nil
	case fastjson.TypeNumber:
		nanos, err := v.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp: %v", err)
		}
		return time.Unix(0, nanos), nil
	default:
		return time.Time{}, fmt.Errorf("timestamp must be an RFC3339 string or unix nanoseconds")
	}
}

// parseFields maps a JSON object of scalars onto the tagged FieldValue union.
func parseFields(v *fastjson.Value) (map[string]domain.FieldValue, error) {
	if v == nil {
		return nil, nil
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("fields must be an object: %v", err)
	}

	fields := make(map[string]domain.FieldValue, obj.Len())
	var convErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if convErr != nil {
			return
		}
		name := string(key)
		switch val.Type() {
		case fastjson.TypeString:
			fields[name] = domain.StringValue(string(val.GetStringBytes()))
		case fastjson.TypeNumber:
			if i, err := val.Int64(); err == nil {
				fields[name] = domain.IntValue(i)
				return
			}
			f, err := val.Float64()
			if err != nil {
				convErr = fmt.Errorf("field %q: %v", name, err)
				return
			}
			fields[name] = domain.FloatValue(f)
		case fastjson.TypeTrue:
			fields[name] = domain.BoolValue(true)
		case fastjson.TypeFalse:
			fields[name] = domain.BoolValue(false)
		default:
			convErr = fmt.Errorf("field %q: only scalar values are supported", name)
		}
	})
	if convErr != nil {
		return nil, convErr
	}
	return fields, nil
}
