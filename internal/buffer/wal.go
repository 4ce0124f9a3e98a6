package buffer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// Entry kinds in the write-ahead log.
const (
	entryRecord = "record"
	entryCommit = "commit"
)

// walField is the serialized form of a domain.FieldValue.
type walField struct {
	Kind uint8   `json:"k"`
	Str  string  `json:"s,omitempty"`
	Int  int64   `json:"i,omitempty"`
	Flt  float64 `json:"f,omitempty"`
	Bit  bool    `json:"b,omitempty"`
}

// walEntry is one length-prefixed row in the WAL file.
type walEntry struct {
	Kind      string              `json:"kind"`
	Timestamp int64               `json:"ts,omitempty"`
	Namespace string              `json:"ns,omitempty"`
	Pod       string              `json:"pod,omitempty"`
	Container string              `json:"ctr,omitempty"`
	Seq       uint64              `json:"seq"`
	Body      string              `json:"body,omitempty"`
	Fields    map[string]walField `json:"fields,omitempty"`
}

// WAL is the durable append log backing one source's queue. Records are
// appended before they are admitted; a commit entry marks everything up to
// its sequence number as handed off to the indexer.
type WAL struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenWAL opens or creates a WAL file at the specified path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &WAL{file: f, path: path}, nil
}

// AppendRecord appends a record entry.
func (w *WAL) AppendRecord(rec domain.Record) error {
	src := rec.Source()
	return w.append(walEntry{
		Kind:      entryRecord,
		Timestamp: rec.TimestampNanos(),
		Namespace: src.Namespace,
		Pod:       src.Pod,
		Container: src.Container,
		Seq:       rec.Seq(),
		Body:      rec.Body(),
		Fields:    fieldsToWAL(rec.Fields()),
	})
}

// AppendCommit appends a commit entry acknowledging everything up to seq.
func (w *WAL) AppendCommit(seq uint64) error {
	return w.append(walEntry{Kind: entryCommit, Seq: seq})
}

func (w *WAL) append(e walEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal wal entry: %w", err)
	}

	// Format: [Len uint32][JSON Bytes]
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))

	if _, err := w.file.Write(lenBuf); err != nil {
		return fmt.Errorf("write wal length: %w", err)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("write wal entry: %w", err)
	}
	return nil
}

// Sync flushes the WAL file buffers to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Reset truncates the WAL file. Safe only once the queue has fully drained.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind wal: %w", err)
	}
	return nil
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Replay reads the WAL and returns records not yet covered by a commit entry,
// in append order. A torn tail entry ends the replay without failing it.
func (w *WAL) Replay() ([]domain.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewind wal: %w", err)
	}
	defer func() {
		_, _ = w.file.Seek(0, io.SeekEnd)
	}()

	var (
		records   []domain.Record
		committed uint64
	)
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(w.file, lenBuf); err != nil {
			if err == io.EOF {
				break
			}
			// Torn write at the tail: keep what we have.
			break
		}

		length := binary.LittleEndian.Uint32(lenBuf)
		data := make([]byte, length)
		if _, err := io.ReadFull(w.file, data); err != nil {
			break
		}

		var e walEntry
		if err := json.Unmarshal(data, &e); err != nil {
			break
		}

		switch e.Kind {
		case entryRecord:
			records = append(records, domain.Reconstruct(
				e.Timestamp,
				domain.Source{Namespace: e.Namespace, Pod: e.Pod, Container: e.Container},
				e.Seq, e.Body, fieldsFromWAL(e.Fields),
			))
		case entryCommit:
			if e.Seq > committed {
				committed = e.Seq
			}
		}
	}

	if committed == 0 {
		return records, nil
	}
	pending := records[:0]
	for _, r := range records {
		if r.Seq() > committed {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func fieldsToWAL(m map[string]domain.FieldValue) map[string]walField {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]walField, len(m))
	for k, v := range m {
		out[k] = walField{Kind: uint8(v.Kind()), Str: v.Str(), Int: v.Int(), Flt: v.Float(), Bit: v.Bool()}
	}
	return out
}

func fieldsFromWAL(m map[string]walField) map[string]domain.FieldValue {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]domain.FieldValue, len(m))
	for k, v := range m {
		switch domain.FieldKind(v.Kind) {
		case domain.FieldInt:
			out[k] = domain.IntValue(v.Int)
		case domain.FieldFloat:
			out[k] = domain.FloatValue(v.Flt)
		case domain.FieldBool:
			out[k] = domain.BoolValue(v.Bit)
		default:
			out[k] = domain.StringValue(v.Str)
		}
	}
	return out
}
