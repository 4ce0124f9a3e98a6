package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/outpost-labs/logsieve/internal/domain"
)

// magicHeader identifies a sealed segment file.
var magicHeader = []byte("LSSEG001")

// segField is the serialized form of a domain.FieldValue.
type segField struct {
	Kind uint8   `json:"k"`
	Str  string  `json:"s,omitempty"`
	Int  int64   `json:"i,omitempty"`
	Flt  float64 `json:"f,omitempty"`
	Bit  bool    `json:"b,omitempty"`
}

// segRecord is the serialized form of one row.
type segRecord struct {
	Timestamp int64               `json:"ts"`
	Namespace string              `json:"ns"`
	Pod       string              `json:"pod"`
	Container string              `json:"ctr,omitempty"`
	Seq       uint64              `json:"seq"`
	Body      string              `json:"body"`
	Fields    map[string]segField `json:"fields,omitempty"`
}

// segManifest carries identity and the index structures.
type segManifest struct {
	ID       string                            `json:"id"`
	MinTs    int64                             `json:"min_ts"`
	MaxTs    int64                             `json:"max_ts"`
	Size     int64                             `json:"size"`
	Postings map[string]PostingList            `json:"postings"`
	Fields   map[string]map[string]PostingList `json:"fields"`
}

// Codec reads and writes sealed segment files. File layout:
// magic, zstd(manifest JSON), zstd(records JSON), footer (row count, min/max ts).
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec with shared zstd state.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// SegmentFileName returns the on-disk name for a segment.
func SegmentFileName(seg *Segment) string {
	return fmt.Sprintf("seg_%d_%d_%s.seg", seg.minTs, seg.maxTs, seg.id)
}

// WriteSegment persists a sealed segment to dir. The file is written to a
// temp name and renamed so readers never observe a partial segment.
func (c *Codec) WriteSegment(dir string, seg *Segment) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create segment dir: %w", err)
	}

	path := filepath.Join(dir, SegmentFileName(seg))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create segment file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(magicHeader); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}

	manifest := segManifest{
		ID:       seg.id,
		MinTs:    seg.minTs,
		MaxTs:    seg.maxTs,
		Size:     seg.sizeBytes,
		Postings: seg.postings,
		Fields:   seg.fields.cols,
	}
	if err := c.writeSection(f, manifest); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	rows := make([]segRecord, len(seg.records))
	for i, rec := range seg.records {
		src := rec.Source()
		rows[i] = segRecord{
			Timestamp: rec.TimestampNanos(),
			Namespace: src.Namespace,
			Pod:       src.Pod,
			Container: src.Container,
			Seq:       rec.Seq(),
			Body:      rec.Body(),
			Fields:    fieldsToSeg(rec.Fields()),
		}
	}
	if err := c.writeSection(f, rows); err != nil {
		return "", fmt.Errorf("write records: %w", err)
	}

	if err := writeFooter(f, uint32(len(seg.records)), seg.minTs, seg.maxTs); err != nil {
		return "", fmt.Errorf("write footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync segment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close segment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish segment: %w", err)
	}
	return path, nil
}

// ReadSegment loads a sealed segment from path.
func (c *Codec) ReadSegment(path string) (*Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, len(magicHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header, magicHeader) {
		return nil, fmt.Errorf("%w: bad magic in %s", domain.ErrSegmentCorrupt, path)
	}

	var manifest segManifest
	if err := c.readSection(f, &manifest); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var rows []segRecord
	if err := c.readSection(f, &rows); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	rowCount, _, _, err := readFooter(f)
	if err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}
	if int(rowCount) != len(rows) {
		return nil, fmt.Errorf("%w: row count mismatch in %s (footer %d, rows %d)",
			domain.ErrSegmentCorrupt, path, rowCount, len(rows))
	}

	records := make([]domain.Record, len(rows))
	for i, r := range rows {
		records[i] = domain.Reconstruct(
			r.Timestamp,
			domain.Source{Namespace: r.Namespace, Pod: r.Pod, Container: r.Container},
			r.Seq, r.Body, fieldsFromSeg(r.Fields),
		)
	}

	return newSegment(
		manifest.ID, manifest.MinTs, manifest.MaxTs,
		records, manifest.Postings, reconstructFieldStore(manifest.Fields),
		manifest.Size,
	), nil
}

// LoadDir loads every sealed segment under dir. Unreadable files are
// reported but do not fail the load.
func (c *Codec) LoadDir(dir string) ([]*Segment, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("read segment dir: %w", err)}
	}

	var (
		segs []*Segment
		errs []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".seg") {
			continue
		}
		seg, err := c.ReadSegment(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		segs = append(segs, seg)
	}
	return segs, errs
}

// DeleteSegmentFile removes a segment's on-disk artifact.
func DeleteSegmentFile(dir string, seg *Segment) error {
	path := filepath.Join(dir, SegmentFileName(seg))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete segment %s: %w", path, err)
	}
	return nil
}

func (c *Codec) writeSection(f *os.File, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	compressed := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	if err := binary.Write(f, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	_, err = f.Write(compressed)
	return err
}

func (c *Codec) readSection(f *os.File, v any) error {
	var size uint32
	if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
		return err
	}
	compressed := make([]byte, size)
	if _, err := io.ReadFull(f, compressed); err != nil {
		return err
	}
	raw, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSegmentCorrupt, err)
	}
	return json.Unmarshal(raw, v)
}

func writeFooter(f *os.File, rowCount uint32, minTs, maxTs int64) error {
	if err := binary.Write(f, binary.LittleEndian, rowCount); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, minTs); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, maxTs)
}

func readFooter(f *os.File) (uint32, int64, int64, error) {
	var (
		rowCount uint32
		minTs    int64
		maxTs    int64
	)
	if err := binary.Read(f, binary.LittleEndian, &rowCount); err != nil {
		return 0, 0, 0, err
	}
	if err := binary.Read(f, binary.LittleEndian, &minTs); err != nil {
		return 0, 0, 0, err
	}
	if err := binary.Read(f, binary.LittleEndian, &maxTs); err != nil {
		return 0, 0, 0, err
	}
	return rowCount, minTs, maxTs, nil
}

func fieldsToSeg(m map[string]domain.FieldValue) map[string]segField {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]segField, len(m))
	for k, v := range m {
		out[k] = segField{Kind: uint8(v.Kind()), Str: v.Str(), Int: v.Int(), Flt: v.Float(), Bit: v.Bool()}
	}
	return out
}

func fieldsFromSeg(m map[string]segField) map[string]domain.FieldValue {
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
