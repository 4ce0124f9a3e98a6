package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/domain"
	"github.com/outpost-labs/logsieve/internal/index"
	healthuc "github.com/outpost-labs/logsieve/internal/usecase/health"
	ingestuc "github.com/outpost-labs/logsieve/internal/usecase/ingest"
	searchuc "github.com/outpost-labs/logsieve/internal/usecase/search"
)

// --- Mocks ---

type mockBuffer struct {
	enqueued []domain.Record
	failAt   int // fail the Nth enqueue (1-based), 0 disables
	err      error
}

func (m *mockBuffer) Enqueue(_ context.Context, rec domain.Record) error {
	if m.failAt > 0 && len(m.enqueued)+1 == m.failAt {
		return m.err
	}
	m.enqueued = append(m.enqueued, rec)
	return nil
}

type mockCursors struct {
	accepted map[string]uint64
	pingErr  error
}

func newMockCursors() *mockCursors {
	return &mockCursors{accepted: make(map[string]uint64)}
}

func (m *mockCursors) Accepted(_ context.Context, sourceKey string) (uint64, error) {
	return m.accepted[sourceKey], nil
}

func (m *mockCursors) SetAccepted(_ context.Context, sourceKey string, seq uint64) error {
	if seq > m.accepted[sourceKey] {
		m.accepted[sourceKey] = seq
	}
	return nil
}

func (m *mockCursors) Ping(_ context.Context) error { return m.pingErr }

type fakeSegments struct {
	segs []*index.Segment
}

func (f *fakeSegments) Overlapping(from, to int64) []*index.Segment {
	var out []*index.Segment
	for _, seg := range f.segs {
		if seg.Overlaps(from, to) && seg.Acquire() {
			out = append(out, seg)
		}
	}
	return out
}

type testEnv struct {
	buf     *mockBuffer
	cursors *mockCursors
	router  *chirouter.Mux
}

func newTestEnv(t *testing.T, segs ...*index.Segment) *testEnv {
	t.Helper()
	buf := &mockBuffer{}
	cursors := newMockCursors()
	logger := zap.NewNop()

	ingestSvc := ingestuc.New(buf, cursors, 5*time.Minute, time.Second, logger)
	searchSvc := searchuc.New(&fakeSegments{segs: segs}, logger)
	healthSvc := healthuc.New(cursors, t.TempDir())

	server := NewServer(ingestSvc, searchSvc, healthSvc, logger)
	r := chirouter.NewRouter()
	server.Routes(r)

	return &testEnv{buf: buf, cursors: cursors, router: r}
}

func sealSegment(t *testing.T, recs ...domain.Record) *index.Segment {
	t.Helper()
	m := index.NewMemSegment()
	for _, rec := range recs {
		m.Append(rec)
	}
	seg := m.Seal()
	if seg == nil {
		t.Fatal("Seal returned nil")
	}
	return seg
}

func makeRec(t *testing.T, pod string, seq uint64, ts time.Time, body string) domain.Record {
	t.Helper()
	src, err := domain.NewSource("prod", pod, "app")
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	rec, err := domain.NewRecord(ts, src, seq, body, nil)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return rec
}

func ndjsonLine(t *testing.T, ts time.Time, pod string, seq uint64, body string) string {
	t.Helper()
	line, err := json.Marshal(map[string]any{
		"timestamp": ts.Format(time.RFC3339Nano),
		"namespace": "prod",
		"pod":       pod,
		"container": "app",
		"seq":       seq,
		"body":      body,
		"fields":    map[string]any{"level": "error", "code": 500},
	})
	if err != nil {
		t.Fatalf("marshal line: %v", err)
	}
	return string(line)
}

func TestIngestRecordsNDJSON(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	body := strings.Join([]string{
		ndjsonLine(t, now, "api-1", 1, "first"),
		"{not json",
		ndjsonLine(t, now, "api-1", 2, "second"),
	}, "\n")

	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", resp.Accepted)
	}
	if len(resp.Rejects) != 1 || resp.Rejects[0].Line != 1 {
		t.Errorf("Rejects = %+v", resp.Rejects)
	}
	if len(env.buf.enqueued) != 2 {
		t.Errorf("enqueued %d records", len(env.buf.enqueued))
	}
	if got := env.buf.enqueued[0].Fields()["code"].Int(); got != 500 {
		t.Errorf("numeric field parsed as %d", got)
	}
}

func TestIngestRecordsOverloadReturns503(t *testing.T) {
	env := newTestEnv(t)
	env.buf.failAt = 2
	env.buf.err = domain.ErrOverloaded
	now := time.Now()

	body := strings.Join([]string{
		ndjsonLine(t, now, "api-1", 1, "first"),
		ndjsonLine(t, now, "api-1", 2, "second"),
		ndjsonLine(t, now, "api-1", 3, "third"),
	}, "\n")

	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Accepted != 1 || resp.Error != codeOverloaded {
		t.Errorf("response = %+v", resp)
	}
}

func TestIngestRecordsEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(""))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchRecordsEndpoint(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	seg := sealSegment(t,
		makeRec(t, "api-1", 1, base, "connection refused"),
		makeRec(t, "web-1", 1, base.Add(time.Second), "all good"),
	)
	env := newTestEnv(t, seg)

	reqBody, _ := json.Marshal(QueryRequest{
		Terms: []string{"refused"},
		From:  base.Add(-time.Minute),
		To:    base.Add(time.Minute),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(string(reqBody)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("matches = %+v", resp.Matches)
	}
	m := resp.Matches[0]
	if m.Pod != "api-1" || m.Body != "connection refused" || m.SegmentID != seg.ID() {
		t.Errorf("match = %+v", m)
	}
}

func TestSearchRecordsValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("bad token", func(t *testing.T) {
		base := time.Now()
		reqBody, _ := json.Marshal(QueryRequest{
			From:  base.Add(-time.Hour),
			To:    base,
			Token: "@@garbage@@",
		})
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(string(reqBody)))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if resp.Code != codeBadCursor {
			t.Errorf("code = %q, want %q", resp.Code, codeBadCursor)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}
