package chi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/outpost-labs/logsieve/internal/domain"
	"github.com/outpost-labs/logsieve/internal/domain/query"
	"github.com/outpost-labs/logsieve/internal/domain/result"
	healthuc "github.com/outpost-labs/logsieve/internal/usecase/health"
	ingestuc "github.com/outpost-labs/logsieve/internal/usecase/ingest"
	searchuc "github.com/outpost-labs/logsieve/internal/usecase/search"
)

const (
	// maxIngestLineBytes bounds one NDJSON line: the record body limit plus
	// headroom for the envelope.
	maxIngestLineBytes = domain.MaxBodySize + 64*1024
	// maxQueryTimeout caps the per-query deadline a client may request.
	maxQueryTimeout = 30 * time.Second
)

// Error response codes.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeBadCursor        = "bad_cursor"
	codeOverloaded       = "overloaded"
	codeUnauthorized     = "unauthorized"
	codeInternalError    = "internal_error"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RejectItem reports one record that was not admitted. Line is the
// zero-based NDJSON line index in the request body.
type RejectItem struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// IngestResponse summarizes one ingest request.
type IngestResponse struct {
	Accepted int          `json:"accepted"`
	Rejects  []RejectItem `json:"rejects,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// QueryRequest is the search request body.
type QueryRequest struct {
	Terms     []string        `json:"terms,omitempty"`
	Filters   []FilterRequest `json:"filters,omitempty"`
	Namespace string          `json:"namespace,omitempty"`
	Pod       string          `json:"pod,omitempty"`
	Container string          `json:"container,omitempty"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Limit     int             `json:"limit,omitempty"`
	Token     string          `json:"token,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
}

// FilterRequest is one structured-field filter.
type FilterRequest struct {
	Key     string `json:"key"`
	Pattern string `json:"pattern"`
}

// MatchItem is one query hit.
type MatchItem struct {
	Timestamp time.Time      `json:"timestamp"`
	Namespace string         `json:"namespace"`
	Pod       string         `json:"pod"`
	Container string         `json:"container,omitempty"`
	Seq       uint64         `json:"seq"`
	Body      string         `json:"body"`
	Fields    map[string]any `json:"fields,omitempty"`
	SegmentID string         `json:"segment_id"`
}

// QueryResponse is the search response body.
type QueryResponse struct {
	Matches   []MatchItem `json:"matches"`
	NextToken string      `json:"next_token,omitempty"`
	Truncated bool        `json:"truncated"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API: record ingestion, search, and health.
type Server struct {
	ingest        *ingestuc.Service
	search        *searchuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ingest *ingestuc.Service,
	search *searchuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ingest: ingest,
		search: search,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrBadCursor, http.StatusBadRequest, codeBadCursor),
		sentinelHandler(domain.ErrOverloaded, http.StatusServiceUnavailable, codeOverloaded),
		sentinelHandler(domain.ErrInvalidRecord, http.StatusBadRequest, codeValidationFailed),
	}
	return s
}

// Routes mounts the API on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/records", s.IngestRecords)
	r.Post("/v1/query", s.SearchRecords)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// IngestRecords handles POST /v1/records. The body is NDJSON, one record per
// line. Lines that fail to parse are rejected individually; buffer overload
// aborts the batch with 503 so the source can back off and resend the rest.
func (s *Server) IngestRecords(w http.ResponseWriter, r *http.Request) {
	var (
		parser  fastjson.Parser
		records []domain.Record
		lines   []int // batch index -> request line
		rejects []RejectItem
	)

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 64*1024), maxIngestLineBytes)
	line := 0
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			line++
			continue
		}
		rec, err := parseRecordLine(&parser, raw)
		if err != nil {
			rejects = append(rejects, RejectItem{Line: line, Error: err.Error()})
			line++
			continue
		}
		records = append(records, rec)
		lines = append(lines, line)
		line++
	}
	if err := scanner.Err(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "read request body: "+err.Error())
		return
	}
	if len(records) == 0 && len(rejects) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "request body contains no records")
		return
	}

	res, err := s.ingest.Ingest(r.Context(), records)
	for _, rej := range res.Rejects {
		rejects = append(rejects, RejectItem{Line: lines[rej.Index], Error: rej.Err.Error()})
	}
	sort.Slice(rejects, func(i, j int) bool { return rejects[i].Line < rejects[j].Line })

	if err != nil {
		if errors.Is(err, domain.ErrOverloaded) {
			writeJSON(w, http.StatusServiceUnavailable, IngestResponse{
				Accepted: res.Accepted,
				Rejects:  rejects,
				Error:    codeOverloaded,
			})
			return
		}
		s.handleDomainError(w, err)
		return
	}

	status := http.StatusOK
	if res.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, IngestResponse{Accepted: res.Accepted, Rejects: rejects})
}

// SearchRecords handles POST /v1/query.
func (s *Server) SearchRecords(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	q, err := queryFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		timeout := time.Duration(req.TimeoutMs) * time.Millisecond
		if timeout > maxQueryTimeout {
			timeout = maxQueryTimeout
		}
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	page, err := s.search.Search(ctx, q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pageToResponse(page))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func queryFromRequest(req QueryRequest) (query.Query, error) {
	filters := make([]query.Filter, 0, len(req.Filters))
	for _, f := range req.Filters {
		flt, err := query.NewFilter(f.Key, f.Pattern)
		if err != nil {
			return query.Query{}, err
		}
		filters = append(filters, flt)
	}

	source := query.NewSourceSelector(req.Namespace, req.Pod, req.Container)
	return query.New(req.Terms, filters, source, req.From, req.To, req.Limit, req.Token)
}

func pageToResponse(page result.Page) QueryResponse {
	matches := make([]MatchItem, len(page.Matches))
	for i, m := range page.Matches {
		matches[i] = matchToItem(m)
	}
	return QueryResponse{
		Matches:   matches,
		NextToken: page.NextToken,
		Truncated: page.Truncated,
	}
}

func matchToItem(m result.Match) MatchItem {
	rec := m.Record
	src := rec.Source()

	var fields map[string]any
	if len(rec.Fields()) > 0 {
		fields = make(map[string]any, len(rec.Fields()))
		for k, v := range rec.Fields() {
			fields[k] = fieldToJSON(v)
		}
	}

	return MatchItem{
		Timestamp: rec.Timestamp().UTC(),
		Namespace: src.Namespace,
		Pod:       src.Pod,
		Container: src.Container,
		Seq:       rec.Seq(),
		Body:      rec.Body(),
		Fields:    fields,
		SegmentID: m.SegmentID,
	}
}

func fieldToJSON(v domain.FieldValue) any {
	switch v.Kind() {
	case domain.FieldInt:
		return v.Int()
	case domain.FieldFloat:
		return v.Float()
	case domain.FieldBool:
		return v.Bool()
	default:
		return v.Str()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrBadCursor,
		domain.ErrOverloaded,
		domain.ErrInvalidRecord,
		domain.ErrStaleRecord,
		domain.ErrDuplicateRecord,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
