package logsieve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to a logsieve server.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// New creates a Client for the given base URL ("http://host:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("logsieve: base URL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Ingest submits a batch of records. On ErrOverloaded the returned result
// still reports how many records were accepted before the server pushed back;
// resend the remainder after backing off.
func (c *Client) Ingest(ctx context.Context, records []Record) (IngestResult, error) {
	if len(records) == 0 {
		return IngestResult{}, errors.New("logsieve: no records to ingest")
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return IngestResult{}, fmt.Errorf("logsieve: encode record: %w", err)
		}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/records", &body)
	if err != nil {
		return IngestResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return IngestResult{}, fmt.Errorf("logsieve: ingest request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Overload responses carry a partial result body.
	if resp.StatusCode == http.StatusServiceUnavailable {
		var res IngestResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err == nil && res.Err == "overloaded" {
			return res, fmt.Errorf("%w: %d accepted before pushback", ErrOverloaded, res.Accepted)
		}
		return IngestResult{}, ErrOverloaded
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return IngestResult{}, decodeAPIError(resp)
	}

	var res IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return IngestResult{}, fmt.Errorf("logsieve: decode ingest response: %w", err)
	}
	return res, nil
}

// Query runs a search and returns one result page.
func (c *Client) Query(ctx context.Context, q Query) (QueryResult, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return QueryResult{}, fmt.Errorf("logsieve: encode query: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/query", bytes.NewReader(payload))
	if err != nil {
		return QueryResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("logsieve: query request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, decodeAPIError(resp)
	}

	var res QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return QueryResult{}, fmt.Errorf("logsieve: decode query response: %w", err)
	}
	return res, nil
}

// QueryAll follows continuation tokens until the result set is exhausted.
func (c *Client) QueryAll(ctx context.Context, q Query) ([]Match, error) {
	var all []Match
	for {
		page, err := c.Query(ctx, q)
		if err != nil {
			return all, err
		}
		all = append(all, page.Matches...)
		if page.NextToken == "" {
			return all, nil
		}
		q.Token = page.NextToken
	}
}

// Health fetches the server health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("logsieve: health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Degraded health is reported with 503 but still carries a body.
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("logsieve: decode health response: %w", err)
	}
	return h, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("logsieve: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	return apiErr
}
