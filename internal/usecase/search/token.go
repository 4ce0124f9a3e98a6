package search

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/outpost-labs/logsieve/internal/domain"
	"github.com/outpost-labs/logsieve/internal/domain/query"
)

// pageToken is the decoded continuation token. The fingerprint binds a token
// to the query it was issued for.
type pageToken struct {
	Offset      int    `json:"o"`
	Fingerprint uint64 `json:"f"`
}

// encodeToken serializes a token as opaque URL-safe base64.
func encodeToken(t pageToken) string {
	raw, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeToken parses a continuation token and validates it against q.
func decodeToken(s string, q query.Query) (pageToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return pageToken{}, fmt.Errorf("%w: %v", domain.ErrBadCursor, err)
	}
	var t pageToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return pageToken{}, fmt.Errorf("%w: %v", domain.ErrBadCursor, err)
	}
	if t.Offset < 0 {
		return pageToken{}, fmt.Errorf("%w: negative offset", domain.ErrBadCursor)
	}
	if t.Fingerprint != fingerprint(q) {
		return pageToken{}, fmt.Errorf("%w: token issued for a different query", domain.ErrBadCursor)
	}
	return t, nil
}

// fingerprint hashes the query shape (everything except the token itself) so
// a token cannot be replayed against a different query.
func fingerprint(q query.Query) uint64 {
	h := fnv.New64a()
	w := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.Write([]byte(p))
			_, _ = h.Write([]byte{0})
		}
	}
	w(strings.Join(q.Terms(), "\x00"))
	for _, f := range q.Filters() {
		w(f.Key(), f.Pattern())
	}
	src := q.Source()
	w(src.Namespace(), src.Pod(), src.Container())
	w(
		strconv.FormatInt(q.From().UnixNano(), 10),
		strconv.FormatInt(q.To().UnixNano(), 10),
		strconv.Itoa(q.Limit()),
	)
	return h.Sum64()
}
