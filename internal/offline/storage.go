package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Storage holds named cache generations (namespaces).
type Storage interface {
	// Open returns the namespace, creating it if absent.
	Open(ctx context.Context, name string) (Cache, error)
	// Keys lists namespace names in creation order.
	Keys(ctx context.Context) ([]string, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete drops the namespace and every entry in it, reporting whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache is a single namespace of request-keyed response snapshots.
type Cache interface {
	Match(ctx context.Context, key string) (Snapshot, bool, error)
	Put(ctx context.Context, key string, snap Snapshot) error
	Keys(ctx context.Context) ([]string, error)
}

// Fetcher performs network requests; *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Snapshot is a fully buffered HTTP response. Reading it any number of times is
// safe, which is what lets the same network response feed both the cache and the
// caller.
type Snapshot struct {
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// NewSnapshot consumes and closes resp.Body.
func NewSnapshot(req *http.Request, resp *http.Response, now time.Time) (Snapshot, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read response body: %w", err)
	}
	snap := Snapshot{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now.UTC(),
	}
	if req != nil {
		snap.Method = req.Method
		snap.URL = req.URL.String()
	}
	if snap.Header == nil {
		snap.Header = http.Header{}
	}
	return snap, nil
}

// OK reports whether the snapshot holds a 2xx response.
func (s Snapshot) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Header = s.Header.Clone()
	if s.Body != nil {
		out.Body = append([]byte(nil), s.Body...)
	}
	return out
}

// Response materializes a fresh *http.Response with its own body reader.
func (s Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        strconv.Itoa(s.Status) + " " + http.StatusText(s.Status),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}
