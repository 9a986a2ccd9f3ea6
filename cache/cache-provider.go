package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.trai.ch/zerr"
)

var (
	// ErrClosed is returned when operating on a store that has been closed.
	ErrClosed = zerr.New("cache store closed")
	// ErrEmptyName is returned when opening a generation without a name.
	ErrEmptyName = zerr.New("generation name empty")
)

// CacheStore is a durable store of named cache generations.
// Each generation holds response snapshots keyed by normalized request.
// Generations are created on first Open and only removed by Delete.
//
// Implementations must be thread-safe!
type CacheStore interface {
	// Open returns a handle to the named generation, creating it if it does not exist.
	Open(ctx context.Context, name string) (Handle, error)
	// Has checks if the named generation exists.
	Has(ctx context.Context, name string) (bool, error)
	// Keys returns the names of all existing generations, in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named generation and all of its entries.
	// It returns false if the generation did not exist.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks the key up in every generation, in creation order,
	// and returns the first snapshot found. It returns nil if no generation has the key.
	Match(ctx context.Context, key string) (*Snapshot, error)
	// Close releases the resources held by the store.
	Close() error
}

// Handle gives access to the entries of a single generation.
type Handle interface {
	// Name returns the generation name.
	Name() string
	// Get returns the snapshot stored under key, or nil if there is none.
	Get(ctx context.Context, key string) (*Snapshot, error)
	// Put stores the snapshot under key, replacing any previous value.
	Put(ctx context.Context, key string, snapshot Snapshot) error
	// PutAll stores all given snapshots, or none of them if any write fails.
	PutAll(ctx context.Context, snapshots map[string]Snapshot) error
	// Keys returns all keys stored in the generation.
	Keys(ctx context.Context) ([]string, error)
}

// Snapshot is a stored copy of a response.
// The body is fully buffered, so framing headers are not kept.
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Time of the last write. Only used for observability, entries never expire.
	StoredAt time.Time
}

// NewSnapshot reads the response into a snapshot.
// The response body is consumed and closed.
func NewSnapshot(res *http.Response) (Snapshot, error) {
	s := Snapshot{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
	}
	if s.Header == nil {
		s.Header = http.Header{}
	}
	s.Header.Del("Content-Length")
	s.Header.Del("Transfer-Encoding")
	if res.Body != nil {
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return s, err
		}
		s.Body = body
	}
	return s, nil
}

// Response creates a new http.Response from the snapshot.
// Each call returns an independent response with its own body reader.
func (s Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        strconv.Itoa(s.StatusCode) + " " + http.StatusText(s.StatusCode),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Header = s.Header.Clone()
	if s.Body != nil {
		c.Body = append([]byte(nil), s.Body...)
	}
	return c
}
