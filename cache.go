package goswcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

var (
	// ErrNetworkUnavailable is returned when a request misses the cache and the
	// wrapped transport cannot reach the network. Callers can test for it with
	// errors.Is and choose their own fallback behavior.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// Entry is one cached response. Created on install or on the first successful
// fetch for a URL, and replaced wholesale when fresher content is stored.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Response rebuilds an http.Response from the entry for the given request.
func (e *Entry) Response(r *http.Request) *http.Response {
	return &http.Response{
		Status:        http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        cloneHeader(e.Header),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       r,
	}
}

// ContentType returns the entry's Content-Type header, if any.
func (e *Entry) ContentType() string {
	return e.Header.Get("Content-Type")
}

// Store is one named cache generation: a key-value store of request keys to
// cached responses. All operations must be safe for concurrent use.
type Store interface {
	// Match looks up an entry by its exact key. Returns caches.ErrNoCacheItem
	// when the key is absent.
	Match(ctx context.Context, key string) (*Entry, error)

	// Put stores an entry under key, replacing any previous entry.
	Put(ctx context.Context, key string, e *Entry) error

	// Delete removes the entry for key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Keys returns the keys of every entry currently in the store.
	Keys(ctx context.Context) ([]string, error)
}

// Storage manages named cache generations. At most one generation is current
// at any time; the rest are stale and eligible for removal on activation.
type Storage interface {
	// Open returns the store with the given name, creating it if needed.
	Open(ctx context.Context, name string) (Store, error)

	// List returns the names of all existing stores.
	List(ctx context.Context) ([]string, error)

	// Remove deletes the named store and all of its entries.
	Remove(ctx context.Context, name string) error
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
