// Package cache holds the named response collections used by the network
// cache intermediary. A collection is a flat key -> response map; collection
// names carry the build version so a new deployment can drop everything that
// belonged to the previous one.
package cache

import (
	"context"
	"net/http"
	"time"
)

// Entry is one cached HTTP response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store persists cache collections. Match returns nil, nil on a miss.
type Store interface {
	Put(ctx context.Context, collection, key string, e *Entry) error
	Match(ctx context.Context, collection, key string) (*Entry, error)
	Collections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
}

// hop-by-hop headers plus Set-Cookie never make it into a stored entry.
var strippedHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Set-Cookie",
}

// NewEntry builds an entry suitable for storage from a live response.
func NewEntry(status int, header http.Header, body []byte) *Entry {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, k := range strippedHeaders {
		h.Del(k)
	}
	return &Entry{Status: status, Header: h, Body: body, StoredAt: time.Now().UTC()}
}

// OK reports whether the entry holds a 2xx response.
func (e *Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// WriteTo replays the entry on w.
func (e *Entry) WriteTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range e.Header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}
