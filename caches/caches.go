// Package caches holds the cache key scheme shared by every namespace
// backend, and the errors those backends return.
package caches

import (
	"bytes"
	"io"
	"net/http"
)

// Key is the canonical cache key for a request: method plus full URL.
func Key(r *http.Request) string {
	return r.Method + "#" + r.URL.String()
}

// ContentKey folds the request body into the cache key. The query API
// multiplexes many logical queries over a single URL, so the URL alone is
// not a valid key; the body carries the query name and arguments.
//
// The body is read in full and restored onto the request so the network
// fetch still sees it. If the body cannot be read, or is empty, the key
// degrades to the canonical URL key.
func ContentKey(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return Key(r)
	}

	b, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		r.Body = http.NoBody
		return Key(r)
	}

	r.Body = io.NopCloser(bytes.NewReader(b))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	r.ContentLength = int64(len(b))

	if len(b) == 0 {
		return Key(r)
	}
	return Key(r) + "#" + string(b)
}
