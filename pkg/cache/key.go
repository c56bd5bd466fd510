package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached upstream response.
type Key struct {
	// Endpoint is the request path, e.g. "/shows/42/cast".
	Endpoint string

	// Query holds the query parameters, e.g. {"page": "3"}.
	Query url.Values
}

// KeyFromURL derives a key from a request URL. Scheme and host are not part
// of the key.
func KeyFromURL(rawURL string) (Key, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{}, fmt.Errorf("parse cache key url: %w", err)
	}
	return Key{Endpoint: u.Path, Query: u.Query()}, nil
}

// String generates a deterministic key.
// Format: tvmaze:endpoint:query1=val1:query2=val2
//
// Example:
//
//	tvmaze:shows:page=3
func (k Key) String() string {
	parts := []string{"tvmaze"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Query.Get(name)))
		}
	}

	return strings.Join(parts, ":")
}
