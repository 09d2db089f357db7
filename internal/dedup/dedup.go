// Package dedup implements the engine's seen store on top of colly's
// visited-request storage.
package dedup

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2/storage"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

// Store reports whether an equivalent request was already queued.
type Store struct {
	mu      sync.Mutex
	visited storage.Storage
}

var _ crawler.SeenStore = (*Store)(nil)

// New returns a Store backed by colly's in-memory storage.
func New() (*Store, error) {
	return NewWithStorage(&storage.InMemoryStorage{})
}

// NewWithStorage initializes st and wraps it. Any colly storage backend works.
func NewWithStorage(st storage.Storage) (*Store, error) {
	if err := st.Init(); err != nil {
		return nil, fmt.Errorf("init visited storage: %w", err)
	}
	return &Store{visited: st}, nil
}

// Exists checks and marks the canonical key of spec in one step.
func (s *Store) Exists(spec crawler.Spec) (bool, error) {
	key, err := Key(spec)
	if err != nil {
		return false, err
	}
	id := fingerprint(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	seen, err := s.visited.IsVisited(id)
	if err != nil {
		return false, fmt.Errorf("lookup visited: %w", err)
	}
	if seen {
		return true, nil
	}
	if err := s.visited.Visited(id); err != nil {
		return false, fmt.Errorf("mark visited: %w", err)
	}
	return false, nil
}

// Key is the canonical identity of a request: method, normalized address
// and payload.
func Key(spec crawler.Spec) (string, error) {
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = "GET"
	}
	addr := spec.URI
	if addr == "" {
		addr = spec.URL
	}
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	if addr == "" {
		b.WriteString("html:")
		b.WriteString(spec.HTML)
		return b.String(), nil
	}
	normalized, err := NormalizeURL(addr)
	if err != nil {
		return "", err
	}
	b.WriteString(normalized)
	switch {
	case len(spec.JSONBody) > 0:
		b.WriteString(" json:")
		b.Write(spec.JSONBody)
	case len(spec.Form) > 0:
		b.WriteString(" form:")
		b.WriteString(spec.Form.Encode())
	case len(spec.Body) > 0:
		b.WriteString(" body:")
		b.Write(spec.Body)
	}
	return b.String(), nil
}

// NormalizeURL lowercases the scheme and host, drops default ports and the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}

func fingerprint(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
