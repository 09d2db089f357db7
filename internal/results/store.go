// Package results keeps the outcome of requests submitted over the API.
package results

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
	"github.com/JakeFAU/fetchqueue/internal/progress"
)

// Status is the lifecycle state of a submitted request.
type Status string

// Result states.
const (
	StatusQueued    Status = "queued"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ErrNotFound is returned for unknown request IDs.
var ErrNotFound = errors.New("result not found")

// Result summarizes one request.
type Result struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Status       Status     `json:"status"`
	StatusCode   int        `json:"status_code,omitempty"`
	Bytes        int        `json:"bytes"`
	Charset      string     `json:"charset,omitempty"`
	Title        string     `json:"title,omitempty"`
	DownloadPath string     `json:"download_path,omitempty"`
	Error        string     `json:"error,omitempty"`
	Submitted    time.Time  `json:"submitted"`
	Finished     *time.Time `json:"finished,omitempty"`
}

// Store is an in-memory result store. It doubles as a progress sink so
// duplicate-skipped requests, which never reach a callback, still settle.
type Store struct {
	mu      sync.RWMutex
	results map[string]Result
	clock   crawler.Clock
}

var _ progress.Sink = (*Store)(nil)

// New constructs a Store.
func New(clock crawler.Clock) *Store {
	return &Store{
		results: make(map[string]Result),
		clock:   clock,
	}
}

// Create records a queued request.
func (s *Store) Create(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[id]; exists {
		return errors.New("result already exists")
	}
	s.results[id] = Result{
		ID:        id,
		URL:       url,
		Status:    StatusQueued,
		Submitted: s.clock.Now().UTC(),
	}
	return nil
}

// Callback returns the completion handler that settles id.
func (s *Store) Callback(id string) crawler.Callback {
	return func(resp *crawler.Response, err error) {
		s.Complete(id, resp, err)
	}
}

// Complete settles id with the outcome of its request.
func (s *Store) Complete(id string, resp *crawler.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[id]
	if !ok {
		return
	}
	if resp != nil {
		res.StatusCode = resp.StatusCode
		res.Bytes = len(resp.Body)
		res.Charset = resp.Charset
		res.DownloadPath = resp.DownloadPath
		if resp.URL != "" {
			res.URL = resp.URL
		}
		if resp.Document != nil {
			res.Title = strings.TrimSpace(resp.Document.Find("title").First().Text())
		}
	}
	res.Status = StatusSucceeded
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
	}
	s.finish(&res)
	s.results[id] = res
}

// Get fetches the result for id.
func (s *Store) Get(_ context.Context, id string) (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[id]
	if !ok {
		return Result{}, ErrNotFound
	}
	return res, nil
}

// Consume marks skipped requests. Other stages are settled by Callback.
func (s *Store) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage != progress.StageSkipped {
			continue
		}
		id := evt.RequestUUID().String()
		res, ok := s.results[id]
		if !ok || res.Status != StatusQueued {
			continue
		}
		res.Status = StatusSkipped
		s.finish(&res)
		s.results[id] = res
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) finish(res *Result) {
	now := s.clock.Now().UTC()
	res.Finished = &now
}
