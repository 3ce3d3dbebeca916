// Package memory provides an in-memory sink for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/mapsight/places-crawler/internal/scrape"
)

// Sink accumulates appended records in memory.
type Sink struct {
	mu      sync.Mutex
	records []scrape.PlaceRecord
}

// NewSink constructs an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{}
}

// Append stores the record.
func (s *Sink) Append(ctx context.Context, record scrape.PlaceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything appended so far.
func (s *Sink) Records() []scrape.PlaceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.PlaceRecord(nil), s.records...)
}
