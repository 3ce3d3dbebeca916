// Package fs provides a newline-delimited JSON file sink, the default
// output when no database is configured.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mapsight/places-crawler/internal/scrape"
)

// Sink appends each record as one JSON line. Writes are serialized so the
// file stays valid under concurrent appends from the pool.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// New opens (or creates) the output file in append mode.
func New(path string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &Sink{file: file, enc: json.NewEncoder(file)}, nil
}

// Append writes one record line.
func (s *Sink) Append(ctx context.Context, record scrape.PlaceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(record); err != nil {
		return fmt.Errorf("append record %s: %w", record.ID, err)
	}
	return nil
}

// Close flushes and closes the output file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync output file: %w", err)
	}
	return s.file.Close()
}
