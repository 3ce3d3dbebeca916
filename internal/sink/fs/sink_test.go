package fs

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapsight/places-crawler/internal/scrape"
)

func TestAppendWritesOneLinePerRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "places.jsonl")
	sink, err := New(path)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, sink.Append(context.Background(), scrape.PlaceRecord{
		ID: "a", Title: "First", URL: "https://maps.example.com/place/a", ScrapedAt: now,
		Reviews: []scrape.Review{}, Photos: []scrape.PhotoRef{},
	}))
	require.NoError(t, sink.Append(context.Background(), scrape.PlaceRecord{
		ID: "b", Title: "Second", URL: "https://maps.example.com/place/b", ScrapedAt: now,
		Reviews: []scrape.Review{}, Photos: []scrape.PhotoRef{},
	}))
	require.NoError(t, sink.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record scrape.PlaceRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		ids = append(ids, record.ID)
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestConcurrentAppendsStayWellFormed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "places.jsonl")
	sink, err := New(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = sink.Append(context.Background(), scrape.PlaceRecord{
					ID:      "rec",
					Reviews: []scrape.Review{},
					Photos:  []scrape.PhotoRef{},
				})
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record scrape.PlaceRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		lines++
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, 400, lines)
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}
