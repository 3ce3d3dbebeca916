package photos

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePage struct {
	snapshots []photoSnapshot
}

func (p *fakePage) Navigate(context.Context, string) error     { return nil }
func (p *fakePage) CurrentURL(context.Context) (string, error) { return "", nil }
func (p *fakePage) Text(context.Context, string) (string, error) {
	return "", nil
}
func (p *fakePage) Attr(context.Context, string, string) (string, error) {
	return "", nil
}
func (p *fakePage) Exists(context.Context, string) (bool, error)  { return false, nil }
func (p *fakePage) ClickAll(context.Context, string) (int, error) { return 0, nil }

func (p *fakePage) Eval(_ context.Context, _ string, out any) error {
	data, err := json.Marshal(p.snapshots)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *fakePage) ScrollBy(context.Context, string, int) error { return nil }
func (p *fakePage) ScrollRemaining(context.Context, string) (float64, error) {
	return 0, nil
}
func (p *fakePage) Close() error { return nil }

type fakeFetcher struct {
	failing map[string]bool
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.fetched = append(f.fetched, url)
	if f.failing[url] {
		return nil, "", errors.New("connection reset")
	}
	return []byte("jpeg-bytes"), "image/jpeg", nil
}

type fakeBlobStore struct {
	paths []string
	err   error
}

func (s *fakeBlobStore) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.paths = append(s.paths, path)
	return "memory://" + path, nil
}

func TestCollect_SizeTokenCollapse(t *testing.T) {
	t.Parallel()

	page := &fakePage{snapshots: []photoSnapshot{
		{Src: "https://lh5.googleusercontent.com/p/abc=w203-h114-k-no", Alt: "front"},
		{Src: "https://lh5.googleusercontent.com/p/abc=s120", Alt: "front small"},
		{Src: "https://lh5.googleusercontent.com/p/def=s120", Alt: "interior"},
		{Src: "https://cdn.other.example/img.png", Alt: "ignored host"},
	}}
	fetcher := &fakeFetcher{}
	blobs := &fakeBlobStore{}

	c := New(fetcher, blobs, Config{}, zap.NewNop())
	got, err := c.Collect(context.Background(), page, "place-1")
	require.NoError(t, err)

	require.Len(t, got, 2, "two size variants of one photo collapse to one entry")
	require.Equal(t, "photo-place-1-0", got[0].Key)
	require.Equal(t, "https://lh5.googleusercontent.com/p/abc=s1600", got[0].URL)
	require.Equal(t, "https://lh5.googleusercontent.com/p/abc=w203-h114-k-no", got[0].Thumbnail,
		"first-seen thumbnail wins on collision")
	require.Equal(t, "front", got[0].Alt)
	require.Equal(t, "photo-place-1-1", got[1].Key)
}

func TestCollect_FailedFetchSkippedSilently(t *testing.T) {
	t.Parallel()

	page := &fakePage{snapshots: []photoSnapshot{
		{Src: "https://lh5.googleusercontent.com/p/one=s120"},
		{Src: "https://lh5.googleusercontent.com/p/two=s120"},
		{Src: "https://lh5.googleusercontent.com/p/three=s120"},
	}}
	fetcher := &fakeFetcher{failing: map[string]bool{
		"https://lh5.googleusercontent.com/p/two=s1600": true,
	}}
	blobs := &fakeBlobStore{}

	c := New(fetcher, blobs, Config{}, zap.NewNop())
	got, err := c.Collect(context.Background(), page, "p")
	require.NoError(t, err)

	require.Len(t, got, 2, "the failed photo is omitted, the others persist")
	require.Len(t, fetcher.fetched, 3, "every candidate is attempted independently")
	require.Equal(t, []string{"photos/photo-p-0", "photos/photo-p-2"}, blobs.paths)
}

func TestCollect_PutFailureSkipsPhoto(t *testing.T) {
	t.Parallel()

	page := &fakePage{snapshots: []photoSnapshot{
		{Src: "https://lh5.googleusercontent.com/p/only=s120"},
	}}
	blobs := &fakeBlobStore{err: errors.New("bucket unavailable")}

	c := New(&fakeFetcher{}, blobs, Config{}, zap.NewNop())
	got, err := c.Collect(context.Background(), page, "p")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	c := New(&fakeFetcher{}, &fakeBlobStore{}, Config{}, zap.NewNop())

	tests := []struct {
		in   string
		want string
	}{
		{
			in:   "https://lh5.googleusercontent.com/p/a=w408-h272-k-no",
			want: "https://lh5.googleusercontent.com/p/a=s1600",
		},
		{
			in:   "https://lh5.googleusercontent.com/p/a=s90",
			want: "https://lh5.googleusercontent.com/p/a=s1600",
		},
		{
			in:   "https://lh5.googleusercontent.com/p/a",
			want: "https://lh5.googleusercontent.com/p/a",
		},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, c.Canonicalize(tc.in))
	}
}
