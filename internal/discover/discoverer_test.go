package discover

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage replays one prepared anchor snapshot batch per extraction round.
type fakePage struct {
	rounds  [][]anchorSnapshot
	round   int
	scrolls int
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
	batch := []anchorSnapshot{}
	if p.round < len(p.rounds) {
		batch = p.rounds[p.round]
	} else if len(p.rounds) > 0 {
		batch = p.rounds[len(p.rounds)-1]
	}
	p.round++

	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *fakePage) ScrollBy(context.Context, string, int) error {
	p.scrolls++
	return nil
}

func (p *fakePage) ScrollRemaining(context.Context, string) (float64, error) {
	return 0, nil
}
func (p *fakePage) Close() error { return nil }

func newTestDiscoverer(cfg Config) *Discoverer {
	d := New(cfg, zap.NewNop())
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func anchor(href, title string) anchorSnapshot {
	return anchorSnapshot{Href: href, Candidates: []string{title, "", ""}}
}

func TestDiscover_DedupAcrossRounds(t *testing.T) {
	t.Parallel()

	page := &fakePage{rounds: [][]anchorSnapshot{
		{anchor("https://maps.example.com/place/a", "A")},
		{
			anchor("https://maps.example.com/place/a", "A"),
			anchor("https://maps.example.com/place/b", "B"),
		},
	}}

	d := newTestDiscoverer(Config{MaxScrollRounds: 2})
	items, err := d.Discover(context.Background(), page, "cafes", 10)
	require.NoError(t, err)

	require.Len(t, items, 2, "the repeated URL must yield exactly one item")
	require.Equal(t, "https://maps.example.com/place/a", items[0].URL)
	require.Equal(t, "https://maps.example.com/place/b", items[1].URL)
}

func TestDiscover_CappedAtMaxPlaces(t *testing.T) {
	t.Parallel()

	batch := make([]anchorSnapshot, 0, 8)
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		batch = append(batch, anchor("https://maps.example.com/place/"+s, s))
	}
	page := &fakePage{rounds: [][]anchorSnapshot{batch}}

	d := newTestDiscoverer(Config{})
	items, err := d.Discover(context.Background(), page, "cafes", 3)
	require.NoError(t, err)

	require.Len(t, items, 3)
	require.Zero(t, page.scrolls, "cap reached on the first round, no scrolling needed")
}

func TestDiscover_StopsWhenRoundBudgetExhausted(t *testing.T) {
	t.Parallel()

	page := &fakePage{rounds: [][]anchorSnapshot{
		{anchor("https://maps.example.com/place/only", "Only")},
	}}

	d := newTestDiscoverer(Config{MaxScrollRounds: 4})
	items, err := d.Discover(context.Background(), page, "cafes", 100)
	require.NoError(t, err)

	require.Len(t, items, 1)
	require.Equal(t, 4, page.round, "one extraction per bounded round")
}

func TestDiscover_PreservesDiscoveryOrder(t *testing.T) {
	t.Parallel()

	page := &fakePage{rounds: [][]anchorSnapshot{
		{anchor("https://maps.example.com/place/z", "Z")},
		{
			anchor("https://maps.example.com/place/z", "Z"),
			anchor("https://maps.example.com/place/m", "M"),
			anchor("https://maps.example.com/place/a", "A"),
		},
	}}

	d := newTestDiscoverer(Config{MaxScrollRounds: 2})
	items, err := d.Discover(context.Background(), page, "cafes", 10)
	require.NoError(t, err)

	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	require.Equal(t, []string{"Z", "M", "A"}, titles)
}

func TestTitleFrom_FallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		snap anchorSnapshot
		want string
	}{
		{
			name: "first candidate wins",
			snap: anchorSnapshot{Candidates: []string{"Primary", "Secondary"}},
			want: "Primary",
		},
		{
			name: "later candidate when earlier blank",
			snap: anchorSnapshot{Candidates: []string{"  ", "Secondary"}},
			want: "Secondary",
		},
		{
			name: "raw text first line",
			snap: anchorSnapshot{RawText: "Raw Title\n4.2 stars\nOpen now"},
			want: "Raw Title",
		},
		{
			name: "everything empty",
			snap: anchorSnapshot{},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, titleFrom(tc.snap))
		})
	}
}
