package reviews

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage replays one review snapshot batch per extraction round and
// reports a scripted remaining scroll distance.
type fakePage struct {
	rounds    [][]reviewSnapshot
	round     int
	remaining []float64
	clicks    map[string]int
	scrolls   int
}

func (p *fakePage) Navigate(context.Context, string) error     { return nil }
func (p *fakePage) CurrentURL(context.Context) (string, error) { return "", nil }
func (p *fakePage) Text(context.Context, string) (string, error) {
	return "", nil
}
func (p *fakePage) Attr(context.Context, string, string) (string, error) {
	return "", nil
}
func (p *fakePage) Exists(context.Context, string) (bool, error) { return false, nil }

func (p *fakePage) ClickAll(_ context.Context, selector string) (int, error) {
	if p.clicks == nil {
		p.clicks = make(map[string]int)
	}
	p.clicks[selector]++
	return 1, nil
}

func (p *fakePage) Eval(_ context.Context, _ string, out any) error {
	batch := []reviewSnapshot{}
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
	idx := p.round - 1
	if idx >= 0 && idx < len(p.remaining) {
		return p.remaining[idx], nil
	}
	if len(p.remaining) > 0 {
		return p.remaining[len(p.remaining)-1], nil
	}
	return 0, nil
}

func (p *fakePage) Close() error { return nil }

func newTestCollector(cfg Config) *Collector {
	c := New(cfg, zap.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func snap(author, rating, text string) reviewSnapshot {
	return reviewSnapshot{Author: author, Rating: rating, Text: text, Date: "a week ago"}
}

func TestCollect_DedupAndCap(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("great coffee ", 10)
	page := &fakePage{
		rounds: [][]reviewSnapshot{
			{
				snap("ann", "5 stars", long),
				snap("bob", "4 stars", "solid"),
			},
			{
				// Same author + same first-50-chars despite a different tail.
				snap("ann", "5 stars", long[:50]+"extended tail text"),
				snap("bob", "4 stars", "solid"),
				snap("cam", "3 stars", "fine"),
				snap("dee", "2 stars", "meh"),
			},
		},
		remaining: []float64{500, 500},
	}

	c := newTestCollector(Config{})
	got, err := c.Collect(context.Background(), page, 3)
	require.NoError(t, err)

	require.Len(t, got, 3, "capped at maxReviews")
	require.Equal(t, "ann", got[0].Author)
	require.Equal(t, "bob", got[1].Author)
	require.Equal(t, "cam", got[2].Author)
}

func TestCollect_IdleTerminationNeedsNoScrollLeft(t *testing.T) {
	t.Parallel()

	stuck := []reviewSnapshot{snap("ann", "5", "only one review here")}
	page := &fakePage{
		rounds: [][]reviewSnapshot{stuck, stuck, stuck, stuck, stuck},
		// Distance remains until round 4, so idle alone must not stop us.
		remaining: []float64{300, 300, 300, 0, 0},
	}

	c := newTestCollector(Config{IdleThreshold: 3})
	got, err := c.Collect(context.Background(), page, 50)
	require.NoError(t, err)

	require.Len(t, got, 1, "stops even though accumulated < maxReviews")
	require.GreaterOrEqual(t, page.round, 4, "must keep scrolling while distance remains")
}

func TestCollect_ExpandsMoreControlsOnce(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		rounds:    [][]reviewSnapshot{{snap("ann", "5", "text")}},
		remaining: []float64{0},
	}

	c := newTestCollector(Config{IdleThreshold: 1, MaxScrollRounds: 3})
	_, err := c.Collect(context.Background(), page, 50)
	require.NoError(t, err)
	require.Equal(t, 1, page.clicks[defaultMoreSelector])
}

func TestCollect_MalformedReviewOmittedNotFatal(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		rounds: [][]reviewSnapshot{{
			snap("ann", "no digits at all", "broken rating"),
			snap("bob", "4", "kept"),
		}},
		remaining: []float64{0},
	}

	c := newTestCollector(Config{IdleThreshold: 1, MaxScrollRounds: 4})
	got, err := c.Collect(context.Background(), page, 50)
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Equal(t, "bob", got[0].Author)
}

func TestCollect_DiscardsAuthorlessTextlessReviews(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		rounds: [][]reviewSnapshot{{
			{Rating: "4", Date: "yesterday"},
			snap("cam", "3", "real one"),
		}},
		remaining: []float64{0},
	}

	c := newTestCollector(Config{IdleThreshold: 1, MaxScrollRounds: 4})
	got, err := c.Collect(context.Background(), page, 50)
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Equal(t, "cam", got[0].Author)
}

func TestCollect_OwnerResponseCarried(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		rounds: [][]reviewSnapshot{{
			{Author: "ann", Rating: "5", Text: "nice", OwnerText: "thanks!", OwnerDate: "a day ago"},
		}},
		remaining: []float64{0},
	}

	c := newTestCollector(Config{IdleThreshold: 1, MaxScrollRounds: 4})
	got, err := c.Collect(context.Background(), page, 50)
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.NotNil(t, got[0].Response)
	require.Equal(t, "thanks!", got[0].Response.Text)
}

func TestConvert_RatingParsing(t *testing.T) {
	t.Parallel()

	review, err := convert(snap("ann", "4.5 stars", "good"))
	require.NoError(t, err)
	require.InDelta(t, 4.5, review.Rating, 0.001)

	_, err = convert(snap("ann", "stars only", "good"))
	require.Error(t, err)
}
