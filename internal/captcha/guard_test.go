package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/scrape"
)

type fakePage struct {
	url        string
	challenged bool
	siteKey    string
	// clearAfterInjections clears the challenge once this many tokens have
	// been injected; zero means the challenge never clears.
	clearAfterInjections int
	injectedScripts      []string
}

func (p *fakePage) Navigate(context.Context, string) error       { return nil }
func (p *fakePage) CurrentURL(context.Context) (string, error)   { return p.url, nil }
func (p *fakePage) Text(context.Context, string) (string, error) { return "", nil }
func (p *fakePage) Attr(context.Context, string, string) (string, error) {
	return "", nil
}
func (p *fakePage) Exists(context.Context, string) (bool, error)  { return false, nil }
func (p *fakePage) ClickAll(context.Context, string) (int, error) { return 0, nil }
func (p *fakePage) ScrollBy(context.Context, string, int) error   { return nil }
func (p *fakePage) ScrollRemaining(context.Context, string) (float64, error) {
	return 0, nil
}
func (p *fakePage) Close() error { return nil }

func (p *fakePage) Eval(_ context.Context, script string, out any) error {
	switch v := out.(type) {
	case *probe:
		v.Present = p.challenged
		v.SiteKey = p.siteKey
	case *bool:
		p.injectedScripts = append(p.injectedScripts, script)
		if p.clearAfterInjections > 0 && len(p.injectedScripts) >= p.clearAfterInjections {
			p.challenged = false
		}
		*v = true
	default:
		return fmt.Errorf("unexpected eval output type %T", out)
	}
	return nil
}

type fakeSolver struct {
	failUntil int
	calls     int
	pageURLs  []string
	siteKeys  []string
}

func (s *fakeSolver) Solve(_ context.Context, pageURL, siteKey string) (string, error) {
	s.calls++
	s.pageURLs = append(s.pageURLs, pageURL)
	s.siteKeys = append(s.siteKeys, siteKey)
	if s.calls <= s.failUntil {
		return "", errors.New("solver backend busy")
	}
	return fmt.Sprintf("token-%d", s.calls), nil
}

func newTestGuard(solver scrape.Solver, retries int) (*Guard, *[]time.Duration) {
	g := NewGuard(solver, Config{MaxRetries: retries, BaseDelay: time.Second}, zap.NewNop())
	delays := &[]time.Duration{}
	g.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return g, delays
}

func TestEnsure_CleanPageTouchesNoSolver(t *testing.T) {
	t.Parallel()

	solver := &fakeSolver{}
	g, _ := newTestGuard(solver, 3)
	page := &fakePage{url: "https://maps.example.com/search", challenged: false}

	require.NoError(t, g.Ensure(context.Background(), page))
	require.Zero(t, solver.calls)
}

func TestEnsure_NoSolverConfiguredIsBlocked(t *testing.T) {
	t.Parallel()

	g, _ := newTestGuard(nil, 3)
	page := &fakePage{url: "https://maps.example.com/place/1", challenged: true}

	err := g.Ensure(context.Background(), page)
	require.ErrorIs(t, err, scrape.ErrCaptchaBlocked)
}

func TestEnsure_ThirdAttemptTokenWins(t *testing.T) {
	t.Parallel()

	solver := &fakeSolver{failUntil: 2}
	g, delays := newTestGuard(solver, 3)
	page := &fakePage{
		url:                  "https://maps.example.com/place/2",
		challenged:           true,
		siteKey:              "site-key-abc",
		clearAfterInjections: 1,
	}

	require.NoError(t, g.Ensure(context.Background(), page))
	require.Equal(t, 3, solver.calls, "exactly maxRetries solve calls")
	require.Equal(t, []string{"site-key-abc", "site-key-abc", "site-key-abc"}, solver.siteKeys)

	require.Len(t, page.injectedScripts, 1)
	require.True(t, strings.Contains(page.injectedScripts[0], `"token-3"`),
		"the injected token must come from attempt 3")

	// Linear policy: attempt x base before attempts 2 and 3.
	require.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, *delays)
}

func TestEnsure_RetriesExhausted(t *testing.T) {
	t.Parallel()

	solver := &fakeSolver{failUntil: 99}
	g, _ := newTestGuard(solver, 3)
	page := &fakePage{url: "https://maps.example.com/place/3", challenged: true}

	err := g.Ensure(context.Background(), page)
	var exhausted *scrape.CaptchaSolveExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, 3, solver.calls)
}

func TestEnsure_PersistentChallengeAfterInjectionExhausts(t *testing.T) {
	t.Parallel()

	solver := &fakeSolver{}
	g, _ := newTestGuard(solver, 2)
	page := &fakePage{url: "https://maps.example.com/place/4", challenged: true}

	err := g.Ensure(context.Background(), page)
	var exhausted *scrape.CaptchaSolveExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.ErrorContains(t, err, "persisted")
}
