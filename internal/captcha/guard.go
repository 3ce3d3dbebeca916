// Package captcha detects anti-automation challenges on loaded pages and
// delegates solving to an external service.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/metrics"
	"github.com/mapsight/places-crawler/internal/scrape"
)

// State is the guard's per-page-load state.
type State string

// Guard states. Every page load starts CLEAN and passes through CHECK.
const (
	StateClean      State = "clean"
	StateChallenged State = "challenged"
	StateSolving    State = "solving"
	StateBlocked    State = "blocked"
)

// Config controls solver retry behavior.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 2 * time.Second
)

// Challenge widget selectors checked during CHECK. A page is also treated
// as challenged when the challenge script or a site-key marker is present.
var widgetSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`.g-recaptcha[data-sitekey]`,
	`#captcha-form`,
}

const detectScript = `(() => {
	const widget = document.querySelector('.g-recaptcha[data-sitekey]');
	const challengeScript = document.querySelector('script[src*="recaptcha"]');
	let siteKey = widget ? (widget.getAttribute('data-sitekey') || '') : '';
	if (!siteKey) {
		const m = document.documentElement.innerHTML.match(/sitekey['"]?\s*[:=]\s*['"]([0-9A-Za-z_-]+)['"]/);
		if (m) siteKey = m[1];
	}
	return {
		present: !!(widget || challengeScript || window.___grecaptcha_cfg),
		siteKey: siteKey,
	};
})()`

// The token lands in the v2 hidden response field and a v3-style global so
// either verification path on the page can pick it up.
const injectScriptTemplate = `(token => {
	let field = document.getElementById('g-recaptcha-response');
	if (!field) {
		field = document.createElement('textarea');
		field.id = 'g-recaptcha-response';
		field.name = 'g-recaptcha-response';
		field.style.display = 'none';
		document.body.appendChild(field);
	}
	field.value = token;
	window.__captchaToken = token;
	return true;
})(%q)`

// Guard runs the CLEAN -> CHECK -> {CLEAN|CHALLENGED} -> SOLVING state
// machine for one page load at a time. It is re-invoked on every navigation
// and every enrichment entry point, since a challenge can reappear
// mid-session.
type Guard struct {
	solver scrape.Solver
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewGuard constructs a Guard. A nil solver means any detected challenge is
// fatal for the current item.
func NewGuard(solver scrape.Solver, cfg Config, logger *zap.Logger) *Guard {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		solver: solver,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

type probe struct {
	Present bool   `json:"present"`
	SiteKey string `json:"siteKey"`
}

// Check runs one CHECK transition and reports whether the page is
// challenged, along with the extracted site key when one is visible.
func (g *Guard) Check(ctx context.Context, page scrape.Page) (State, string, error) {
	for _, sel := range widgetSelectors {
		ok, err := page.Exists(ctx, sel)
		if err != nil {
			return StateClean, "", fmt.Errorf("check widget %q: %w", sel, err)
		}
		if ok {
			key, err := g.siteKey(ctx, page)
			if err != nil {
				return StateChallenged, "", err
			}
			return StateChallenged, key, nil
		}
	}

	var p probe
	if err := page.Eval(ctx, detectScript, &p); err != nil {
		return StateClean, "", fmt.Errorf("probe challenge markers: %w", err)
	}
	if p.Present {
		return StateChallenged, p.SiteKey, nil
	}
	return StateClean, "", nil
}

func (g *Guard) siteKey(ctx context.Context, page scrape.Page) (string, error) {
	var p probe
	if err := page.Eval(ctx, detectScript, &p); err != nil {
		return "", fmt.Errorf("extract site key: %w", err)
	}
	return p.SiteKey, nil
}

// Ensure drives the full state machine until the page is CLEAN or the item
// is lost. A challenge without a configured solver returns
// scrape.ErrCaptchaBlocked; exhausting solver retries returns
// *scrape.CaptchaSolveExhaustedError.
func (g *Guard) Ensure(ctx context.Context, page scrape.Page) error {
	state, siteKey, err := g.Check(ctx, page)
	if err != nil {
		return err
	}
	if state == StateClean {
		return nil
	}

	metrics.CaptchaChallenge()
	if g.solver == nil {
		g.logger.Warn("captcha challenge with no solver configured")
		return scrape.ErrCaptchaBlocked
	}
	return g.solve(ctx, page, siteKey)
}

func (g *Guard) solve(ctx context.Context, page scrape.Page, siteKey string) error {
	pageURL, err := page.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("read page url: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			// Observed policy is linear, attempt-proportional delay.
			if err := g.sleep(ctx, time.Duration(attempt)*g.cfg.BaseDelay); err != nil {
				return err
			}
		}

		token, err := g.solver.Solve(ctx, pageURL, siteKey)
		if err != nil {
			lastErr = err
			g.logger.Warn("captcha solve attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		if err := g.inject(ctx, page, token); err != nil {
			lastErr = err
			continue
		}

		state, _, err := g.Check(ctx, page)
		if err != nil {
			lastErr = err
			continue
		}
		if state == StateClean {
			metrics.CaptchaSolved()
			g.logger.Info("captcha solved", zap.Int("attempt", attempt))
			return nil
		}
		lastErr = errors.New("challenge persisted after token injection")
	}

	return &scrape.CaptchaSolveExhaustedError{Attempts: g.cfg.MaxRetries, LastErr: lastErr}
}

func (g *Guard) inject(ctx context.Context, page scrape.Page, token string) error {
	var ok bool
	if err := page.Eval(ctx, fmt.Sprintf(injectScriptTemplate, token), &ok); err != nil {
		return fmt.Errorf("inject token: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry delay canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
