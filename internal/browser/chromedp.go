// Package browser implements the scrape browser contracts on top of
// chromedp and headless Chrome.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/mapsight/places-crawler/internal/scrape"
)

// Config controls the shared browser process and its tabs.
type Config struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// NavPerHostQPS throttles navigations per target host across all
	// sessions. Zero disables throttling.
	NavPerHostQPS float64 `mapstructure:"nav_per_host_qps"`
}

const defaultNavigationTimeout = 60 * time.Second

// Browser owns one Chrome process allocator. Sessions map to isolated
// incognito-style browser contexts; pages map to tabs.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	limiters    *hostLimiters
}

// New launches the allocator. The proxy handle, when enabled, routes every
// tab's traffic through the issued rotating endpoint.
func New(cfg Config, proxy scrape.ProxyHandle) (*Browser, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if proxy.URL != "" {
		opts = append(opts, chromedp.ProxyServer(proxy.URL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		limiters:    newHostLimiters(cfg.NavPerHostQPS),
	}, nil
}

// NewSession opens a fresh browser context with one initial tab.
func (b *Browser) NewSession(ctx context.Context) (scrape.Session, error) {
	sessCtx, sessCancel := chromedp.NewContext(b.allocator)

	page, err := b.newPage(sessCtx)
	if err != nil {
		sessCancel()
		return nil, err
	}
	return &session{
		browser: b,
		ctx:     sessCtx,
		cancel:  sessCancel,
		page:    page,
	}, nil
}

// Close tears the Chrome process down.
func (b *Browser) Close() error {
	b.allocCancel()
	return nil
}

func (b *Browser) newPage(parent context.Context) (*page, error) {
	tabCtx, tabCancel := chromedp.NewContext(parent)

	// Starting the tab eagerly surfaces launch failures here instead of on
	// the first navigation.
	if err := chromedp.Run(tabCtx, b.setupAction()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("start browser tab: %w", err)
	}
	return &page{browser: b, ctx: tabCtx, cancel: tabCancel}, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type session struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
	page    *page
}

func (s *session) Page() scrape.Page { return s.page }

func (s *session) NewPage(context.Context) (scrape.Page, error) {
	return s.browser.newPage(s.ctx)
}

func (s *session) Close() error {
	s.cancel()
	return nil
}

// page is one Chrome tab. Query methods treat an unmatched selector as an
// empty result, not an error, so extraction rule chains can probe freely.
type page struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
}

func (p *page) Navigate(ctx context.Context, target string) error {
	if err := p.browser.limiters.wait(ctx, target); err != nil {
		return err
	}
	return p.run(ctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *page) CurrentURL(ctx context.Context) (string, error) {
	var current string
	if err := p.run(ctx, chromedp.Location(&current)); err != nil {
		return "", err
	}
	return current, nil
}

func (p *page) Text(ctx context.Context, selector string) (string, error) {
	var out string
	script := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el ? el.textContent : ""; })()`,
		selector,
	)
	if err := p.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return "", err
	}
	return out, nil
}

func (p *page) Attr(ctx context.Context, selector, name string) (string, error) {
	var out string
	script := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el ? (el.getAttribute(%q) || "") : ""; })()`,
		selector, name,
	)
	if err := p.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return "", err
	}
	return out, nil
}

func (p *page) Exists(ctx context.Context, selector string) (bool, error) {
	var out bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := p.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return false, err
	}
	return out, nil
}

func (p *page) ClickAll(ctx context.Context, selector string) (int, error) {
	var clicked int
	script := fmt.Sprintf(`(() => {
		let n = 0;
		for (const el of document.querySelectorAll(%q)) {
			try { el.click(); n++; } catch (e) {}
		}
		return n;
	})()`, selector)
	if err := p.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return 0, err
	}
	return clicked, nil
}

func (p *page) Eval(ctx context.Context, script string, out any) error {
	var raw json.RawMessage
	if err := p.run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode eval result: %w", err)
	}
	return nil
}

func (p *page) ScrollBy(ctx context.Context, selector string, pixels int) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (el) { el.scrollBy(0, %d); } else { window.scrollBy(0, %d); }
		return true;
	})()`, selector, pixels, pixels)
	var ok bool
	return p.run(ctx, chromedp.Evaluate(script, &ok))
}

func (p *page) ScrollRemaining(ctx context.Context, selector string) (float64, error) {
	var remaining float64
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return 0; }
		return Math.max(0, el.scrollHeight - el.scrollTop - el.clientHeight);
	})()`, selector)
	if err := p.run(ctx, chromedp.Evaluate(script, &remaining)); err != nil {
		return 0, err
	}
	return remaining, nil
}

func (p *page) Close() error {
	p.cancel()
	return nil
}

// run executes actions on the tab context while honoring the caller's
// deadline and cancellation.
func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	stop := context.AfterFunc(ctx, p.cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// hostLimiters maintains one rate limiter per navigation target host.
type hostLimiters struct {
	qps float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiters(qps float64) *hostLimiters {
	return &hostLimiters{
		qps:      qps,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *hostLimiters) wait(ctx context.Context, target string) error {
	if h.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return nil
	}

	h.mu.Lock()
	limiter, ok := h.limiters[parsed.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(h.qps), 1)
		h.limiters[parsed.Host] = limiter
	}
	h.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigation throttle wait: %w", err)
	}
	return nil
}
