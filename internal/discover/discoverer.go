// Package discover implements the search-phase scroll loop that yields a
// deduplicated, capped set of listing references.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/metrics"
	"github.com/mapsight/places-crawler/internal/scrape"
)

// Config controls the discovery scroll loop. The round bound and increments
// are fixed for a run; only MaxPlaces varies per input.
type Config struct {
	FeedSelector    string
	AnchorSelector  string
	ScrollIncrement int
	SettleDelay     time.Duration
	MaxScrollRounds int
}

const (
	defaultFeedSelector    = `div[role="feed"]`
	defaultAnchorSelector  = `a[href*="/place/"]`
	defaultScrollIncrement = 1200
	defaultSettleDelay     = 1500 * time.Millisecond
	defaultMaxScrollRounds = 40
)

// Ordered candidate sub-selectors for a listing card's title; the first
// yielding non-empty text wins. The anchor's raw text (first line) is the
// final fallback.
var titleSubSelectors = []string{
	`div.qBF1Pd`,
	`div[class*="fontHeadlineSmall"]`,
	`div[role="heading"]`,
}

// anchorSnapshot is the per-anchor shape returned by the extraction script.
// Candidates aligns index-for-index with titleSubSelectors.
type anchorSnapshot struct {
	Href       string   `json:"href"`
	RawText    string   `json:"rawText"`
	Candidates []string `json:"candidates"`
}

// Discoverer runs the listing discovery loop against a loaded search page.
type Discoverer struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New constructs a Discoverer, filling zero config fields with defaults.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.FeedSelector == "" {
		cfg.FeedSelector = defaultFeedSelector
	}
	if cfg.AnchorSelector == "" {
		cfg.AnchorSelector = defaultAnchorSelector
	}
	if cfg.ScrollIncrement <= 0 {
		cfg.ScrollIncrement = defaultScrollIncrement
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.MaxScrollRounds <= 0 {
		cfg.MaxScrollRounds = defaultMaxScrollRounds
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Discover scrolls the results feed until maxPlaces unique listings have
// accumulated or the bounded round budget is exhausted. The returned slice
// preserves discovery order and is truncated to maxPlaces. Uniqueness is
// by URL and scoped to this one run; identical places from two searches are
// independent items.
func (d *Discoverer) Discover(ctx context.Context, page scrape.Page, query string, maxPlaces int) ([]scrape.ListingItem, error) {
	if maxPlaces <= 0 {
		return nil, fmt.Errorf("maxPlaces must be > 0")
	}

	script, err := d.extractionScript()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	items := make([]scrape.ListingItem, 0, maxPlaces)

	for round := 0; round < d.cfg.MaxScrollRounds; round++ {
		var snapshots []anchorSnapshot
		if err := page.Eval(ctx, script, &snapshots); err != nil {
			return nil, fmt.Errorf("extract listing anchors: %w", err)
		}

		fresh := 0
		for _, snap := range snapshots {
			if snap.Href == "" {
				continue
			}
			if _, dup := seen[snap.Href]; dup {
				continue
			}
			seen[snap.Href] = struct{}{}
			items = append(items, scrape.ListingItem{
				Title: titleFrom(snap),
				URL:   snap.Href,
			})
			fresh++
		}
		metrics.ListingsDiscovered(fresh)
		metrics.ScrollRound("discovery")

		d.logger.Debug("discovery round",
			zap.String("query", query),
			zap.Int("round", round+1),
			zap.Int("fresh", fresh),
			zap.Int("accumulated", len(items)),
		)

		if len(items) >= maxPlaces {
			break
		}

		if err := page.ScrollBy(ctx, d.cfg.FeedSelector, d.cfg.ScrollIncrement); err != nil {
			return nil, fmt.Errorf("scroll results feed: %w", err)
		}
		if err := d.sleep(ctx, d.cfg.SettleDelay); err != nil {
			return nil, err
		}
	}

	if len(items) > maxPlaces {
		items = items[:maxPlaces]
	}
	d.logger.Info("discovery finished",
		zap.String("query", query),
		zap.Int("listings", len(items)),
	)
	return items, nil
}

func (d *Discoverer) extractionScript() (string, error) {
	subs, err := json.Marshal(titleSubSelectors)
	if err != nil {
		return "", fmt.Errorf("marshal title sub-selectors: %w", err)
	}
	return fmt.Sprintf(`(() => {
	const subs = %s;
	return Array.from(document.querySelectorAll(%q)).map(a => {
		const card = a.closest('div[jsaction]') || a.parentElement || a;
		return {
			href: a.href || '',
			rawText: a.getAttribute('aria-label') || a.textContent || '',
			candidates: subs.map(s => {
				const el = card.querySelector(s);
				return el ? (el.textContent || '') : '';
			}),
		};
	});
})()`, subs, d.cfg.AnchorSelector), nil
}

// titleFrom applies the ordered sub-selector fallback, then the anchor's
// raw text, first line.
func titleFrom(snap anchorSnapshot) string {
	for _, candidate := range snap.Candidates {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	raw := strings.TrimSpace(snap.RawText)
	if raw == "" {
		return ""
	}
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("settle wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
