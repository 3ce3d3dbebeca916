// Package reviews implements the review enrichment pipeline: expand
// truncated text, then scroll the reviews panel to convergence while
// merging unique reviews.
package reviews

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/convergence"
	"github.com/mapsight/places-crawler/internal/metrics"
	"github.com/mapsight/places-crawler/internal/scrape"
)

// Config controls the review collection loop.
type Config struct {
	PanelSelector   string
	MoreSelector    string
	ScrollIncrement int
	SettleDelay     time.Duration
	IdleThreshold   int
	MaxScrollRounds int
}

const (
	defaultPanelSelector   = `div.m6QErb[tabindex="-1"]`
	defaultMoreSelector    = `button.w8nwRe`
	defaultScrollIncrement = 1000
	defaultSettleDelay     = 1200 * time.Millisecond
	defaultIdleThreshold   = 3
	defaultMaxScrollRounds = 60
)

var ratingPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// reviewSnapshot is the per-review shape returned by the extraction script.
type reviewSnapshot struct {
	Author    string `json:"author"`
	Rating    string `json:"rating"`
	Text      string `json:"text"`
	Date      string `json:"date"`
	OwnerText string `json:"ownerText"`
	OwnerDate string `json:"ownerDate"`
}

const extractScript = `(() => {
	return Array.from(document.querySelectorAll('div[data-review-id]')).map(el => {
		const get = (sel, attr) => {
			const n = el.querySelector(sel);
			if (!n) return '';
			return attr ? (n.getAttribute(attr) || '') : (n.textContent || '');
		};
		return {
			author: get('div.d4r55'),
			rating: get('span.kvMYJc', 'aria-label'),
			text: get('span.wiI7pd'),
			date: get('span.rsqaWe'),
			ownerText: get('div.CDe7pd span.wiI7pd'),
			ownerDate: get('div.CDe7pd span.rsqaWe'),
		};
	});
})()`

// Collector accumulates unique reviews from a loaded detail page.
type Collector struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New constructs a Collector, filling zero config fields with defaults.
func New(cfg Config, logger *zap.Logger) *Collector {
	if cfg.PanelSelector == "" {
		cfg.PanelSelector = defaultPanelSelector
	}
	if cfg.MoreSelector == "" {
		cfg.MoreSelector = defaultMoreSelector
	}
	if cfg.ScrollIncrement <= 0 {
		cfg.ScrollIncrement = defaultScrollIncrement
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = defaultIdleThreshold
	}
	if cfg.MaxScrollRounds <= 0 {
		cfg.MaxScrollRounds = defaultMaxScrollRounds
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Collect expands truncated review text once (best-effort), then runs the
// convergence loop: extract rendered reviews, merge newly-unique ones,
// scroll, settle. It stops once maxReviews have accumulated, or once the
// idle counter hits its threshold with no scrollable distance left. The
// result is truncated to maxReviews.
func (c *Collector) Collect(ctx context.Context, page scrape.Page, maxReviews int) ([]scrape.Review, error) {
	if maxReviews <= 0 {
		return []scrape.Review{}, nil
	}

	// A control that is not clickable is skipped, not an error.
	if _, err := page.ClickAll(ctx, c.cfg.MoreSelector); err != nil {
		c.logger.Debug("expanding review text failed", zap.Error(err))
	}

	seen := make(map[string]struct{})
	collected := make([]scrape.Review, 0, maxReviews)
	detector := convergence.NewDetector(c.cfg.IdleThreshold, c.cfg.MaxScrollRounds)

	for {
		var snapshots []reviewSnapshot
		if err := page.Eval(ctx, extractScript, &snapshots); err != nil {
			return nil, fmt.Errorf("extract rendered reviews: %w", err)
		}

		fresh := 0
		for _, snap := range snapshots {
			review, err := convert(snap)
			if err != nil {
				// A single broken review is omitted, never the batch.
				c.logger.Debug("skipping malformed review", zap.Error(err))
				continue
			}
			if review.Empty() {
				continue
			}
			key := review.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			collected = append(collected, review)
			fresh++
		}
		metrics.ReviewsCollected(fresh)
		metrics.ScrollRound("reviews")

		if len(collected) >= maxReviews {
			break
		}

		detector.Observe(len(snapshots))
		remaining, err := page.ScrollRemaining(ctx, c.cfg.PanelSelector)
		if err != nil {
			return nil, fmt.Errorf("probe panel scroll distance: %w", err)
		}
		if detector.Converged(remaining <= 0) {
			c.logger.Debug("review collection converged",
				zap.Int("rounds", detector.Rounds()),
				zap.Int("collected", len(collected)),
			)
			break
		}
		if detector.Exhausted() {
			break
		}

		if err := page.ScrollBy(ctx, c.cfg.PanelSelector, c.cfg.ScrollIncrement); err != nil {
			return nil, fmt.Errorf("scroll reviews panel: %w", err)
		}
		if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
			return nil, err
		}
	}

	if len(collected) > maxReviews {
		collected = collected[:maxReviews]
	}
	return collected, nil
}

func convert(snap reviewSnapshot) (scrape.Review, error) {
	review := scrape.Review{
		Author: strings.TrimSpace(snap.Author),
		Text:   strings.TrimSpace(snap.Text),
		Date:   strings.TrimSpace(snap.Date),
	}
	if raw := strings.TrimSpace(snap.Rating); raw != "" {
		m := ratingPattern.FindString(raw)
		if m == "" {
			return scrape.Review{}, fmt.Errorf("unparseable rating label %q", raw)
		}
		rating, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return scrape.Review{}, fmt.Errorf("parse rating %q: %w", m, err)
		}
		review.Rating = rating
	}
	if snap.OwnerText != "" || snap.OwnerDate != "" {
		review.Response = &scrape.OwnerResponse{
			Text: strings.TrimSpace(snap.OwnerText),
			Date: strings.TrimSpace(snap.OwnerDate),
		}
	}
	return review, nil
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
