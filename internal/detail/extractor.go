// Package detail reads a single listing's page into a base place record
// using ordered selector-fallback rules.
package detail

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/scrape"
)

var (
	atCoordsPattern   = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)
	bangCoordsPattern = regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)
	leadingFloat      = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	digitRun          = regexp.MustCompile(`[\d,]+`)
)

// Extractor produces base PlaceRecords from loaded detail pages.
type Extractor struct {
	rules  RuleSet
	clock  scrape.Clock
	logger *zap.Logger
}

// NewExtractor constructs an Extractor with the given rule set.
func NewExtractor(rules RuleSet, clock scrape.Clock, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{rules: rules, clock: clock, logger: logger}
}

// Extract reads the loaded page into a base record. ScrapedAt is assigned
// exactly once, here, at completion of base extraction; enrichment fields
// start at their empty defaults.
func (e *Extractor) Extract(ctx context.Context, page scrape.Page, id string, listing scrape.ListingItem) (scrape.PlaceRecord, error) {
	record := scrape.PlaceRecord{
		ID:      id,
		URL:     listing.URL,
		Reviews: []scrape.Review{},
		Photos:  []scrape.PhotoRef{},
	}

	record.Title = e.rules.Title.Apply(ctx, page)
	if record.Title == "" {
		record.Title = listing.Title
	}
	record.Address = cleanLabel(e.rules.Address.Apply(ctx, page), "Address:")
	record.Phone = cleanPhone(e.rules.Phone.Apply(ctx, page))
	record.Website = e.rules.Website.Apply(ctx, page)
	record.Rating = parseRating(e.rules.Rating.Apply(ctx, page))
	record.ReviewCount = parseReviewCount(e.rules.ReviewCount.Apply(ctx, page))

	if current, err := page.CurrentURL(ctx); err == nil && current != "" {
		record.URL = current
		record.GPS = ParseGPS(current)
	} else {
		record.GPS = ParseGPS(listing.URL)
	}

	record.ScrapedAt = e.clock.Now()
	return record, nil
}

// ParseGPS extracts coordinates from the fixed patterns embedded in a
// detail page URL. Absence yields nil, not an error.
func ParseGPS(rawURL string) *scrape.GPS {
	for _, pattern := range []*regexp.Regexp{bangCoordsPattern, atCoordsPattern} {
		m := pattern.FindStringSubmatch(rawURL)
		if m == nil {
			continue
		}
		lat, latErr := strconv.ParseFloat(m[1], 64)
		lng, lngErr := strconv.ParseFloat(m[2], 64)
		if latErr != nil || lngErr != nil {
			continue
		}
		return &scrape.GPS{Lat: lat, Lng: lng}
	}
	return nil
}

func cleanLabel(value, prefix string) string {
	value = strings.TrimSpace(strings.TrimPrefix(value, prefix))
	return strings.TrimSpace(value)
}

func cleanPhone(value string) string {
	value = strings.TrimPrefix(value, "tel:")
	for _, prefix := range []string{"Phone:", "Call phone number"} {
		value = strings.TrimPrefix(value, prefix)
	}
	return strings.TrimSpace(value)
}

func parseRating(value string) float64 {
	m := leadingFloat.FindString(value)
	if m == "" {
		return 0
	}
	rating, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0
	}
	return rating
}

func parseReviewCount(value string) int {
	m := digitRun.FindString(value)
	if m == "" {
		return 0
	}
	count, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return count
}
