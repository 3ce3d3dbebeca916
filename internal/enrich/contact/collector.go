// Package contact extracts emails, social profile links, and phone numbers
// from a place's own website.
package contact

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/scrape"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?(?:\(\d{1,4}\)[ .\-]?)?\d{2,4}(?:[ .\-]\d{2,4}){2,3}`)
)

// platformBucket maps hostname keywords onto one social platform slot.
type platformBucket struct {
	platform string
	keywords []string
}

// Fixed platform buckets, checked in order. One URL is retained per
// platform; the first match wins and later candidates for a filled slot
// are dropped.
var platformBuckets = []platformBucket{
	{platform: "facebook", keywords: []string{"facebook.com"}},
	{platform: "instagram", keywords: []string{"instagram.com"}},
	{platform: "twitter", keywords: []string{"twitter.com", "x.com"}},
	{platform: "linkedin", keywords: []string{"linkedin.com"}},
	{platform: "youtube", keywords: []string{"youtube.com", "youtu.be"}},
	{platform: "tiktok", keywords: []string{"tiktok.com"}},
}

const linksScript = `(() => {
	return Array.from(document.querySelectorAll('a[href]')).map(a => a.href);
})()`

// Collector scrapes contact details from an arbitrary loaded website page.
type Collector struct {
	logger *zap.Logger
}

// New constructs a Collector.
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{logger: logger}
}

// Collect reads the page text and outbound links and returns the contact
// details found. All containers are empty, never nil, when nothing
// matches.
func (c *Collector) Collect(ctx context.Context, page scrape.Page) (scrape.ContactInfo, error) {
	info := scrape.NewContactInfo()

	text, err := page.Text(ctx, "body")
	if err != nil {
		return info, fmt.Errorf("read page text: %w", err)
	}
	info.Emails = dedupMatches(emailPattern.FindAllString(text, -1))
	info.PhoneNumbers = dedupMatches(phonePattern.FindAllString(text, -1))

	var links []string
	if err := page.Eval(ctx, linksScript, &links); err != nil {
		return info, fmt.Errorf("read outbound links: %w", err)
	}
	info.SocialMedia = classifyLinks(links)

	return info, nil
}

// ExtractText applies the email and phone patterns to raw text; used when
// a page's content is already in hand.
func ExtractText(text string) ([]string, []string) {
	return dedupMatches(emailPattern.FindAllString(text, -1)),
		dedupMatches(phonePattern.FindAllString(text, -1))
}

func dedupMatches(matches []string) []string {
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func classifyLinks(links []string) map[string]string {
	slots := make(map[string]string, len(platformBuckets))
	for _, link := range links {
		platform := classify(link)
		if platform == "" {
			continue
		}
		if _, filled := slots[platform]; filled {
			// First match wins; later candidates for a filled slot are
			// dropped even if more specific.
			continue
		}
		slots[platform] = link
	}
	return slots
}

func classify(link string) string {
	host := strings.ToLower(link)
	if parsed, err := url.Parse(link); err == nil && parsed.Host != "" {
		host = strings.ToLower(parsed.Host)
	}
	for _, bucket := range platformBuckets {
		for _, keyword := range bucket.keywords {
			if host == keyword || strings.HasSuffix(host, "."+keyword) {
				return bucket.platform
			}
		}
	}
	return ""
}
