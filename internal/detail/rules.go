package detail

import (
	"context"
	"strings"

	"github.com/mapsight/places-crawler/internal/scrape"
)

// Rule is one candidate extraction against a loaded page: a selector plus
// an optional attribute (empty means inner text).
type Rule struct {
	Selector string
	Attr     string
}

// FieldRules is an ordered fallback chain. Apply runs the rules in order
// and returns the first non-empty trimmed result; a rule that errors is
// skipped the same as a rule that matches nothing, which tolerates markup
// variance without per-field branching.
type FieldRules []Rule

// Apply evaluates the chain against page.
func (rs FieldRules) Apply(ctx context.Context, page scrape.Page) string {
	for _, r := range rs {
		var (
			value string
			err   error
		)
		if r.Attr == "" {
			value, err = page.Text(ctx, r.Selector)
		} else {
			value, err = page.Attr(ctx, r.Selector, r.Attr)
		}
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}

// RuleSet carries the per-field chains for the listing site's detail page.
// Selector strings are volatile, site-specific detail; callers may override
// any chain wholesale.
type RuleSet struct {
	Title       FieldRules
	Address     FieldRules
	Phone       FieldRules
	Website     FieldRules
	Rating      FieldRules
	ReviewCount FieldRules
}

// DefaultRuleSet returns the chains observed to work against current
// markup, most specific first.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Title: FieldRules{
			{Selector: `h1.DUwDvf`},
			{Selector: `h1[class*="fontHeadline"]`},
			{Selector: `h1`},
		},
		Address: FieldRules{
			{Selector: `button[data-item-id="address"]`, Attr: "aria-label"},
			{Selector: `button[data-item-id="address"] div.fontBodyMedium`},
			{Selector: `[data-tooltip="Copy address"]`, Attr: "aria-label"},
		},
		Phone: FieldRules{
			{Selector: `button[data-item-id^="phone"]`, Attr: "aria-label"},
			{Selector: `button[data-item-id^="phone"] div.fontBodyMedium`},
			{Selector: `a[href^="tel:"]`, Attr: "href"},
		},
		Website: FieldRules{
			{Selector: `a[data-item-id="authority"]`, Attr: "href"},
			{Selector: `a[aria-label^="Website"]`, Attr: "href"},
		},
		Rating: FieldRules{
			{Selector: `div.F7nice span[aria-hidden="true"]`},
			{Selector: `span.ceNzKf`, Attr: "aria-label"},
			{Selector: `[role="img"][aria-label*="stars"]`, Attr: "aria-label"},
		},
		ReviewCount: FieldRules{
			{Selector: `div.F7nice span[aria-label$="reviews"]`, Attr: "aria-label"},
			{Selector: `button[aria-label$="reviews"]`, Attr: "aria-label"},
			{Selector: `span.RDApEe`},
		},
	}
}
