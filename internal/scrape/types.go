// Package scrape defines core types shared across the crawl pipeline.
package scrape

import "time"

// ItemKind distinguishes the two work-item phases.
type ItemKind string

// Work-item kinds processed by the orchestrator pool.
const (
	ItemSearch ItemKind = "search"
	ItemDetail ItemKind = "detail"
)

// SearchRequest is one configured search; immutable input.
type SearchRequest struct {
	Query    string `json:"query" mapstructure:"query"`
	Location string `json:"location,omitempty" mapstructure:"location"`
}

// ListingItem is a minimal listing reference discovered during the search
// phase, unique by URL within one discovery run.
type ListingItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// GPS holds coordinates parsed from a detail page URL.
type GPS struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// OwnerResponse is the business reply attached to a review.
type OwnerResponse struct {
	Owner string `json:"owner,omitempty"`
	Text  string `json:"text,omitempty"`
	Date  string `json:"date,omitempty"`
}

// Review is a single customer review. A review carrying neither author nor
// text is discarded during collection.
type Review struct {
	Author   string         `json:"author,omitempty"`
	Rating   float64        `json:"rating,omitempty"`
	Text     string         `json:"text,omitempty"`
	Date     string         `json:"date,omitempty"`
	Response *OwnerResponse `json:"response,omitempty"`
}

// DedupKey returns the review identity used for cross-round merging:
// author plus the first 50 characters of the text.
func (r Review) DedupKey() string {
	text := r.Text
	if runes := []rune(text); len(runes) > 50 {
		text = string(runes[:50])
	}
	return r.Author + "\x00" + text
}

// Empty reports whether the review carries neither author nor text.
func (r Review) Empty() bool {
	return r.Author == "" && r.Text == ""
}

// PhotoRef describes one persisted photo. Key is deterministic:
// photo-<placeId>-<index>.
type PhotoRef struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Alt       string `json:"alt,omitempty"`
}

// ContactInfo aggregates contact details scraped from a place's own website.
// All containers default to empty, never nil, when nothing is found.
type ContactInfo struct {
	Emails       []string          `json:"emails"`
	SocialMedia  map[string]string `json:"socialMedia"`
	PhoneNumbers []string          `json:"phoneNumbers"`
}

// NewContactInfo returns a ContactInfo with empty containers.
func NewContactInfo() ContactInfo {
	return ContactInfo{
		Emails:       []string{},
		SocialMedia:  map[string]string{},
		PhoneNumbers: []string{},
	}
}

// PlaceRecord is the full structured output for one detail item. ScrapedAt
// is assigned exactly once, at completion of base extraction. Enrichment
// fields stay at their empty defaults when a pipeline fails.
type PlaceRecord struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Address     string       `json:"address,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Website     string       `json:"website,omitempty"`
	Rating      float64      `json:"rating,omitempty"`
	ReviewCount int          `json:"reviewCount,omitempty"`
	GPS         *GPS         `json:"gps,omitempty"`
	URL         string       `json:"url"`
	ScrapedAt   time.Time    `json:"scrapedAt"`
	Reviews     []Review     `json:"reviews"`
	Photos      []PhotoRef   `json:"photos"`
	ContactInfo *ContactInfo `json:"contactInfo,omitempty"`
}

// WorkItem is one unit of pool work: a search to discover or a listing to
// extract.
type WorkItem struct {
	ID      string
	Kind    ItemKind
	Search  SearchRequest
	Listing ListingItem
	Attempt int
}

// RunCounters tracks run-level outcomes across the pool.
type RunCounters struct {
	SearchesCompleted  int64 `json:"searches_completed"`
	ListingsDiscovered int64 `json:"listings_discovered"`
	DetailsQueued      int64 `json:"details_queued"`
	RecordsAppended    int64 `json:"records_appended"`
	ItemsFailed        int64 `json:"items_failed"`
}
