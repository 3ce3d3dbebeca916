// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsTotal              *prometheus.CounterVec
	listingsDiscoveredTotal prometheus.Counter
	reviewsCollectedTotal   prometheus.Counter
	photosStoredTotal       prometheus.Counter
	photosSkippedTotal      prometheus.Counter
	recordsAppendedTotal    prometheus.Counter
	captchaChallengesTotal  prometheus.Counter
	captchaSolvedTotal      prometheus.Counter
	activeContexts          prometheus.Gauge
	scrollRoundsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call this
// function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "places_items_total",
				Help: "Total work items processed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		listingsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "places_listings_discovered_total",
				Help: "Total unique listing references discovered.",
			},
		)

		reviewsCollectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "places_reviews_collected_total",
				Help: "Total unique reviews merged into place records.",
			},
		)

		photosStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "places_photos_stored_total",
				Help: "Total photos fetched and persisted to the blob store.",
			},
		)

		photosSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "places_photos_skipped_total",
				Help: "Total photos skipped due to fetch or persistence failure.",
			},
		)

		recordsAppendedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "places_records_appended_total",
				Help: "Total place records appended to the dataset sink.",
			},
		)

		captchaChallengesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "places_captcha_challenges_total",
				Help: "Total challenge interstitials detected.",
			},
		)

		captchaSolvedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "places_captcha_solved_total",
				Help: "Total challenges cleared via the external solver.",
			},
		)

		activeContexts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "places_active_contexts",
				Help: "Number of pool contexts currently processing an item.",
			},
		)

		scrollRoundsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "places_scroll_rounds_total",
				Help: "Total scroll rounds executed, labeled by loop.",
			},
			[]string{"loop"},
		)
	})
}

// ItemProcessed records one completed work item.
func ItemProcessed(kind, outcome string) {
	if itemsTotal != nil {
		itemsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// ListingsDiscovered adds newly discovered listing references.
func ListingsDiscovered(n int) {
	if listingsDiscoveredTotal != nil {
		listingsDiscoveredTotal.Add(float64(n))
	}
}

// ReviewsCollected adds merged unique reviews.
func ReviewsCollected(n int) {
	if reviewsCollectedTotal != nil {
		reviewsCollectedTotal.Add(float64(n))
	}
}

// PhotoStored records one persisted photo.
func PhotoStored() {
	if photosStoredTotal != nil {
		photosStoredTotal.Inc()
	}
}

// PhotoSkipped records one photo dropped by a per-photo failure.
func PhotoSkipped() {
	if photosSkippedTotal != nil {
		photosSkippedTotal.Inc()
	}
}

// RecordAppended records one sink append.
func RecordAppended() {
	if recordsAppendedTotal != nil {
		recordsAppendedTotal.Inc()
	}
}

// CaptchaChallenge records one detected challenge.
func CaptchaChallenge() {
	if captchaChallengesTotal != nil {
		captchaChallengesTotal.Inc()
	}
}

// CaptchaSolved records one cleared challenge.
func CaptchaSolved() {
	if captchaSolvedTotal != nil {
		captchaSolvedTotal.Inc()
	}
}

// ContextActive adjusts the active-context gauge by delta.
func ContextActive(delta float64) {
	if activeContexts != nil {
		activeContexts.Add(delta)
	}
}

// ScrollRound records one scroll round for the named loop.
func ScrollRound(loop string) {
	if scrollRoundsTotal != nil {
		scrollRoundsTotal.WithLabelValues(loop).Inc()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
