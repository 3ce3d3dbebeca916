// Package orchestrator owns the work queue and the bounded pool of
// execution contexts that drive the two-phase crawl state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/metrics"
	"github.com/mapsight/places-crawler/internal/scrape"
)

// Pool size never exceeds the platform ceiling regardless of configuration.
const poolCeiling = 32

// Guard re-checks a page for anti-automation challenges.
type Guard interface {
	Ensure(ctx context.Context, page scrape.Page) error
}

// Discoverer yields the deduplicated, capped listing set for one search.
type Discoverer interface {
	Discover(ctx context.Context, page scrape.Page, query string, maxPlaces int) ([]scrape.ListingItem, error)
}

// Extractor reads a loaded detail page into a base record.
type Extractor interface {
	Extract(ctx context.Context, page scrape.Page, id string, listing scrape.ListingItem) (scrape.PlaceRecord, error)
}

// ReviewCollector runs the review enrichment pipeline.
type ReviewCollector interface {
	Collect(ctx context.Context, page scrape.Page, maxReviews int) ([]scrape.Review, error)
}

// PhotoCollector runs the photo enrichment pipeline.
type PhotoCollector interface {
	Collect(ctx context.Context, page scrape.Page, placeID string) ([]scrape.PhotoRef, error)
}

// ContactCollector runs the contact enrichment pipeline.
type ContactCollector interface {
	Collect(ctx context.Context, page scrape.Page) (scrape.ContactInfo, error)
}

// WorkQueue is the FIFO shared by all pool contexts.
type WorkQueue interface {
	scrape.Queue
	Close()
}

// Config carries the run-level limits.
type Config struct {
	MaxConcurrency     int
	MaxPlaces          int
	IncludeReviews     bool
	MaxReviews         int
	DownloadPhotos     bool
	ExtractContactInfo bool
	NavigationTimeout  time.Duration
	ItemTimeout        time.Duration
	SearchURLBase      string
	PublishTopic       string
}

const (
	defaultMaxPlaces         = 100
	defaultMaxReviews        = 50
	defaultNavigationTimeout = 60 * time.Second
	defaultItemTimeout       = 5 * time.Minute
	defaultSearchURLBase     = "https://www.google.com/maps/search/"
)

// Deps bundles the collaborators wired in by the app container.
type Deps struct {
	Queue     WorkQueue
	Browser   scrape.Browser
	Guard     Guard
	Discover  Discoverer
	Extract   Extractor
	Reviews   ReviewCollector
	Photos    PhotoCollector
	Contact   ContactCollector
	Sink      scrape.Sink
	Publisher scrape.Publisher
	Hasher    scrape.Hasher
	IDs       scrape.IDGenerator
	Logger    *zap.Logger
}

// Orchestrator seeds the queue with one SEARCH item per request, fans the
// queue out over the pool, and absorbs every item-level failure at the item
// boundary.
type Orchestrator struct {
	cfg  Config
	deps Deps

	pending  atomic.Int64
	counters counters
}

type counters struct {
	searchesCompleted  atomic.Int64
	listingsDiscovered atomic.Int64
	detailsQueued      atomic.Int64
	recordsAppended    atomic.Int64
	itemsFailed        atomic.Int64
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Queue == nil || deps.Browser == nil || deps.Guard == nil || deps.Sink == nil {
		return nil, fmt.Errorf("queue, browser, guard, and sink are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxPlaces <= 0 {
		cfg.MaxPlaces = defaultMaxPlaces
	}
	if cfg.MaxReviews <= 0 {
		cfg.MaxReviews = defaultMaxReviews
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.SearchURLBase == "" {
		cfg.SearchURLBase = defaultSearchURLBase
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Counters returns a snapshot of the run counters.
func (o *Orchestrator) Counters() scrape.RunCounters {
	return scrape.RunCounters{
		SearchesCompleted:  o.counters.searchesCompleted.Load(),
		ListingsDiscovered: o.counters.listingsDiscovered.Load(),
		DetailsQueued:      o.counters.detailsQueued.Load(),
		RecordsAppended:    o.counters.recordsAppended.Load(),
		ItemsFailed:        o.counters.itemsFailed.Load(),
	}
}

// Run processes every configured search to queue exhaustion and returns
// the final counters. There is no run-level success criterion beyond the
// queue draining: individual item failures surface only in logs and
// counters.
func (o *Orchestrator) Run(ctx context.Context, searches []scrape.SearchRequest) (scrape.RunCounters, error) {
	if len(searches) == 0 {
		return scrape.RunCounters{}, fmt.Errorf("at least one search is required")
	}

	for _, search := range searches {
		id, err := o.newID()
		if err != nil {
			return scrape.RunCounters{}, err
		}
		o.pending.Add(1)
		if err := o.deps.Queue.Enqueue(ctx, scrape.WorkItem{
			ID:     id,
			Kind:   scrape.ItemSearch,
			Search: search,
		}); err != nil {
			return scrape.RunCounters{}, fmt.Errorf("seed search item: %w", err)
		}
	}

	workers := o.cfg.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > poolCeiling {
		workers = poolCeiling
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			o.consume(ctx, slot)
		}(i)
	}
	wg.Wait()

	return o.Counters(), nil
}

func (o *Orchestrator) consume(ctx context.Context, slot int) {
	logger := o.deps.Logger.With(zap.Int("context", slot))
	for {
		item, err := o.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, scrape.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		o.processItem(ctx, logger, item)

		if o.pending.Add(-1) == 0 {
			o.deps.Queue.Close()
		}
	}
}

// processItem runs one work item end-to-end inside its own session. Any
// failure is caught here, at the item boundary, and never aborts the pool.
func (o *Orchestrator) processItem(ctx context.Context, logger *zap.Logger, item scrape.WorkItem) {
	metrics.ContextActive(1)
	defer metrics.ContextActive(-1)

	itemCtx, cancel := context.WithTimeout(ctx, o.cfg.ItemTimeout)
	defer cancel()

	err := o.runItem(itemCtx, item)
	if err != nil {
		o.counters.itemsFailed.Add(1)
		metrics.ItemProcessed(string(item.Kind), "error")
		logger.Warn("work item dropped",
			zap.String("item_id", item.ID),
			zap.String("kind", string(item.Kind)),
			zap.String("class", classify(err)),
			zap.Error(err),
		)
		return
	}
	metrics.ItemProcessed(string(item.Kind), "ok")
}

func (o *Orchestrator) runItem(ctx context.Context, item scrape.WorkItem) error {
	session, err := o.deps.Browser.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			o.deps.Logger.Debug("session close failed", zap.Error(cerr))
		}
	}()

	switch item.Kind {
	case scrape.ItemSearch:
		return o.runSearch(ctx, session, item)
	case scrape.ItemDetail:
		return o.runDetail(ctx, session, item)
	default:
		return fmt.Errorf("unknown work item kind %q", item.Kind)
	}
}

func (o *Orchestrator) runSearch(ctx context.Context, session scrape.Session, item scrape.WorkItem) error {
	page := session.Page()
	query := searchQuery(item.Search)

	if err := o.navigate(ctx, page, o.searchURL(query)); err != nil {
		return err
	}
	if err := o.deps.Guard.Ensure(ctx, page); err != nil {
		return err
	}

	listings, err := o.deps.Discover.Discover(ctx, page, query, o.cfg.MaxPlaces)
	if err != nil {
		return fmt.Errorf("discover listings: %w", err)
	}
	o.counters.listingsDiscovered.Add(int64(len(listings)))

	queued := 0
	for _, listing := range listings {
		if queued >= o.cfg.MaxPlaces {
			break
		}
		id, err := o.newID()
		if err != nil {
			return err
		}
		o.pending.Add(1)
		if err := o.deps.Queue.Enqueue(ctx, scrape.WorkItem{
			ID:      id,
			Kind:    scrape.ItemDetail,
			Listing: listing,
		}); err != nil {
			o.pending.Add(-1)
			return fmt.Errorf("enqueue detail item: %w", err)
		}
		queued++
	}

	o.counters.searchesCompleted.Add(1)
	o.counters.detailsQueued.Add(int64(queued))
	o.deps.Logger.Info("search completed",
		zap.String("query", query),
		zap.Int("details_queued", queued),
	)
	return nil
}

func (o *Orchestrator) runDetail(ctx context.Context, session scrape.Session, item scrape.WorkItem) error {
	page := session.Page()

	if err := o.navigate(ctx, page, item.Listing.URL); err != nil {
		return err
	}
	if err := o.deps.Guard.Ensure(ctx, page); err != nil {
		return err
	}

	record, err := o.deps.Extract.Extract(ctx, page, item.ID, item.Listing)
	if err != nil {
		return fmt.Errorf("extract base record: %w", err)
	}

	// Enrichment runs sequentially within the item's session; each pipeline
	// fails independently and degrades to its empty default.
	o.enrich(ctx, session, page, &record)

	if err := o.deps.Sink.Append(ctx, record); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	o.counters.recordsAppended.Add(1)
	metrics.RecordAppended()

	o.publish(ctx, record)
	return nil
}

func (o *Orchestrator) enrich(ctx context.Context, session scrape.Session, page scrape.Page, record *scrape.PlaceRecord) {
	logger := o.deps.Logger.With(zap.String("record_id", record.ID))

	if o.cfg.IncludeReviews && o.deps.Reviews != nil {
		if err := o.deps.Guard.Ensure(ctx, page); err != nil {
			logger.Warn("review pipeline skipped", zap.Error(err))
		} else if reviews, err := o.deps.Reviews.Collect(ctx, page, o.cfg.MaxReviews); err != nil {
			logger.Warn("review pipeline degraded", zap.Error(err))
		} else {
			record.Reviews = reviews
		}
	}

	if o.cfg.DownloadPhotos && o.deps.Photos != nil {
		if err := o.deps.Guard.Ensure(ctx, page); err != nil {
			logger.Warn("photo pipeline skipped", zap.Error(err))
		} else if photos, err := o.deps.Photos.Collect(ctx, page, record.ID); err != nil {
			logger.Warn("photo pipeline degraded", zap.Error(err))
		} else {
			record.Photos = photos
		}
	}

	if o.cfg.ExtractContactInfo && o.deps.Contact != nil && record.Website != "" {
		info, err := o.collectContact(ctx, session, record.Website)
		if err != nil {
			logger.Warn("contact pipeline degraded", zap.Error(err))
			empty := scrape.NewContactInfo()
			record.ContactInfo = &empty
		} else {
			record.ContactInfo = &info
		}
	}
}

// collectContact opens a secondary page scoped to the item's session and
// closes it before the item completes.
func (o *Orchestrator) collectContact(ctx context.Context, session scrape.Session, website string) (scrape.ContactInfo, error) {
	contactPage, err := session.NewPage(ctx)
	if err != nil {
		return scrape.ContactInfo{}, fmt.Errorf("open contact page: %w", err)
	}
	defer func() {
		if cerr := contactPage.Close(); cerr != nil {
			o.deps.Logger.Debug("contact page close failed", zap.Error(cerr))
		}
	}()

	if err := o.navigate(ctx, contactPage, website); err != nil {
		return scrape.ContactInfo{}, err
	}
	if err := o.deps.Guard.Ensure(ctx, contactPage); err != nil {
		return scrape.ContactInfo{}, err
	}
	return o.deps.Contact.Collect(ctx, contactPage)
}

func (o *Orchestrator) publish(ctx context.Context, record scrape.PlaceRecord) {
	if o.deps.Publisher == nil || o.cfg.PublishTopic == "" {
		return
	}
	payload := map[string]any{
		"record_id":  record.ID,
		"title":      record.Title,
		"url":        record.URL,
		"scraped_at": record.ScrapedAt.Format(time.RFC3339),
		"reviews":    len(record.Reviews),
		"photos":     len(record.Photos),
	}
	if o.deps.Hasher != nil {
		if hash, err := o.deps.Hasher.Hash([]byte(record.URL + record.Title)); err == nil {
			payload["hash"] = hash
		}
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.PublishTopic, payload); err != nil {
		o.deps.Logger.Warn("record publish failed",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) navigate(ctx context.Context, page scrape.Page, target string) error {
	navCtx, cancel := context.WithTimeout(ctx, o.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Navigate(navCtx, target); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: navigate %s", scrape.ErrNetworkTimeout, target)
		}
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	return nil
}

func (o *Orchestrator) searchURL(query string) string {
	return o.cfg.SearchURLBase + url.PathEscape(query)
}

func (o *Orchestrator) newID() (string, error) {
	if o.deps.IDs == nil {
		return "", fmt.Errorf("id generator is required")
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}
	return id, nil
}

func searchQuery(search scrape.SearchRequest) string {
	if search.Location == "" {
		return search.Query
	}
	return strings.TrimSpace(search.Query + " " + search.Location)
}

func classify(err error) string {
	var exhausted *scrape.CaptchaSolveExhaustedError
	switch {
	case errors.Is(err, scrape.ErrCaptchaBlocked):
		return "captcha_blocked"
	case errors.As(err, &exhausted):
		return "captcha_exhausted"
	case errors.Is(err, scrape.ErrNetworkTimeout), errors.Is(err, context.DeadlineExceeded):
		return "network_timeout"
	default:
		return "internal"
	}
}
