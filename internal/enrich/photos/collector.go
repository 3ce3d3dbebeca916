// Package photos implements the photo enrichment pipeline: extract image
// references, upgrade them to high-resolution variants, and persist the
// bytes to the blob store.
package photos

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/metrics"
	"github.com/mapsight/places-crawler/internal/scrape"
)

// Fetcher downloads one photo and returns its bytes and content type.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Config controls extraction and persistence.
type Config struct {
	HostMarker   string
	HighResToken string
	PathPrefix   string
}

const (
	defaultHostMarker   = "googleusercontent.com"
	defaultHighResToken = "=s1600"
	defaultPathPrefix   = "photos"
)

// sizeToken matches the embedded size suffix of an image-host URL, e.g.
// =w203-h114-k-no or =s120.
var sizeToken = regexp.MustCompile(`=[sw]\d+(?:-h\d+)?(?:-[a-z-]+)?$`)

type photoSnapshot struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

const extractScript = `(() => {
	return Array.from(document.querySelectorAll('img')).map(img => ({
		src: img.src || '',
		alt: img.getAttribute('alt') || '',
	}));
})()`

// Collector extracts, deduplicates, fetches, and persists a place's photos.
type Collector struct {
	fetcher Fetcher
	blobs   scrape.BlobStore
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Collector.
func New(fetcher Fetcher, blobs scrape.BlobStore, cfg Config, logger *zap.Logger) *Collector {
	if cfg.HostMarker == "" {
		cfg.HostMarker = defaultHostMarker
	}
	if cfg.HighResToken == "" {
		cfg.HighResToken = defaultHighResToken
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = defaultPathPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{fetcher: fetcher, blobs: blobs, cfg: cfg, logger: logger}
}

// Collect returns the subset of the page's photos that were successfully
// persisted. Duplicates collapse on the canonical high-res URL with the
// first-seen thumbnail and alt retained; a failed fetch or put skips that
// photo only.
func (c *Collector) Collect(ctx context.Context, page scrape.Page, placeID string) ([]scrape.PhotoRef, error) {
	var snapshots []photoSnapshot
	if err := page.Eval(ctx, extractScript, &snapshots); err != nil {
		return nil, fmt.Errorf("extract photo elements: %w", err)
	}

	seen := make(map[string]struct{})
	candidates := make([]scrape.PhotoRef, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.Src == "" || !strings.Contains(snap.Src, c.cfg.HostMarker) {
			continue
		}
		canonical := c.Canonicalize(snap.Src)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		candidates = append(candidates, scrape.PhotoRef{
			Key:       fmt.Sprintf("photo-%s-%d", placeID, len(candidates)),
			URL:       canonical,
			Thumbnail: snap.Src,
			Alt:       snap.Alt,
		})
	}

	persisted := make([]scrape.PhotoRef, 0, len(candidates))
	for _, ref := range candidates {
		if err := c.persist(ctx, ref); err != nil {
			metrics.PhotoSkipped()
			c.logger.Debug("photo skipped",
				zap.String("key", ref.Key),
				zap.Error(err),
			)
			continue
		}
		metrics.PhotoStored()
		persisted = append(persisted, ref)
	}
	return persisted, nil
}

// Canonicalize rewrites an image-host URL to its high-resolution variant by
// substituting the embedded size token.
func (c *Collector) Canonicalize(src string) string {
	if sizeToken.MatchString(src) {
		return sizeToken.ReplaceAllString(src, c.cfg.HighResToken)
	}
	return src
}

func (c *Collector) persist(ctx context.Context, ref scrape.PhotoRef) error {
	data, contentType, err := c.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return fmt.Errorf("fetch photo: %w", err)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	path := fmt.Sprintf("%s/%s", strings.Trim(c.cfg.PathPrefix, "/"), ref.Key)
	if _, err := c.blobs.PutObject(ctx, path, contentType, data); err != nil {
		return fmt.Errorf("persist photo: %w", err)
	}
	return nil
}
