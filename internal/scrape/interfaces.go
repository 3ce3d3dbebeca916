package scrape

import (
	"context"
	"time"
)

// Page is one live browser tab. Implementations resolve selectors against
// the rendered DOM; query methods return empty values, not errors, when a
// selector matches nothing.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Attr(ctx context.Context, selector, name string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	// ClickAll clicks every current match best-effort and reports how many
	// clicks landed; elements that are not clickable are skipped.
	ClickAll(ctx context.Context, selector string) (int, error)
	// Eval runs a script and unmarshals its JSON result into out.
	Eval(ctx context.Context, script string, out any) error
	ScrollBy(ctx context.Context, selector string, pixels int) error
	// ScrollRemaining reports the scrollable distance left in the element,
	// in pixels. Zero means the element is scrolled to its end.
	ScrollRemaining(ctx context.Context, selector string) (float64, error)
	Close() error
}

// Session owns one browser context. A session serves exactly one work item
// at a time; the contact pipeline opens a secondary page scoped to it.
type Session interface {
	Page() Page
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Browser creates sessions for pool contexts.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Solver delegates a challenge to an external CAPTCHA-solving service.
type Solver interface {
	Solve(ctx context.Context, pageURL, siteKey string) (string, error)
}

// ProxyHandle is the rotating egress handle issued once per run and shared
// read-only across contexts.
type ProxyHandle struct {
	URL     string
	Groups  []string
	Country string
}

// ProxyIssuer requests a rotating egress handle from the hosting platform.
type ProxyIssuer interface {
	Issue(ctx context.Context, groups []string, country string) (ProxyHandle, error)
}

// Sink is the external dataset append target.
type Sink interface {
	Append(ctx context.Context, record PlaceRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes record-completed events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides FIFO enqueue/dequeue semantics for work items.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
}

// Hasher computes digests for published record payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces work-item and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
