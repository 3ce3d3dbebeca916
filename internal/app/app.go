// Package app initializes and holds the long-lived services for one crawl
// run, acting as the dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/api"
	"github.com/mapsight/places-crawler/internal/browser"
	"github.com/mapsight/places-crawler/internal/captcha"
	"github.com/mapsight/places-crawler/internal/clock/system"
	"github.com/mapsight/places-crawler/internal/config"
	"github.com/mapsight/places-crawler/internal/detail"
	"github.com/mapsight/places-crawler/internal/discover"
	"github.com/mapsight/places-crawler/internal/enrich/contact"
	"github.com/mapsight/places-crawler/internal/enrich/photos"
	"github.com/mapsight/places-crawler/internal/enrich/reviews"
	"github.com/mapsight/places-crawler/internal/hash/sha256"
	"github.com/mapsight/places-crawler/internal/id/uuid"
	"github.com/mapsight/places-crawler/internal/logging"
	"github.com/mapsight/places-crawler/internal/metrics"
	"github.com/mapsight/places-crawler/internal/orchestrator"
	"github.com/mapsight/places-crawler/internal/proxy"
	pubsubpublisher "github.com/mapsight/places-crawler/internal/publisher/pubsub"
	queuememory "github.com/mapsight/places-crawler/internal/queue/memory"
	"github.com/mapsight/places-crawler/internal/scrape"
	fssink "github.com/mapsight/places-crawler/internal/sink/fs"
	memsink "github.com/mapsight/places-crawler/internal/sink/memory"
	pgsink "github.com/mapsight/places-crawler/internal/sink/postgres"
	"github.com/mapsight/places-crawler/internal/storage/gcs"
	"github.com/mapsight/places-crawler/internal/storage/local"
	storagememory "github.com/mapsight/places-crawler/internal/storage/memory"
)

const httpShutdownBudget = 10 * time.Second

// App owns everything a run needs: the browser, the pipelines, the sink,
// and the ops server.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	browser      *browser.Browser
	orchestrator *orchestrator.Orchestrator
	server       *http.Server

	closers []func()
}

// New builds the full service graph from configuration. It fails fast: any
// service that cannot be constructed aborts startup.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	proxyHandle, err := a.provisionProxy(ctx)
	if err != nil {
		return nil, err
	}

	a.browser, err = browser.New(browser.Config{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.Browser.NavTimeout,
		NavPerHostQPS:     cfg.Browser.NavPerHostQPS,
	}, proxyHandle)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	guard, err := a.buildGuard()
	if err != nil {
		return nil, err
	}

	sink, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}

	photoCollector, err := a.buildPhotoCollector(ctx, proxyHandle)
	if err != nil {
		return nil, err
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		MaxConcurrency:     cfg.Crawler.Concurrency,
		MaxPlaces:          cfg.Crawler.MaxPlaces,
		IncludeReviews:     cfg.Crawler.IncludeReviews,
		MaxReviews:         cfg.Crawler.MaxReviews,
		DownloadPhotos:     cfg.Crawler.DownloadPhotos,
		ExtractContactInfo: cfg.Crawler.ExtractContactInfo,
		NavigationTimeout:  cfg.Browser.NavTimeout,
		ItemTimeout:        cfg.Crawler.ItemTimeout,
		SearchURLBase:      cfg.Crawler.SearchURLBase,
		PublishTopic:       cfg.PubSub.TopicName,
	}, orchestrator.Deps{
		Queue:     queuememory.NewQueue(),
		Browser:   a.browser,
		Guard:     guard,
		Discover:  discover.New(discover.Config{}, logger),
		Extract:   detail.NewExtractor(detail.DefaultRuleSet(), system.New(), logger),
		Reviews:   reviews.New(reviews.Config{}, logger),
		Photos:    photoCollector,
		Contact:   contact.New(logger),
		Sink:      sink,
		Publisher: publisher,
		Hasher:    sha256.New(),
		IDs:       uuid.NewUUIDGenerator(),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewServer(a.orchestrator, logger).Handler(),
	}
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves the ops endpoints while the crawl drains its queue, then shuts
// the server down and reports the final counters.
func (a *App) Run(ctx context.Context) (scrape.RunCounters, error) {
	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	counters, runErr := a.orchestrator.Run(ctx, a.cfg.Searches)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownBudget)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("ops server shutdown failed", zap.Error(err))
	}

	select {
	case err := <-serverErr:
		a.logger.Warn("ops server failed", zap.Error(err))
	default:
	}
	return counters, runErr
}

// Close releases browser and backend resources in reverse construction
// order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *App) provisionProxy(ctx context.Context) (scrape.ProxyHandle, error) {
	if !a.cfg.Proxy.UseProxy {
		return scrape.ProxyHandle{}, nil
	}
	issuer, err := proxy.NewPlatformIssuer(a.cfg.Proxy.Host, a.cfg.Proxy.Port, a.cfg.Proxy.Password)
	if err != nil {
		return scrape.ProxyHandle{}, fmt.Errorf("build proxy issuer: %w", err)
	}
	handle, err := proxy.NewProvisioner(issuer, a.logger).Provision(ctx, a.cfg.Proxy.Config)
	if err != nil {
		return scrape.ProxyHandle{}, fmt.Errorf("provision proxy: %w", err)
	}
	return handle, nil
}

func (a *App) buildGuard() (*captcha.Guard, error) {
	var solver scrape.Solver
	if a.cfg.Captcha.SolverEnabled {
		httpSolver, err := captcha.NewHTTPSolver(captcha.SolverConfig{
			APIKey:       a.cfg.Captcha.APIKey,
			Endpoint:     a.cfg.Captcha.Endpoint,
			PollInterval: a.cfg.Captcha.PollInterval,
			PollBudget:   a.cfg.Captcha.PollBudget,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("build captcha solver: %w", err)
		}
		solver = httpSolver
	}
	return captcha.NewGuard(solver, captcha.Config{
		MaxRetries: a.cfg.Captcha.MaxRetries,
		BaseDelay:  a.cfg.Captcha.BaseDelay,
	}, a.logger), nil
}

func (a *App) buildSink(ctx context.Context) (scrape.Sink, error) {
	switch a.cfg.Sink.Backend {
	case "postgres":
		sink, err := pgsink.New(ctx, pgsink.Config{
			DSN:   a.cfg.Sink.DSN,
			Table: a.cfg.Sink.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("build postgres sink: %w", err)
		}
		a.closers = append(a.closers, sink.Close)
		return sink, nil
	case "fs":
		sink, err := fssink.New(a.cfg.Sink.Path)
		if err != nil {
			return nil, fmt.Errorf("build fs sink: %w", err)
		}
		a.closers = append(a.closers, func() {
			if cerr := sink.Close(); cerr != nil {
				a.logger.Warn("sink close failed", zap.Error(cerr))
			}
		})
		return sink, nil
	case "memory":
		return memsink.NewSink(), nil
	default:
		return nil, fmt.Errorf("unknown sink.backend %q", a.cfg.Sink.Backend)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (scrape.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if cerr := client.Close(); cerr != nil {
				a.logger.Warn("gcs client close failed", zap.Error(cerr))
			}
		})
		return gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
	case "memory":
		return storagememory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage.backend %q", a.cfg.Storage.Backend)
	}
}

func (a *App) buildPhotoCollector(ctx context.Context, proxyHandle scrape.ProxyHandle) (orchestrator.PhotoCollector, error) {
	if !a.cfg.Crawler.DownloadPhotos {
		return nil, nil
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	fetcher, err := photos.NewCollyFetcher(photos.FetcherConfig{
		UserAgent: a.cfg.Browser.UserAgent,
		ProxyURL:  proxyHandle.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("build photo fetcher: %w", err)
	}
	return photos.New(fetcher, blobs, photos.Config{}, a.logger), nil
}

func (a *App) buildPublisher(ctx context.Context) (scrape.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	publisher, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		publisher.Close()
		if cerr := client.Close(); cerr != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(cerr))
		}
	})
	return publisher, nil
}
