package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/app"
	"github.com/mapsight/places-crawler/internal/config"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the configured searches to completion",
		Long: `Seeds one search item per configured search, drains the work queue
across the crawl pool, and exits when every item has been processed.
SIGINT and SIGTERM stop the run early.`,
		RunE: runCommand,
	}
}

func runCommand(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("places-crawler.yaml"); err == nil {
			path = "places-crawler.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer application.Close()

	logger := application.Logger()
	logger.Info("crawl starting",
		zap.Int("searches", len(cfg.Searches)),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.Int("max_places", cfg.Crawler.MaxPlaces),
	)

	counters, err := application.Run(ctx)
	if err != nil {
		return fmt.Errorf("crawl run: %w", err)
	}

	logger.Info("crawl finished",
		zap.Int64("searches_completed", counters.SearchesCompleted),
		zap.Int64("listings_discovered", counters.ListingsDiscovered),
		zap.Int64("records_appended", counters.RecordsAppended),
		zap.Int64("items_failed", counters.ItemsFailed),
	)
	return nil
}
