// Package serve implements the serve command, the long-running detection
// service.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/leafguard-go/internal/artifact"
	"github.com/tphakala/leafguard-go/internal/classifier"
	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/datastore"
	"github.com/tphakala/leafguard-go/internal/detection"
	"github.com/tphakala/leafguard-go/internal/httpcontroller"
	"github.com/tphakala/leafguard-go/internal/logging"
	"github.com/tphakala/leafguard-go/internal/observability"
)

// stuckScanInterval is how often the stuck-processing gauge is refreshed.
const stuckScanInterval = 5 * time.Minute

// stuckMaxAge is how long a detection may sit in processing before it counts
// as stuck.
const stuckMaxAge = 15 * time.Minute

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the detection HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), settings)
		},
	}
}

func runServer(ctx context.Context, settings *conf.Settings) error {
	logger := logging.ForService("serve")

	ds, err := datastore.New(settings)
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("closing datastore", "error", err)
		}
	}()

	store, err := artifact.NewStore(ctx, &settings.Artifacts)
	if err != nil {
		return fmt.Errorf("creating artifact store: %w", err)
	}

	cls, err := classifier.NewClient(&settings.Classifier)
	if err != nil {
		return fmt.Errorf("creating classifier client: %w", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	manager := detection.NewManager(ds, store, cls,
		settings.Classifier.Threshold, settings.Classifier.Timeout, metrics)

	server, err := httpcontroller.New(settings, ds, store, manager, metrics)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	scanCtx, stopScan := context.WithCancel(ctx)
	defer stopScan()
	go watchStuckDetections(scanCtx, manager, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	if err := server.Shutdown(); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// watchStuckDetections periodically counts detections stuck in processing and
// logs them. The count also feeds the observability gauge.
func watchStuckDetections(ctx context.Context, manager *detection.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(stuckScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stuck, err := manager.StuckProcessing(ctx, stuckMaxAge)
			if err != nil {
				logger.Error("stuck detection scan failed", "error", err)
				continue
			}
			if len(stuck) > 0 {
				logger.Warn("detections stuck in processing", "count", len(stuck))
			}
		}
	}
}
