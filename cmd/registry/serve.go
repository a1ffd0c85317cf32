package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ougirez/cmregistry/internal/api"
	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/egress"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/service/locationgroup"
)

const (
	housekeepingEvery = time.Minute
	shutdownTimeout   = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	monitor := egress.NewMonitor(egress.Thresholds{
		ResponseTime:  cfg.Egress.MaxResponseTime,
		ResponseBytes: cfg.Egress.MaxResponseBytes,
		CacheMissRate: cfg.Egress.MaxCacheMissRate,
		APICalls:      cfg.Egress.MaxAPICalls,
	})

	svc, err := api.NewAPIService(api.Deps{
		Config:  cfg,
		Store:   d.store,
		Cache:   d.governor,
		Gate:    locationgroup.NewGate(d.store, d.governor, nil),
		Monitor: monitor,
	})
	if err != nil {
		return err
	}

	go housekeeping(ctx, d.governor)
	go svc.Serve(cfg.HTTPAddr)
	logger.Infof(ctx, "listening on %s", cfg.HTTPAddr)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}

// housekeeping runs the cache governor so that memory pressure is relieved even
// when no writes arrive.
func housekeeping(ctx context.Context, governor *cache.Governor) {
	ticker := time.NewTicker(housekeepingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage, err := governor.Manage(ctx)
			if err != nil {
				logger.Warnf(ctx, "cache housekeeping: %v", err)
				continue
			}
			logger.Debugf(ctx, "cache usage %.1f%%", usage*100)
		}
	}
}
