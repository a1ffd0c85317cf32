package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ougirez/cmregistry/internal/pkg/cache"
	"github.com/ougirez/cmregistry/internal/pkg/config"
	"github.com/ougirez/cmregistry/internal/pkg/logger"
	"github.com/ougirez/cmregistry/internal/pkg/metrics"
	"github.com/ougirez/cmregistry/internal/pkg/store"
	"github.com/ougirez/cmregistry/internal/pkg/store/xpgx"
)

const (
	exitFailure = 1
	exitPartial = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

var (
	configFile string
	logLevel   string
	devLogs    bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:           "registry",
		Short:         "Capacity Market registry search portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logLevel, devLogs); err != nil {
				return &exitError{code: exitFailure, err: fmt.Errorf("logger.Init: %w", err)}
			}
			var err error
			if cfg, err = config.Load(viper.New(), configFile); err != nil {
				return &exitError{code: exitFailure, err: err}
			}
			metrics.Init(prometheus.DefaultRegisterer)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file; environment variables take precedence")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev", false, "human readable logs")

	rootCmd.AddCommand(serveCmd, rebuildCmd, migrateCmd, cacheCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		code := exitFailure
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Sync()
		os.Exit(code)
	}
}

// deps are the connections shared by the commands.
type deps struct {
	pool     *xpgx.PgPool
	store    store.Store
	redis    *redis.Client
	governor *cache.Governor
}

func connectDB(ctx context.Context) (*xpgx.PgPool, store.Store, error) {
	pool, err := xpgx.New(ctx, cfg.DatabaseURL, cfg.DBTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("xpgx.New: %w", err)
	}
	return pool, store.NewStore(pool), nil
}

func connectCache() (*redis.Client, *cache.Governor, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, &exitError{code: exitFailure, err: fmt.Errorf("redis.ParseURL: %w", err)}
	}
	opts.DialTimeout = cfg.RedisTimeout
	opts.ReadTimeout = cfg.RedisTimeout
	opts.WriteTimeout = cfg.RedisTimeout

	client := redis.NewClient(opts)
	governor := cache.NewGovernor(cache.NewRedisBackend(client), cache.Options{
		Mode:            cache.ModeFromFlags(cfg.Cache.EmergencyMode, cfg.Cache.MinimalCache),
		DisableMapCache: cfg.Cache.DisableMapCache,
		MaxMemoryBytes:  cfg.Cache.MaxMemoryBytes,
		Timeout:         cfg.RedisTimeout,
	})
	return client, governor, nil
}

func connect(ctx context.Context) (*deps, error) {
	pool, s, err := connectDB(ctx)
	if err != nil {
		return nil, err
	}
	client, governor, err := connectCache()
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Infof(ctx, "cache mode %s", governor.Mode())
	return &deps{pool: pool, store: s, redis: client, governor: governor}, nil
}

func (d *deps) Close() {
	if err := d.redis.Close(); err != nil {
		logger.Warnf(context.Background(), "redis close: %v", err)
	}
	d.pool.Close()
}
