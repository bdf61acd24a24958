package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/restq/internal/api"
	"github.com/SirClappington/restq/internal/config"
	"github.com/SirClappington/restq/internal/dispatch"
	"github.com/SirClappington/restq/internal/logging"
	"github.com/SirClappington/restq/internal/metrics"
	"github.com/SirClappington/restq/internal/realm"
	"github.com/SirClappington/restq/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := realm.NewRegistry(store,
		realm.WithRegistryLogger(log.Named("realm")),
		realm.WithRealmDefaultLeaseTime(cfg.Realms.DefaultLeaseDuration()),
		realm.WithLoadConcurrency(cfg.Realms.LoadConcurrency),
	)
	if err := reg.Attach(ctx, store); err != nil {
		return fmt.Errorf("load realms: %w", err)
	}

	m := metrics.New(reg)
	srv := api.New(reg, dispatch.New(reg, dispatch.WithLogger(log.Named("dispatch"))),
		api.WithLogger(log.Named("http")),
		api.WithMetrics(m),
		api.WithReadiness(storage.Healthcheck(store)),
		api.WithMaxBodyBytes(cfg.WebApp.MaxBodyBytes),
	)

	httpSrv := &http.Server{
		Addr:         cfg.WebApp.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.WebApp.ReadTimeout,
		WriteTimeout: cfg.WebApp.WriteTimeout,
		IdleTimeout:  cfg.WebApp.IdleTimeout,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.WebApp.Addr), zap.String("backend", cfg.Storage.Backend))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WebApp.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// openStore connects the configured realm config backend. The returned func
// releases its connections.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (realm.ConfigStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := storage.ConnectPostgres(ctx, storage.PostgresConfig{
			DSN:           cfg.Storage.PostgresDSN,
			MaxConns:      cfg.Storage.PostgresMaxConn,
			RetryAttempts: cfg.Storage.RetryAttempts,
			RetryInterval: cfg.Storage.RetryInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		db := storage.OpenDB(pool)
		if err := storage.Migrate(ctx, db, cfg.Storage.MigrationsTable, log.Named("goose")); err != nil {
			_ = db.Close()
			pool.Close()
			return nil, nil, err
		}
		return storage.NewPostgresStore(db), func() {
			_ = db.Close()
			pool.Close()
		}, nil

	case config.BackendRedis:
		rdb, err := storage.ConnectRedis(ctx, storage.RedisConfig{
			URL:            cfg.Storage.RedisURL,
			RetryAttempts:  cfg.Storage.RetryAttempts,
			RetryInterval:  cfg.Storage.RetryInterval,
			ConnectTimeout: cfg.Storage.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(rdb, cfg.Storage.RedisPrefix), func() { _ = rdb.Close() }, nil

	default:
		store, err := storage.NewFileStore(cfg.Realms.ConfigRoot)
		if err != nil {
			return nil, nil, err
		}
		log.Info("realm configs on disk", zap.String("root", store.Root()))
		return store, func() {}, nil
	}
}
