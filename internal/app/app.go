package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/metdatasystem/orders-relay/internal/config"
	"github.com/metdatasystem/orders-relay/internal/relay"
	"github.com/metdatasystem/orders-relay/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Where the relay metrics are registered.
var registerer prometheus.Registerer = prometheus.DefaultRegisterer

// The relay with the resources it holds.
type runtime struct {
	cfg       *config.Config
	store     relay.Store
	processor *relay.Processor
	closers   []func() error
}

// Loads the configuration and builds the processor. A dry run always uses the memory store.
func setup(ctx context.Context, logLevel zerolog.Level, dryRun bool) (*runtime, error) {
	zerolog.SetGlobalLevel(logLevel)

	var overrides []config.Override
	if dryRun {
		overrides = append(overrides, config.DryRun)
	}

	cfg, err := config.Load(overrides...)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}

	rt.processor = relay.New(rt.store,
		relay.WithTable(cfg.Table),
		relay.WithLogger(log.Logger),
		relay.WithHealth(relay.NewHealth(registerer)),
	)

	log.Info().Str("store", cfg.Store).Str("table", cfg.Table).Str("failure_mode", string(cfg.FailureMode)).
		Msg("relay initialised")

	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	switch rt.cfg.Store {
	case config.StoreDynamoDB:
		client, err := store.NewDynamoDBClient(ctx, rt.cfg.DynamoDBEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialise dynamodb client: %w", err)
		}
		rt.store = store.NewDynamoDB(client)
	case config.StorePostgres:
		pool, err := store.NewDatabasePool(ctx, rt.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialise database: %w", err)
		}
		rt.closers = append(rt.closers, func() error {
			pool.Close()
			return nil
		})
		rt.store = store.NewPostgres(pool, rt.cfg.KeyAttributes...)
	case config.StoreMemory:
		rt.store = store.NewMemory(rt.cfg.KeyAttributes...)
	}
	return nil
}

func (rt *runtime) close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	return err
}

// Serves the prometheus metrics until the context is done. An empty address disables it.
func (rt *runtime) serveMetrics(ctx context.Context) {
	if rt.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              rt.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", rt.cfg.MetricsAddr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
