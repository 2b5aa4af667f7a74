// Command server runs the address register: the temporal entity store,
// its HTTP surface and the background push worker.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"addrreg/internal/events"
	"addrreg/internal/platform/config"
	"addrreg/internal/platform/httpserver"
	"addrreg/internal/platform/logger"
	"addrreg/internal/platform/metrics"
	"addrreg/internal/platform/middleware"
	redisclient "addrreg/internal/platform/redis"
	"addrreg/internal/registry/cache"
	"addrreg/internal/registry/handler"
	"addrreg/internal/registry/models"
	"addrreg/internal/registry/service"
	"addrreg/internal/sync"
	"addrreg/internal/temporal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()
	schemas := models.Schemas()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		temporalStore temporal.Store
		eventStore    events.Store
		txBoundary    service.StoreTx
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		temporalStore = temporal.NewPostgres(db, schemas)
		eventStore = events.NewPostgres(db)
		txBoundary = newPostgresTx(db)
		log.Info("using postgres stores")
	} else {
		mt := temporal.NewMemory()
		me := events.NewMemory()
		temporalStore = mt
		eventStore = me
		txBoundary = service.NewMemoryTx(mt, me)
		log.Info("using in-memory stores")
	}

	redisClient, err := redisclient.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	checksumCache := cache.New(nil, 0, log)
	if redisClient != nil {
		defer redisClient.Close()
		checksumCache = cache.New(redisClient.Client, 24*time.Hour, log)
		log.Info("registration content cache enabled")
	}

	eventService := events.NewService(eventStore, temporalStore, events.WithMetrics(m))

	var dest sync.Destination = sync.NullDestination{}
	if cfg.PushURL != "" {
		dest = sync.NewHTTPDestination(cfg.PushURL, cfg.PushTimeout)
	}

	// The worker wakes on committed mutations; it is assigned below, before
	// the server accepts traffic.
	var worker *sync.Worker
	registry := service.New(schemas, temporalStore, eventService, txBoundary, log,
		service.WithMetrics(m),
		service.WithNotify(func() {
			if worker != nil {
				worker.Wake()
			}
		}),
	)
	pusher := sync.NewPusher(eventService, registry, dest, log, m)
	worker = sync.NewWorker(pusher, sync.Options{Width: cfg.SyncWidth}, cfg.SyncInterval, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Timeout(30 * time.Second))
	handler.New(registry, eventService, checksumCache).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, r)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("push worker stopped", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
	<-workerDone
	return nil
}
