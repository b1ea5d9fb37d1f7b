package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ingestq/internal/api"
	"ingestq/internal/cluster"
	"ingestq/internal/config"
	"ingestq/internal/gateway"
	"ingestq/internal/lockbox"
	"ingestq/internal/queue"
	"ingestq/internal/runner"
	"ingestq/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open task storage")
	}
	defer closeStore()

	taskQueue := buildQueue(cfg, store)
	if err := taskQueue.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("start task queue")
	}

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger())
	api.New(taskQueue).RegisterRoutes(router)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()
	gracefulShutdown(srv, taskQueue, shutdownTimeout)
}

func buildStore(cfg config.Config) (storage.TaskStore, func(), error) {
	if cfg.Storage == "memory" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	sqlStore, err := storage.OpenSQL(filepath.Join(cfg.DataDir, "ledger.db"))
	if err != nil {
		return nil, nil, err
	}
	return sqlStore, func() { _ = sqlStore.Close() }, nil
}

func buildQueue(cfg config.Config, store storage.TaskStore) *queue.Queue {
	lb := lockbox.New(store)
	meta := cluster.NewMetaStore()
	deep := cluster.NewLocalDeepStorage(filepath.Join(cfg.DataDir, "deepstore"))
	view := cluster.NewLocalView()
	gw := gateway.New(store, lb, meta, deep)
	r := runner.New(runner.Options{
		Slots:   cfg.MaxConcurrentTasks,
		WorkDir: filepath.Join(cfg.DataDir, "work"),
	}, gw, deep, view, nil)
	return queue.New(store, lb, r, queue.Options{
		SyncInterval: time.Duration(cfg.SyncIntervalSec) * time.Second,
	})
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, q *queue.Queue, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}
	if err := q.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("task queue stop warning")
	}
	log.Info().Msg("coordinator exited cleanly")
}
