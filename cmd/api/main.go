// Command api serves the photo timeline HTTP API: uploads in, timelines out.
// Background processing runs in the separate worker command.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/phototimeline/server/internal/api"
	"github.com/phototimeline/server/internal/config"
	"github.com/phototimeline/server/internal/debounce"
	"github.com/phototimeline/server/internal/ingest"
	"github.com/phototimeline/server/internal/jobs"
	"github.com/phototimeline/server/internal/monitoring"
	"github.com/phototimeline/server/internal/photodb"
	"github.com/phototimeline/server/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		log.Fatalf("create storage root: %v", err)
	}
	store, err := storage.New(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	if err := photodb.MigrateUp(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := photodb.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asynqClient.Close()
	queue := jobs.NewQueue(asynqClient, cfg.ProcessJobTimeout, cfg.ClusterJobTimeout)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	coordinator := debounce.NewCoordinator(debounce.NewRedisKV(rdb), queue, debounce.Options{
		DebounceTTL: cfg.DebounceTTL,
		RetryDelay:  cfg.RetryDelay,
		MaxRetries:  cfg.MaxRetries,
	})

	uploader := ingest.New(db, store, queue, coordinator, cfg.MaxUploadBytes)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(uploader, db, cfg.MaxUploadBytes).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("shutdown: %v", err)
		}
	}()

	monitoring.Logf("api listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
