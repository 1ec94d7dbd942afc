// Command worker runs the background pipeline: per-photo metadata extraction
// and thumbnailing on the default queue, debounced per-group cluster
// reconciliation on the cluster queue.
package main

import (
	"context"
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/phototimeline/server/internal/config"
	"github.com/phototimeline/server/internal/debounce"
	"github.com/phototimeline/server/internal/exifmeta"
	"github.com/phototimeline/server/internal/jobs"
	"github.com/phototimeline/server/internal/monitoring"
	"github.com/phototimeline/server/internal/photodb"
	"github.com/phototimeline/server/internal/storage"
	"github.com/phototimeline/server/internal/version"
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

	db, err := photodb.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asynqClient.Close()
	queue := jobs.NewQueue(asynqClient, cfg.ProcessJobTimeout, cfg.ClusterJobTimeout)

	coordinator := debounce.NewCoordinator(debounce.NewRedisKV(rdb), queue, debounce.Options{
		DebounceTTL: cfg.DebounceTTL,
		RetryDelay:  cfg.RetryDelay,
		MaxRetries:  cfg.MaxRetries,
	})

	extractor := exifmeta.New()
	if !extractor.HEICSupported() {
		monitoring.Logf("exiftool not found, HEIC uploads will have no metadata")
	}

	processWorker := jobs.NewProcessWorker(db, extractor, store, coordinator, cfg.ThumbMaxEdge)
	clusterWorker := jobs.NewClusterWorker(db, coordinator, cfg.MeetingGap())

	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TypeProcessPhoto, processWorker.Handle)
	mux.HandleFunc(jobs.TypeClusterGroup, clusterWorker.Handle)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: 8,
			Queues: map[string]int{
				jobs.QueueDefault: 6,
				jobs.QueueCluster: 2,
			},
		},
	)

	monitoring.Logf("worker %s starting (gap %s, debounce %s)", version.Version, cfg.MeetingGap(), cfg.DebounceTTL)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
