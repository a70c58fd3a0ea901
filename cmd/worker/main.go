// Command worker runs the background ingestion process: it dequeues
// extract/index jobs from the durable Redis queue and dispatches them to
// internal/ingest, bounding concurrency with an errgroup semaphore, and
// runs a cron-scheduled sweep releasing stale budget reservations.
// Grounded on worker/main.py's queue-consumer loop and
// worker/jobs/maintenance.py's scheduled stale-reservation sweep.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/config"
	"github.com/pixell07/ragserve/internal/embedding"
	"github.com/pixell07/ragserve/internal/ingest"
	"github.com/pixell07/ragserve/internal/queue"
	"github.com/pixell07/ragserve/internal/storage"
)

const (
	documentQueueKey  = "ragserve:documents"
	maxConcurrentJobs = 8
	dequeueTimeout    = 5 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	store, err := storage.NewStore(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
	if err != nil {
		slog.Error("failed to init object store", "error", err)
		os.Exit(1)
	}

	embedder := embedding.NewOpenAIEmbedder(cfg.LLMAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	ledger := budget.NewLedger(pool, cfg.DailyTokenLimit)
	q := queue.New(redisClient, documentQueueKey)

	pipeline, err := ingest.NewPipeline(ctx, pool, store, embedder, ledger, q)
	if err != nil {
		slog.Error("failed to init ingestion pipeline", "error", err)
		os.Exit(1)
	}

	c := cron.New()
	if _, err := c.AddFunc("*/5 * * * *", func() {
		released, err := ledger.ReleaseStaleReservations(ctx, cfg.ReservationTTL())
		if err != nil {
			slog.Error("stale reservation sweep failed", "error", err)
			return
		}
		if released > 0 {
			slog.Info("released stale reservations", "tokens", released)
		}
	}); err != nil {
		slog.Error("failed to schedule maintenance sweep", "error", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	slog.Info("worker started", "queue", documentQueueKey, "max_concurrent_jobs", maxConcurrentJobs)

	sem := make(chan struct{}, maxConcurrentJobs)
	g, gctx := errgroup.WithContext(ctx)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		default:
		}

		job, ok, err := q.Dequeue(gctx, dequeueTimeout)
		if err != nil {
			if gctx.Err() != nil {
				break loop
			}
			slog.Error("dequeue failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			runJob(gctx, pipeline, job)
			return nil
		})
	}

	_ = g.Wait()
	slog.Info("worker stopped")
}

func runJob(ctx context.Context, pipeline *ingest.Pipeline, job queue.Job) {
	var err error
	switch job.Type {
	case queue.JobExtract:
		err = pipeline.Extract(ctx, job)
	case queue.JobIndex:
		err = pipeline.Index(ctx, job)
	default:
		slog.Warn("unknown job type", "type", job.Type)
		return
	}
	if err != nil {
		slog.Error("job failed", "type", job.Type, "document_id", job.DocumentID, "error", err)
	}
}
