// Package queue implements a durable Redis-list job queue for the
// extract -> index ingestion chain, replacing the teacher's in-process
// unbounded-lifetime buffered channel (internal/document.Service's old
// `jobs chan ingestJob` + fixed worker pool). Grounded on the BLPOP-based
// ingest queue in legal-gateway/worker.go (RPUSH by the producer, BLPOP
// by the worker, JSON job payloads).
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pixell07/ragserve/internal/apperr"
)

// Job names the two ingestion stages chained through the queue.
type Job struct {
	Type        string    `json:"type"` // "extract" or "index"
	WorkspaceID uuid.UUID `json:"workspace_id"`
	DocumentID  uuid.UUID `json:"document_id"`
}

const (
	JobExtract = "extract"
	JobIndex   = "index"
)

type Queue struct {
	redis *redis.Client
	key   string
}

func New(redisClient *redis.Client, key string) *Queue {
	return &Queue{redis: redisClient, key: key}
}

// Enqueue durably appends job to the list. The ingestion stages hand off
// by committing their own DB state, then enqueuing the next stage, so a
// worker crash between the two never loses the document's place in the
// pipeline beyond needing a manual retry.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return apperr.Internal("marshaling job", err)
	}
	if err := q.redis.RPush(ctx, q.key, payload).Err(); err != nil {
		return apperr.UpstreamUnavailable("enqueuing job", err)
	}
	return nil
}

// Dequeue blocks up to timeout waiting for a job. A zero timeout blocks
// indefinitely (matching go-redis's BLPOP semantics). Returns
// (Job{}, false, nil) on timeout with no job available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	result, err := q.redis.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, apperr.UpstreamUnavailable("dequeuing job", err)
	}
	if len(result) < 2 {
		return Job{}, false, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return Job{}, false, apperr.Internal("unmarshaling job", err)
	}
	return job, true, nil
}
