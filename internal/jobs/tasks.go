// Package jobs runs the background pipeline on asynq: per-photo metadata
// processing and debounced per-group cluster reconciliation.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names, also visible in asynq's monitoring tools.
const (
	TypeProcessPhoto = "photo:process"
	TypeClusterGroup = "cluster:reconcile"
)

// Queue names. Cluster jobs get their own queue so a backlog of photo
// processing cannot delay reconciliation.
const (
	QueueDefault = "default"
	QueueCluster = "cluster"
)

// processMaxRetry is how many times a failed process job is retried before the
// photo is marked permanently failed.
const processMaxRetry = 3

// ProcessPhotoPayload identifies the photo a process job works on.
type ProcessPhotoPayload struct {
	PhotoID uuid.UUID `json:"photo_id"`
}

// ClusterGroupPayload identifies a scheduled cluster job. JobID is the value
// stored under the debounce job key; Attempt counts reschedules of this job
// and rides in the payload because the debounce protocol keeps no per-attempt
// state in the KV store.
type ClusterGroupPayload struct {
	GroupID uuid.UUID `json:"group_id"`
	JobID   string    `json:"job_id"`
	Attempt int       `json:"attempt"`
}

// Queue enqueues pipeline tasks. It implements debounce.Enqueuer.
type Queue struct {
	client         *asynq.Client
	processTimeout time.Duration
	clusterTimeout time.Duration
}

// NewQueue wraps an asynq client with the configured per-task timeouts.
func NewQueue(client *asynq.Client, processTimeout, clusterTimeout time.Duration) *Queue {
	return &Queue{
		client:         client,
		processTimeout: processTimeout,
		clusterTimeout: clusterTimeout,
	}
}

// EnqueueProcessPhoto schedules metadata extraction for one uploaded photo.
func (q *Queue) EnqueueProcessPhoto(ctx context.Context, photoID uuid.UUID) error {
	payload, err := json.Marshal(ProcessPhotoPayload{PhotoID: photoID})
	if err != nil {
		return fmt.Errorf("marshal process payload: %w", err)
	}
	_, err = q.client.EnqueueContext(ctx,
		asynq.NewTask(TypeProcessPhoto, payload),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(processMaxRetry),
		asynq.Timeout(q.processTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue process job for photo %s: %w", photoID, err)
	}
	return nil
}

// EnqueueClusterJob schedules a delayed cluster reconciliation. Retries are
// disabled at the queue level: the debounce protocol owns rescheduling, and a
// failed run self-heals through the job key TTL plus the next upload.
func (q *Queue) EnqueueClusterJob(ctx context.Context, groupID uuid.UUID, jobID string, attempt int, delay time.Duration) error {
	payload, err := json.Marshal(ClusterGroupPayload{GroupID: groupID, JobID: jobID, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("marshal cluster payload: %w", err)
	}
	_, err = q.client.EnqueueContext(ctx,
		asynq.NewTask(TypeClusterGroup, payload),
		asynq.Queue(QueueCluster),
		asynq.MaxRetry(0),
		asynq.Timeout(q.clusterTimeout),
		asynq.ProcessIn(delay),
	)
	if err != nil {
		return fmt.Errorf("enqueue cluster job for group %s: %w", groupID, err)
	}
	return nil
}
