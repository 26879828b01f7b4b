package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueJobs is the Redis list key for pipeline jobs.
	QueueJobs = "reelsmith:jobs"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "reelsmith:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// pollTimeout bounds one blocking pop so the consumer notices shutdown.
	pollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeEnsureAssets    JobType = "ensure_assets"
	JobTypeRegenerateScene JobType = "regenerate_scene"
	JobTypeRender          JobType = "render"
)

// VideoPayload is the payload of every pipeline job. Token is the run token stamped
// when the run was claimed.
type VideoPayload struct {
	VideoID uuid.UUID `json:"video_id"`
	Token   string    `json:"token"`
	Scene   *int      `json:"scene,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// VideoPayload decodes the job payload.
func (j *Job) VideoPayload() (VideoPayload, error) {
	var p VideoPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

// NewJob builds a job envelope for payload.
func NewJob(t JobType, payload VideoPayload) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue pushes a pipeline job.
func (q *Queue) Enqueue(ctx context.Context, t JobType, payload VideoPayload) error {
	job, err := NewJob(t, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job",
		zap.String("job_id", job.ID),
		zap.String("type", string(t)),
		zap.String("video_id", payload.VideoID.String()),
	)
	return nil
}

// Dequeue blocks until a job is available, the poll times out or ctx is done. A nil job
// with a nil error means nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, pollTimeout, QueueJobs).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Stats reports the pending and dead-lettered job counts.
type Stats struct {
	Pending      int64 `json:"pending"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Stats returns the current queue lengths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, QueueJobs)
	dead := pipe.LLen(ctx, QueueDLQ)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), DeadLettered: dead.Val()}, nil
}

// DeadLetters returns up to limit jobs from the DLQ, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]*Job, error) {
	raws, err := q.client.LRange(ctx, QueueDLQ, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange dlq: %w", err)
	}
	jobs := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Warn("invalid dlq entry", zap.String("raw", raw), zap.Error(err))
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// ErrJobNotFound is returned by Requeue when the DLQ holds no job with the given id.
var ErrJobNotFound = errors.New("job not found in dead-letter queue")

// Requeue moves a dead-lettered job back onto the work queue with its attempt count reset.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	raws, err := q.client.LRange(ctx, QueueDLQ, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("lrange dlq: %w", err)
	}
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil || job.ID != jobID {
			continue
		}
		job.Attempt = 0
		fresh, err := json.Marshal(job)
		if err != nil {
			return err
		}
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, QueueDLQ, 1, raw)
		pipe.RPush(ctx, QueueJobs, fresh)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("requeue %s: %w", jobID, err)
		}
		q.logger.Info("job requeued from DLQ", zap.String("job_id", jobID), zap.String("type", string(job.Type)))
		return nil
	}
	return ErrJobNotFound
}
