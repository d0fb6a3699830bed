package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Producer submits document jobs.
type Producer interface {
	Enqueue(ctx context.Context, payload *JobPayload) (string, error)
	Close() error
}

// ProducerConfig selects the backend and its options.
type ProducerConfig struct {
	Backend    string // "asynq" or "redis"
	RedisURL   string
	QueueName  string
	MaxRetries int
	Timeout    time.Duration // asynq task timeout; zero leaves the asynq default
}

// NewProducer creates a producer for the configured backend.
func NewProducer(cfg *ProducerConfig) (Producer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	switch cfg.Backend {
	case "", "asynq":
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		return &AsynqProducer{client: asynq.NewClient(redisOpt), config: cfg}, nil
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		return &RedisProducer{client: redis.NewClient(opt), keys: keysFor(cfg.QueueName), config: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// AsynqProducer enqueues document:process tasks.
type AsynqProducer struct {
	client *asynq.Client
	config *ProducerConfig
}

// NewProcessDocumentTask builds the asynq task for a payload.
func NewProcessDocumentTask(payload *JobPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeProcessDocument, data, opts...), nil
}

// Enqueue implements Producer. The job ID doubles as the asynq task ID, so
// resubmitting a job that is still queued fails.
func (p *AsynqProducer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	opts := []asynq.Option{
		asynq.Queue(p.config.QueueName),
		asynq.MaxRetry(p.config.MaxRetries),
		asynq.TaskID(payload.JobID),
		asynq.Retention(24 * time.Hour),
	}
	if p.config.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.config.Timeout))
	}
	task, err := NewProcessDocumentTask(payload, opts...)
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info.ID, nil
}

// Close implements Producer.
func (p *AsynqProducer) Close() error {
	return p.client.Close()
}

// RedisProducer writes jobs in the plain Redis LIST protocol.
type RedisProducer struct {
	client *redis.Client
	keys   queueKeys
	config *ProducerConfig
}

// Enqueue implements Producer.
func (p *RedisProducer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeProcessDocument,
		Payload:    *payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: p.config.MaxRetries + 1,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.keys.data, job.ID, data)
	pipe.LPush(ctx, p.keys.list, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Stats returns the queue counters.
func (p *RedisProducer) Stats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, p.client, p.keys)
}

// Close implements Producer.
func (p *RedisProducer) Close() error {
	return p.client.Close()
}
