/**
 * Direct Redis Queue Consumer for the OCR worker
 *
 * Plain Redis LIST protocol for producers that do not speak Asynq:
 *   <queue>             LIST of job IDs (LPUSH by producers, BRPOP here)
 *   <queue>:data        HASH job ID -> RedisJobData JSON
 *   <queue>:processing  SET of running job IDs
 *   <queue>:completed   SET, results in <queue>:results
 *   <queue>:failed      SET, errors in <queue>:errors
 *   <queue>:events      PUB/SUB channel of job status events
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
)

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobEvent is published on <queue>:events for every status change.
type JobEvent struct {
	Event     string `json:"event"`
	JobID     string `json:"jobId"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// queueKeys names the Redis keys of one queue.
type queueKeys struct {
	list, data, processing, completed, failed, results, errors, events string
}

func keysFor(queue string) queueKeys {
	return queueKeys{
		list:       queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client  *redis.Client
	handler *JobHandler
	config  *RedisConsumerConfig
	keys    queueKeys
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Handler     *JobHandler
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "ocr:documents"
	}

	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:  client,
		handler: cfg.Handler,
		config:  cfg,
		keys:    keysFor(cfg.QueueName),
		ctx:     consumerCtx,
		cancel:  cancel,
		logger:  logging.NewLogger("queue"),
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop cancels the workers, waits for running jobs and closes the client
func (c *RedisConsumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("Workers did not stop before shutdown deadline")
	}
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Error("Worker error", "worker", id, "error", err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]

	raw, err := c.client.HGet(c.ctx, c.keys.data, id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(context.WithoutCancel(c.ctx), id, err)
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	// Running jobs and their bookkeeping finish even while the consumer is stopping.
	ctx := context.WithoutCancel(c.ctx)
	c.markProcessing(ctx, job.ID)

	jobResult, err := c.handler.Handle(ctx, &job.Payload)
	if err != nil {
		job.Attempts++
		if Retryable(err) && job.Attempts < job.MaxRetries {
			updated, _ := json.Marshal(job)
			pipe := c.client.TxPipeline()
			pipe.HSet(ctx, c.keys.data, job.ID, updated)
			pipe.SRem(ctx, c.keys.processing, job.ID)
			pipe.LPush(ctx, c.keys.list, job.ID)
			if _, perr := pipe.Exec(ctx); perr != nil {
				c.logger.Error("Failed to re-queue job", "job", job.ID, "error", perr)
			}
			c.logger.Warn("Job re-queued for retry", "job", job.ID, "attempt", job.Attempts, "max_retries", job.MaxRetries)
			return nil
		}
		c.markFailed(ctx, job.ID, err)
		return nil
	}

	c.markCompleted(ctx, job.ID, jobResult)
	return nil
}

func (c *RedisConsumer) markProcessing(ctx context.Context, id string) {
	c.client.SAdd(ctx, c.keys.processing, id)
	c.publish(ctx, JobEvent{Event: "job:processing", JobID: id})
}

func (c *RedisConsumer) markCompleted(ctx context.Context, id string, result *JobResult) {
	data, _ := json.Marshal(result)
	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.keys.processing, id)
	pipe.SAdd(ctx, c.keys.completed, id)
	pipe.HSet(ctx, c.keys.results, id, data)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to mark job completed", "job", id, "error", err)
	}
	c.publish(ctx, JobEvent{Event: "job:completed", JobID: id})
}

func (c *RedisConsumer) markFailed(ctx context.Context, id string, cause error) {
	data, _ := json.Marshal(map[string]interface{}{"error": cause.Error()})
	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.keys.processing, id)
	pipe.SAdd(ctx, c.keys.failed, id)
	pipe.HSet(ctx, c.keys.errors, id, data)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to mark job failed", "job", id, "error", err)
	}
	c.publish(ctx, JobEvent{Event: "job:failed", JobID: id, Error: cause.Error()})
}

func (c *RedisConsumer) publish(ctx context.Context, event JobEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, _ := json.Marshal(event)
	if err := c.client.Publish(ctx, c.keys.events, data).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "job", event.JobID, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, c.client, c.keys)
}

func queueStats(ctx context.Context, client *redis.Client, keys queueKeys) (map[string]int64, error) {
	pipe := client.Pipeline()
	waiting := pipe.LLen(ctx, keys.list)
	processing := pipe.SCard(ctx, keys.processing)
	completed := pipe.SCard(ctx, keys.completed)
	failed := pipe.SCard(ctx, keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
