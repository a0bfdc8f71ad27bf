package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries      = 3
	defaultBaseDelay       = 5 * time.Second
	defaultPollTimeout     = 5 * time.Second
	defaultDelayedInterval = 10 * time.Second
)

var (
	ErrQueueClosed  = errors.New("queue is closed")
	ErrTaskNotFound = errors.New("task not found in DLQ")
)

// RedisQueueConfig contains configuration for RedisQueue
type RedisQueueConfig struct {
	MainQueue       string
	DelayedQueue    string
	ProcessingQueue string
	DLQ             string

	MaxRetries      int
	BaseDelay       time.Duration
	PollTimeout     time.Duration
	DelayedInterval time.Duration
}

func (c *RedisQueueConfig) setDefaults() {
	if c.MainQueue == "" {
		c.MainQueue = "studio_booking:tasks"
	}
	if c.DelayedQueue == "" {
		c.DelayedQueue = c.MainQueue + ":delayed"
	}
	if c.ProcessingQueue == "" {
		c.ProcessingQueue = c.MainQueue + ":processing"
	}
	if c.DLQ == "" {
		c.DLQ = "studio_booking:dlq"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.DelayedInterval <= 0 {
		c.DelayedInterval = defaultDelayedInterval
	}
}

// RedisQueue keeps ready tasks in a list and delayed tasks in a sorted set
// scored by execution time. A task being handled sits in the processing list
// until its handler returns.
type RedisQueue struct {
	client       *redis.Client
	cfg          RedisQueueConfig
	retryManager *RetryManager
	dlqHandler   DLQHandler

	mu       sync.Mutex
	closed   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRedisQueue creates a queue on an existing client. A nil dlqHandler
// stores failed tasks in cfg.DLQ.
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig, dlqHandler DLQHandler) *RedisQueue {
	cfg.setDefaults()
	if dlqHandler == nil {
		dlqHandler = NewRedisDLQHandler(client, cfg.DLQ, cfg.MainQueue)
	}

	logrus.WithFields(logrus.Fields{
		"main":    cfg.MainQueue,
		"delayed": cfg.DelayedQueue,
		"dlq":     cfg.DLQ,
	}).Info("Redis queue initialized")

	return &RedisQueue{
		client:       client,
		cfg:          cfg,
		retryManager: NewRetryManager(cfg.MaxRetries, cfg.BaseDelay),
		dlqHandler:   dlqHandler,
		stopChan:     make(chan struct{}),
	}
}

func (r *RedisQueue) DLQ() DLQHandler {
	return r.dlqHandler
}

// Publish sends a task to the queue
func (r *RedisQueue) Publish(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if r.isClosed() {
		return ErrQueueClosed
	}

	r.applyDefaults(task)
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if task.ExecuteAt.After(time.Now()) {
		err = r.client.ZAdd(ctx, r.cfg.DelayedQueue, &redis.Z{
			Score:  score(task.ExecuteAt),
			Member: taskData,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to publish delayed task: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"task_id":    task.ID,
			"type":       task.Type,
			"execute_at": task.ExecuteAt.Format(time.RFC3339),
		}).Debug("Task scheduled")
		return nil
	}

	if err := r.client.LPush(ctx, r.cfg.MainQueue, taskData).Err(); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"type":    task.Type,
	}).Debug("Task published")
	return nil
}

// Subscribe starts consuming tasks until ctx is done or the queue is closed.
// Tasks left in the processing list by a crashed consumer are requeued first.
func (r *RedisQueue) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if r.isClosed() {
		return ErrQueueClosed
	}

	if err := r.recoverProcessing(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to recover in-flight tasks")
	}

	r.wg.Add(2)
	go r.processDelayedTasks(ctx)
	go r.processMainQueue(ctx, handler)

	logrus.Info("Redis queue subscriber started")
	return nil
}

// Close stops the consumers and waits for the task in hand to finish
func (r *RedisQueue) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
	logrus.Info("Redis queue closed")
	return nil
}

func (r *RedisQueue) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RedisQueue) processMainQueue(ctx context.Context, handler Handler) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		default:
		}

		if err := r.processNext(ctx, handler); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("Failed to process task")
			time.Sleep(time.Second)
		}
	}
}

// processNext handles one task from the main queue
func (r *RedisQueue) processNext(ctx context.Context, handler Handler) error {
	taskData, err := r.client.BRPopLPush(ctx, r.cfg.MainQueue, r.cfg.ProcessingQueue, r.cfg.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to move task to processing queue: %w", err)
	}

	defer func() {
		if err := r.client.LRem(context.WithoutCancel(ctx), r.cfg.ProcessingQueue, 1, taskData).Err(); err != nil {
			logrus.WithError(err).Warn("Failed to remove task from processing queue")
		}
	}()

	var task Task
	if err := json.Unmarshal([]byte(taskData), &task); err != nil {
		corrupted := &Task{
			ID:        "corrupted_" + uuid.NewString(),
			Type:      "corrupted",
			Data:      map[string]interface{}{"raw_data": taskData},
			CreatedAt: time.Now(),
		}
		r.dlqHandler.HandleFailedTask(ctx, corrupted, fmt.Errorf("invalid task format: %w", err))
		return nil
	}

	r.execute(ctx, &task, handler)
	return nil
}

// execute runs the handler once. A retryable failure goes back to the
// delayed set instead of blocking the consumer.
func (r *RedisQueue) execute(ctx context.Context, task *Task, handler Handler) {
	task.Attempts++
	log := logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"type":    task.Type,
		"attempt": task.Attempts,
	})

	err := handler(ctx, task)
	if err == nil {
		log.Debug("Task completed")
		return
	}

	task.LastError = err.Error()
	retry, delay := r.retryManager.ShouldRetry(task, err)
	if !retry {
		r.dlqHandler.HandleFailedTask(ctx, task, err)
		return
	}

	task.ExecuteAt = time.Now().Add(delay)
	if pubErr := r.Publish(context.WithoutCancel(ctx), task); pubErr != nil {
		log.WithError(pubErr).Error("Failed to reschedule task")
		r.dlqHandler.HandleFailedTask(ctx, task, err)
		return
	}
	log.WithFields(logrus.Fields{"delay": delay, "error": err}).Warn("Task failed, rescheduled")
}

func (r *RedisQueue) processDelayedTasks(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.DelayedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.moveReadyDelayedTasks(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("Failed to move delayed tasks")
			}
		}
	}
}

// moveReadyDelayedTasks moves due tasks to the main queue. ZRem decides
// which consumer moves a task when several run at once.
func (r *RedisQueue) moveReadyDelayedTasks(ctx context.Context) error {
	tasks, err := r.client.ZRangeByScore(ctx, r.cfg.DelayedQueue, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(score(time.Now()), 'f', -1, 64),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to get delayed tasks: %w", err)
	}

	moved := 0
	for _, taskData := range tasks {
		removed, err := r.client.ZRem(ctx, r.cfg.DelayedQueue, taskData).Result()
		if err != nil {
			return fmt.Errorf("failed to claim delayed task: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.cfg.MainQueue, taskData).Err(); err != nil {
			return fmt.Errorf("failed to move delayed task: %w", err)
		}
		moved++
	}

	if moved > 0 {
		logrus.WithField("count", moved).Debug("Moved delayed tasks to main queue")
	}
	return nil
}

func (r *RedisQueue) recoverProcessing(ctx context.Context) error {
	for {
		err := r.client.RPopLPush(ctx, r.cfg.ProcessingQueue, r.cfg.MainQueue).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *RedisQueue) applyDefaults(task *Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = r.cfg.MaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
