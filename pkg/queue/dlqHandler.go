package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// DLQHandler keeps tasks that exhausted their retries
type DLQHandler interface {
	HandleFailedTask(ctx context.Context, task *Task, err error)
	GetFailedTasks(ctx context.Context, limit int) ([]*FailedTask, error)
	RequeueFailedTask(ctx context.Context, taskID string) error
}

// FailedTask represents a task that failed execution
type FailedTask struct {
	Task     *Task     `json:"task"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Attempts int       `json:"attempts"`
}

// RedisDLQHandler stores failed tasks in a sorted set scored by failure time
type RedisDLQHandler struct {
	client    *redis.Client
	dlq       string
	mainQueue string
}

func NewRedisDLQHandler(client *redis.Client, dlq, mainQueue string) *RedisDLQHandler {
	return &RedisDLQHandler{
		client:    client,
		dlq:       dlq,
		mainQueue: mainQueue,
	}
}

func (d *RedisDLQHandler) HandleFailedTask(ctx context.Context, task *Task, err error) {
	failedTask := &FailedTask{
		Task:     task,
		Error:    err.Error(),
		FailedAt: time.Now(),
		Attempts: task.Attempts,
	}

	taskData, marshalErr := json.Marshal(failedTask)
	if marshalErr != nil {
		logrus.WithError(marshalErr).Error("Failed to marshal failed task")
		return
	}

	score := float64(failedTask.FailedAt.UnixNano()) / 1e9
	if redisErr := d.client.ZAdd(ctx, d.dlq, &redis.Z{Score: score, Member: taskData}).Err(); redisErr != nil {
		logrus.WithFields(logrus.Fields{
			"task_id": task.ID,
			"error":   redisErr,
		}).Error("Failed to send task to DLQ")
		return
	}

	logrus.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"type":     task.Type,
		"attempts": task.Attempts,
		"error":    err,
	}).Warn("Task moved to DLQ")
}

// GetFailedTasks returns failed tasks, newest first
func (d *RedisDLQHandler) GetFailedTasks(ctx context.Context, limit int) ([]*FailedTask, error) {
	if limit <= 0 {
		limit = 50
	}

	tasks, err := d.client.ZRevRangeByScore(ctx, d.dlq, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed tasks: %w", err)
	}

	failedTasks := make([]*FailedTask, 0, len(tasks))
	for _, taskData := range tasks {
		var failedTask FailedTask
		if err := json.Unmarshal([]byte(taskData), &failedTask); err != nil {
			logrus.WithError(err).Warn("Skipping malformed DLQ entry")
			continue
		}
		failedTasks = append(failedTasks, &failedTask)
	}

	return failedTasks, nil
}

// RequeueFailedTask moves a failed task back to the main queue with a fresh attempt budget
func (d *RedisDLQHandler) RequeueFailedTask(ctx context.Context, taskID string) error {
	entries, err := d.client.ZRange(ctx, d.dlq, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get DLQ tasks: %w", err)
	}

	for _, entry := range entries {
		var failedTask FailedTask
		if err := json.Unmarshal([]byte(entry), &failedTask); err != nil || failedTask.Task == nil {
			continue
		}
		if failedTask.Task.ID != taskID {
			continue
		}

		failedTask.Task.Attempts = 0
		failedTask.Task.LastError = ""
		failedTask.Task.ExecuteAt = time.Now()

		taskData, err := json.Marshal(failedTask.Task)
		if err != nil {
			return fmt.Errorf("failed to marshal task for requeue: %w", err)
		}

		pipe := d.client.TxPipeline()
		pipe.LPush(ctx, d.mainQueue, taskData)
		pipe.ZRem(ctx, d.dlq, entry)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to requeue task: %w", err)
		}

		logrus.WithField("task_id", taskID).Info("Task requeued from DLQ")
		return nil
	}

	return ErrTaskNotFound
}
