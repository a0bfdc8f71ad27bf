package queue

import (
	"context"
)

// Handler processes one task. Returning an error marked with Permanent sends
// the task straight to the dead letter queue.
type Handler func(ctx context.Context, task *Task) error

// Queue is a task queue with delayed delivery
type Queue interface {
	Publish(ctx context.Context, task *Task) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
