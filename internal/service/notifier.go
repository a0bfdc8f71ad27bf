package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/ds124wfegd/studio-booking/pkg/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier is the fire-and-forget notification dispatcher. Callers invoke it
// only after their transaction committed and never undo work on its errors.
type Notifier interface {
	Notify(ctx context.Context, n *entity.Notification) error
}

const notificationMaxRetries = 3

// QueueNotifier turns notifications into queue tasks. A notification with a
// future SendAt becomes a delayed task.
type QueueNotifier struct {
	queue queue.Queue
}

func NewQueueNotifier(q queue.Queue) *QueueNotifier {
	return &QueueNotifier{queue: q}
}

func (n *QueueNotifier) Notify(ctx context.Context, notification *entity.Notification) error {
	if n.queue == nil {
		return nil
	}

	taskType := queue.TaskTypeSendNotification
	if notification.Type == entity.NotificationBookingReminder {
		taskType = queue.TaskTypeBookingReminder
	}

	data := map[string]interface{}{
		"notification_type": string(notification.Type),
		"user_id":           notification.UserID,
		"message":           notification.Message,
	}
	for k, v := range notification.Data {
		data[k] = v
	}

	task := &queue.Task{
		ID:         fmt.Sprintf("%s_%s", notification.Type, uuid.NewString()),
		Type:       taskType,
		Data:       data,
		ExecuteAt:  notification.SendAt,
		CreatedAt:  time.Now(),
		MaxRetries: notificationMaxRetries,
	}
	return n.queue.Publish(ctx, task)
}

// EventPublisher publishes a JSON document under a routing key.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, v interface{}) error
}

// EventNotifier mirrors committed changes onto the domain event exchange.
// Delayed notifications are reminders for people, not events, and are skipped.
type EventNotifier struct {
	publisher EventPublisher
}

func NewEventNotifier(p EventPublisher) *EventNotifier {
	return &EventNotifier{publisher: p}
}

func (n *EventNotifier) Notify(ctx context.Context, notification *entity.Notification) error {
	if n.publisher == nil || !notification.SendAt.IsZero() {
		return nil
	}
	return n.publisher.PublishJSON(ctx, string(notification.Type), notification)
}

// MultiNotifier fans a notification out to every dispatcher.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, notification *entity.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch delivers a notification without tying it to the request lifetime.
func dispatch(ctx context.Context, notifier Notifier, timeout time.Duration, n *entity.Notification) {
	if notifier == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := notifier.Notify(ctx, n); err != nil {
		logrus.WithFields(logrus.Fields{
			"type":    n.Type,
			"user_id": n.UserID,
			"error":   err,
		}).Warn("Failed to dispatch notification")
	}
}
