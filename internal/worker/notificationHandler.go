package worker

import (
	"context"
	"errors"
	"fmt"

	repository "github.com/ds124wfegd/studio-booking/internal/database/postgres"
	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/ds124wfegd/studio-booking/pkg/queue"
	"github.com/ds124wfegd/studio-booking/pkg/telegram"

	"github.com/sirupsen/logrus"
)

// TelegramSender delivers a text message to a chat.
type TelegramSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// NotificationHandler delivers queued notifications to users over Telegram.
type NotificationHandler struct {
	userRepo    repository.UserRepository
	bookingRepo repository.BookingRepository
	sender      TelegramSender
}

func NewNotificationHandler(userRepo repository.UserRepository, bookingRepo repository.BookingRepository, sender TelegramSender) *NotificationHandler {
	return &NotificationHandler{
		userRepo:    userRepo,
		bookingRepo: bookingRepo,
		sender:      sender,
	}
}

// Handle is a queue.Handler.
func (h *NotificationHandler) Handle(ctx context.Context, task *queue.Task) error {
	switch task.Type {
	case queue.TaskTypeSendNotification:
		return h.send(ctx, task)
	case queue.TaskTypeBookingReminder:
		return h.remind(ctx, task)
	default:
		return queue.Permanent(fmt.Errorf("unknown task type: %s", task.Type))
	}
}

// remind drops the reminder when the booking is no longer confirmed.
func (h *NotificationHandler) remind(ctx context.Context, task *queue.Task) error {
	bookingID := task.GetInt64("booking_id")
	booking, err := h.bookingRepo.GetByID(ctx, bookingID)
	if errors.Is(err, entity.ErrBookingNotFound) {
		logrus.WithField("booking_id", bookingID).Warn("Reminder for unknown booking dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get booking %d: %w", bookingID, err)
	}
	if booking.Status != entity.BookingStatusConfirmed {
		logrus.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"status":     booking.Status,
		}).Info("Reminder skipped")
		return nil
	}

	return h.send(ctx, task)
}

func (h *NotificationHandler) send(ctx context.Context, task *queue.Task) error {
	userID := task.GetInt64("user_id")
	message := task.GetString("message")
	if userID == 0 || message == "" {
		return queue.Permanent(fmt.Errorf("task %s has no recipient or message", task.ID))
	}

	user, err := h.userRepo.GetByID(ctx, userID)
	if errors.Is(err, entity.ErrUserNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	if user.TelegramID == "" {
		logrus.WithField("user_id", userID).Debug("User has no telegram chat, notification skipped")
		return nil
	}

	if err := h.sender.SendMessage(ctx, user.TelegramID, message); err != nil {
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return queue.Permanent(err)
		}
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"user_id": userID,
		"type":    task.GetString("notification_type"),
	}).Info("Notification delivered")
	return nil
}
