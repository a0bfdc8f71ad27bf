package entity

import "time"

type NotificationType string

const (
	NotificationBookingConfirmed NotificationType = "booking.confirmed"
	NotificationBookingReminder  NotificationType = "booking.reminder"
	NotificationBookingCancelled NotificationType = "booking.cancelled"
	NotificationBookingCheckedIn NotificationType = "booking.checked_in"
	NotificationNoShowsMarked    NotificationType = "session.no_shows_marked"
	NotificationPaymentCompleted NotificationType = "payment.completed"
	NotificationPaymentFailed    NotificationType = "payment.failed"
	NotificationPaymentCancelled NotificationType = "payment.cancelled"
	NotificationPurchaseRefunded NotificationType = "purchase.refunded"
)

// Notification is a fire-and-forget message about a committed change.
type Notification struct {
	Type    NotificationType       `json:"type"`
	UserID  int64                  `json:"user_id"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	// SendAt delays delivery; zero means now.
	SendAt time.Time `json:"send_at,omitempty"`
}
