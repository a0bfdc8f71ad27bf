package service

import (
	"context"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

// BookingService admits, cancels and checks in bookings against session capacity.
type BookingService interface {
	CreateBooking(ctx context.Context, userID, sessionID int64) (*entity.Booking, error)
	CancelBooking(ctx context.Context, bookingID, userID int64) (*entity.Booking, error)
	CheckIn(ctx context.Context, bookingID, userID int64) (*entity.Booking, error)
	MarkNoShow(ctx context.Context, sessionID, partnerID int64) (int64, error)

	GetBooking(ctx context.Context, bookingID, userID int64) (*entity.Booking, error)
	GetBookingByCode(ctx context.Context, code string, userID int64) (*entity.Booking, error)
	GetUserBookings(ctx context.Context, userID int64, limit int) ([]*entity.Booking, error)
}

// PaymentService turns processor payments into credits exactly once.
type PaymentService interface {
	CreateCheckout(ctx context.Context, userID int64, req *CreateCheckoutRequest) (*CheckoutResult, error)
	ApplyCompletedPayment(ctx context.Context, checkoutSessionID string, receipt *entity.PaymentReceipt) (*entity.Purchase, error)
	ApplyFailedPayment(ctx context.Context, checkoutSessionID string) (*entity.Purchase, error)
	ApplyCancelledPayment(ctx context.Context, checkoutSessionID string) (*entity.Purchase, error)
	VerifySession(ctx context.Context, checkoutSessionID string, userID int64) (*VerifyResult, error)

	ProcessNotification(ctx context.Context, n *entity.PaymentNotification) error
	HandleWebhook(ctx context.Context, payload []byte, signature string) error

	Refund(ctx context.Context, purchaseID int64) (*RefundResult, error)
	ReconcileStalePurchases(ctx context.Context, olderThan time.Duration, limit int) (int, error)

	GetBalance(ctx context.Context, userID int64) (*Balance, error)
	GetUserPurchases(ctx context.Context, userID int64, limit int) ([]*entity.Purchase, error)
	ListFailedEvents(ctx context.Context, limit int) ([]*entity.PaymentEvent, error)
}

// PaymentProcessor is the hosted checkout provider.
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, req *entity.CheckoutRequest) (*entity.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*entity.CheckoutSession, error)
	Refund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) (string, error)
	// ParseWebhook verifies the signature and decodes the event.
	ParseWebhook(payload []byte, signature string) (*entity.PaymentNotification, error)
}

type CreateCheckoutRequest struct {
	Credits int64  `json:"credits"`
	Package string `json:"package"`
}

type CheckoutResult struct {
	CheckoutSessionID string `json:"checkout_session_id"`
	RedirectURL       string `json:"redirect_url"`
	PurchaseID        int64  `json:"purchase_id"`
}

type VerifyResult struct {
	Purchase        *entity.Purchase `json:"purchase"`
	ProcessorStatus string           `json:"processor_status"`
	PaymentStatus   string           `json:"payment_status"`
}

type RefundResult struct {
	RefundID string           `json:"refund_id"`
	Purchase *entity.Purchase `json:"purchase"`
}

type Balance struct {
	UserID       int64                       `json:"user_id"`
	Credits      int64                       `json:"credits"`
	Transactions []*entity.CreditTransaction `json:"transactions"`
}
