package repository

import (
	"context"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

type SessionRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Session, error)
}

// CapacityRepository owns the per-session confirmed counter. Every method
// runs as a single transaction.
type CapacityRepository interface {
	TryReserve(ctx context.Context, res *entity.Reservation) (*entity.Booking, error)
	Release(ctx context.Context, bookingID int64, refund bool) (*entity.Booking, error)
}

type BookingRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Booking, error)
	GetByCode(ctx context.Context, code string) (*entity.Booking, error)
	GetByUserID(ctx context.Context, userID int64, limit int) ([]*entity.Booking, error)

	// State transitions
	CheckIn(ctx context.Context, id int64, at time.Time) (*entity.Booking, error)
	MarkNoShows(ctx context.Context, sessionID int64) (int64, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetCreditTransactions(ctx context.Context, userID int64, limit int) ([]*entity.CreditTransaction, error)
}

type PurchaseRepository interface {
	Create(ctx context.Context, purchase *entity.Purchase) error
	GetByID(ctx context.Context, id int64) (*entity.Purchase, error)
	GetByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*entity.Purchase, error)
	GetByUserID(ctx context.Context, userID int64, limit int) ([]*entity.Purchase, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.Purchase, error)

	// Complete moves a PENDING purchase to COMPLETED and credits the user.
	// The bool is false when the purchase was not PENDING and nothing changed.
	Complete(ctx context.Context, checkoutSessionID string, receipt *entity.PaymentReceipt) (*entity.Purchase, bool, error)
	// Close moves a PENDING purchase to FAILED or CANCELLED.
	Close(ctx context.Context, checkoutSessionID string, status entity.PurchaseStatus) (*entity.Purchase, bool, error)

	MarkRefunded(ctx context.Context, id int64) (*entity.Purchase, error)
	RevertRefund(ctx context.Context, id int64) error
	SetRefundID(ctx context.Context, id int64, refundID string) error
}

// PaymentEventRepository is the payment event journal.
type PaymentEventRepository interface {
	RecordIfNew(ctx context.Context, event *entity.PaymentEvent, reclaimAfter time.Duration) (entity.JournalResult, error)
	MarkProcessed(ctx context.Context, eventID string, procErr error) error
	ReleaseForRetry(ctx context.Context, eventID string, procErr error) error
	GetByID(ctx context.Context, eventID string) (*entity.PaymentEvent, error)
	ListFailed(ctx context.Context, limit int) ([]*entity.PaymentEvent, error)
}
