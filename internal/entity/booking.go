package entity

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusNoShow    BookingStatus = "NO_SHOW"
)

// IsTerminal reports whether no further transition may leave s.
func (s BookingStatus) IsTerminal() bool {
	return s != BookingStatusConfirmed
}

// IsActive reports whether a booking in s holds a seat.
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusConfirmed || s == BookingStatusCompleted
}

const (
	CancellationCutoff = 2 * time.Hour
	CheckInOpensBefore = 30 * time.Minute
	CheckInClosesAfter = 15 * time.Minute
)

type Booking struct {
	ID            int64         `json:"id" db:"id"`
	Code          string        `json:"code" db:"code"`
	UserID        int64         `json:"user_id" db:"user_id"`
	SessionID     int64         `json:"session_id" db:"session_id"`
	Status        BookingStatus `json:"status" db:"status"`
	CheckedInAt   *time.Time    `json:"checked_in_at,omitempty" db:"checked_in_at"`
	AmountPaid    int64         `json:"amount_paid" db:"amount_paid"`
	PlatformFee   int64         `json:"platform_fee" db:"platform_fee"`
	PartnerPayout int64         `json:"partner_payout" db:"partner_payout"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// Reservation is the input of an atomic seat reservation.
type Reservation struct {
	UserID        int64
	SessionID     int64
	Code          string
	CommissionBps int
	At            time.Time
}

// CancellableAt reports whether a session starting at start is still
// outside the cancellation cutoff at now.
func CancellableAt(start, now time.Time) bool {
	return start.Sub(now) >= CancellationCutoff
}

// CheckInOpenAt reports whether now falls into [start-30m, start+15m].
func CheckInOpenAt(start, now time.Time) bool {
	opens := start.Add(-CheckInOpensBefore)
	closes := start.Add(CheckInClosesAfter)
	return !now.Before(opens) && !now.After(closes)
}

// SplitPayout divides amount between the platform and the partner.
// The platform fee is rounded down so the partner never loses a subunit.
func SplitPayout(amount int64, commissionBps int) (platformFee, partnerPayout int64) {
	if amount <= 0 || commissionBps <= 0 {
		return 0, amount
	}
	if commissionBps > 10000 {
		commissionBps = 10000
	}
	platformFee = amount * int64(commissionBps) / 10000
	return platformFee, amount - platformFee
}
