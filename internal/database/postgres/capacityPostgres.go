package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

const activeBookingIndex = "uq_bookings_active_user_session"

type capacityRepository struct {
	db *sql.DB
}

func NewCapacityRepository(db *sql.DB) CapacityRepository {
	return &capacityRepository{db: db}
}

// TryReserve admits one booking under a row lock on the session, so concurrent
// callers for the same session are serialized on the capacity check.
func (r *capacityRepository) TryReserve(ctx context.Context, res *entity.Reservation) (*entity.Booking, error) {
	var booking *entity.Booking

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + sessionColumns + sessionFrom + ` WHERE s.id = $1 FOR UPDATE OF s`

		session, err := scanSession(tx.QueryRowContext(ctx, query, res.SessionID))
		if errors.Is(err, sql.ErrNoRows) {
			return entity.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}

		if !session.Bookable(res.At) {
			return entity.ErrSessionNotBookable
		}

		var duplicate bool
		query = `
			SELECT EXISTS(
				SELECT 1 FROM bookings
				WHERE user_id = $1 AND session_id = $2 AND status IN ('CONFIRMED', 'COMPLETED')
			)
		`
		if err := tx.QueryRowContext(ctx, query, res.UserID, res.SessionID).Scan(&duplicate); err != nil {
			return fmt.Errorf("failed to check existing bookings: %w", err)
		}
		if duplicate {
			return entity.ErrDuplicateBooking
		}

		if session.SeatsLeft() == 0 {
			return entity.ErrSessionFull
		}

		query = `UPDATE sessions SET confirmed_count = confirmed_count + 1, updated_at = NOW() WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, res.SessionID); err != nil {
			return fmt.Errorf("failed to increment confirmed count: %w", err)
		}

		fee, payout := entity.SplitPayout(session.BasePrice, res.CommissionBps)
		b := &entity.Booking{
			Code:          res.Code,
			UserID:        res.UserID,
			SessionID:     res.SessionID,
			Status:        entity.BookingStatusConfirmed,
			AmountPaid:    session.BasePrice,
			PlatformFee:   fee,
			PartnerPayout: payout,
		}

		query = `
			INSERT INTO bookings (
				code, user_id, session_id, status, amount_paid, platform_fee, partner_payout,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			RETURNING id, created_at, updated_at
		`
		err = tx.QueryRowContext(ctx, query,
			b.Code,
			b.UserID,
			b.SessionID,
			b.Status,
			b.AmountPaid,
			b.PlatformFee,
			b.PartnerPayout,
		).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
		if isUniqueViolation(err, activeBookingIndex) {
			return entity.ErrDuplicateBooking
		}
		if err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}

		if b.AmountPaid > 0 {
			err = adjustBalanceTx(ctx, tx, &entity.CreditTransaction{
				UserID:        b.UserID,
				Kind:          entity.CreditKindBookingCharge,
				Amount:        -b.AmountPaid,
				ReferenceType: "booking",
				ReferenceID:   strconv.FormatInt(b.ID, 10),
			})
			if err != nil {
				return err
			}
		}

		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return booking, nil
}

// Release cancels a CONFIRMED booking and gives its seat back. The status
// guard makes a second release fail instead of decrementing twice.
func (r *capacityRepository) Release(ctx context.Context, bookingID int64, refund bool) (*entity.Booking, error) {
	var booking *entity.Booking

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE bookings
			SET status = 'CANCELLED', cancelled_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'CONFIRMED'
			RETURNING ` + bookingColumns

		b, err := scanBooking(tx.QueryRowContext(ctx, query, bookingID))
		if errors.Is(err, sql.ErrNoRows) {
			err = bookingStateError(ctx, tx, bookingID)
			if errors.Is(err, entity.ErrAlreadyCheckedIn) {
				return entity.ErrBookingNotConfirmed
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to cancel booking: %w", err)
		}

		query = `
			UPDATE sessions
			SET confirmed_count = confirmed_count - 1, updated_at = NOW()
			WHERE id = $1 AND confirmed_count > 0
		`
		if _, err := tx.ExecContext(ctx, query, b.SessionID); err != nil {
			return fmt.Errorf("failed to decrement confirmed count: %w", err)
		}

		if refund && b.AmountPaid > 0 {
			err = adjustBalanceTx(ctx, tx, &entity.CreditTransaction{
				UserID:        b.UserID,
				Kind:          entity.CreditKindBookingRefund,
				Amount:        b.AmountPaid,
				ReferenceType: "booking",
				ReferenceID:   strconv.FormatInt(b.ID, 10),
			})
			if err != nil {
				return err
			}
		}

		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return booking, nil
}

// bookingStateError explains why a status-guarded update on a booking
// matched no row.
func bookingStateError(ctx context.Context, tx *sql.Tx, bookingID int64) error {
	var checkedIn bool
	err := tx.QueryRowContext(ctx,
		`SELECT checked_in_at IS NOT NULL FROM bookings WHERE id = $1`, bookingID,
	).Scan(&checkedIn)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get booking: %w", err)
	}
	if checkedIn {
		return entity.ErrAlreadyCheckedIn
	}
	return entity.ErrBookingNotConfirmed
}
