package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

const bookingColumns = `
	id, code, user_id, session_id, status, checked_in_at, amount_paid,
	platform_fee, partner_payout, cancelled_at, created_at, updated_at
`

type bookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) BookingRepository {
	return &bookingRepository{db: db}
}

// GetByID retrieves a booking by its ID
func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return booking, nil
}

// GetByCode retrieves a booking by its public code
func (r *bookingRepository) GetByCode(ctx context.Context, code string) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE code = $1`

	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by code: %w", err)
	}

	return booking, nil
}

// GetByUserID returns the user's bookings, newest first
func (r *bookingRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*entity.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings by user: %w", err)
	}
	defer rows.Close()

	var bookings []*entity.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}

	return bookings, nil
}

// CheckIn completes a CONFIRMED booking that has not been checked in yet
func (r *bookingRepository) CheckIn(ctx context.Context, id int64, at time.Time) (*entity.Booking, error) {
	var booking *entity.Booking

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE bookings
			SET status = 'COMPLETED', checked_in_at = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'CONFIRMED' AND checked_in_at IS NULL
			RETURNING ` + bookingColumns

		b, err := scanBooking(tx.QueryRowContext(ctx, query, id, at))
		if errors.Is(err, sql.ErrNoRows) {
			return bookingStateError(ctx, tx, id)
		}
		if err != nil {
			return fmt.Errorf("failed to check in booking: %w", err)
		}

		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return booking, nil
}

// MarkNoShows moves every unchecked CONFIRMED booking of an ended session to
// NO_SHOW and keeps the session counter in step. Running it again is a no-op.
func (r *bookingRepository) MarkNoShows(ctx context.Context, sessionID int64) (int64, error) {
	var marked int64

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE bookings
			SET status = 'NO_SHOW', updated_at = NOW()
			WHERE session_id = $1 AND status = 'CONFIRMED' AND checked_in_at IS NULL
		`
		result, err := tx.ExecContext(ctx, query, sessionID)
		if err != nil {
			return fmt.Errorf("failed to mark no-shows: %w", err)
		}

		marked, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		query = `
			UPDATE sessions
			SET confirmed_count = GREATEST(confirmed_count - $2, 0),
			    status = CASE WHEN status IN ('SCHEDULED', 'IN_PROGRESS') THEN 'COMPLETED' ELSE status END,
			    updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, query, sessionID, marked); err != nil {
			return fmt.Errorf("failed to update session after no-shows: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return marked, nil
}

func scanBooking(row rowScanner) (*entity.Booking, error) {
	var b entity.Booking
	err := row.Scan(
		&b.ID,
		&b.Code,
		&b.UserID,
		&b.SessionID,
		&b.Status,
		&b.CheckedInAt,
		&b.AmountPaid,
		&b.PlatformFee,
		&b.PartnerPayout,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
