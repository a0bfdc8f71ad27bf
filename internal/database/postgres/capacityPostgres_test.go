package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

var sessionRowColumns = []string{
	"id", "class_id", "studio_id", "partner_id", "title", "start_time", "end_time",
	"status", "class_status", "capacity", "confirmed_count", "base_price",
}

func sessionRow(start time.Time, capacity, confirmed int, price int64) *sqlmock.Rows {
	return sqlmock.NewRows(sessionRowColumns).AddRow(
		int64(10), int64(3), int64(2), int64(900), "Morning flow", start, start.Add(time.Hour),
		"SCHEDULED", "ACTIVE", capacity, confirmed, price,
	)
}

func newMock(t *testing.T) (*capacityRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &capacityRepository{db: db}, mock
}

func TestTryReserve_Admits(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	start := now.Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF s`).
		WithArgs(int64(10)).
		WillReturnRows(sessionRow(start, 2, 1, 300))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`UPDATE sessions SET confirmed_count`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO bookings`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(77), now, now))
	mock.ExpectQuery(`UPDATE users`).
		WithArgs(int64(-300), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(int64(700)))
	mock.ExpectQuery(`INSERT INTO credit_transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))
	mock.ExpectCommit()

	booking, err := repo.TryReserve(context.Background(), &entity.Reservation{
		UserID:        5,
		SessionID:     10,
		Code:          "BK-TEST",
		CommissionBps: 1000,
		At:            now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), booking.ID)
	assert.Equal(t, entity.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, int64(300), booking.AmountPaid)
	assert.Equal(t, int64(30), booking.PlatformFee)
	assert.Equal(t, int64(270), booking.PartnerPayout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryReserve_Full(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF s`).
		WithArgs(int64(10)).
		WillReturnRows(sessionRow(now.Add(time.Hour), 2, 2, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.TryReserve(context.Background(), &entity.Reservation{UserID: 5, SessionID: 10, At: now})
	assert.ErrorIs(t, err, entity.ErrSessionFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryReserve_DuplicateCheckedBeforeCapacity(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF s`).
		WillReturnRows(sessionRow(now.Add(time.Hour), 2, 2, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.TryReserve(context.Background(), &entity.Reservation{UserID: 5, SessionID: 10, At: now})
	assert.ErrorIs(t, err, entity.ErrDuplicateBooking)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryReserve_RetriesSerializationFailure(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF s`).
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF s`).
		WillReturnRows(sessionRow(now.Add(-time.Minute), 2, 0, 0))
	mock.ExpectRollback()

	_, err := repo.TryReserve(context.Background(), &entity.Reservation{UserID: 5, SessionID: 10, At: now})
	assert.ErrorIs(t, err, entity.ErrSessionNotBookable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_NotConfirmed(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bookings`).
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT checked_in_at IS NOT NULL`).
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"checked_in"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.Release(context.Background(), 77, true)
	assert.ErrorIs(t, err, entity.ErrBookingNotConfirmed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
