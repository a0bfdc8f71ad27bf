package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

func newJournalMock(t *testing.T) (*paymentEventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &paymentEventRepository{db: db}, mock
}

func TestRecordIfNew(t *testing.T) {
	event := &entity.PaymentEvent{
		EventID:   "evt_1",
		EventType: entity.PaymentEventCheckoutCompleted,
		Payload:   []byte(`{"id":"cs_1"}`),
	}

	tests := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		want  entity.JournalResult
	}{
		{
			name: "first sight",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO payment_events`).
					WithArgs("evt_1", entity.PaymentEventCheckoutCompleted, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow("evt_1"))
			},
			want: entity.JournalInserted,
		},
		{
			name: "already processed",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO payment_events`).
					WillReturnRows(sqlmock.NewRows([]string{"event_id"}))
				mock.ExpectQuery(`UPDATE payment_events`).
					WithArgs("evt_1", float64(60)).
					WillReturnRows(sqlmock.NewRows([]string{"event_id"}))
			},
			want: entity.JournalAlreadySeen,
		},
		{
			name: "stale claim",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO payment_events`).
					WillReturnRows(sqlmock.NewRows([]string{"event_id"}))
				mock.ExpectQuery(`UPDATE payment_events`).
					WithArgs("evt_1", float64(60)).
					WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow("evt_1"))
			},
			want: entity.JournalReclaimed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newJournalMock(t)
			tt.setup(mock)

			got, err := repo.RecordIfNew(context.Background(), event, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMarkProcessed_RecordsError(t *testing.T) {
	repo, mock := newJournalMock(t)

	mock.ExpectExec(`SET processed = TRUE`).
		WithArgs("evt_1", "purchase not found").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkProcessed(context.Background(), "evt_1", errors.New("purchase not found"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseForRetry_UnknownEvent(t *testing.T) {
	repo, mock := newJournalMock(t)

	mock.ExpectExec(`UPDATE payment_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ReleaseForRetry(context.Background(), "evt_missing", errors.New("connection reset"))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
