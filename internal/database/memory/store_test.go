package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIfNew_ReclaimsStaleClaims(t *testing.T) {
	store := New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	journal := store.PaymentEvents()
	ctx := context.Background()
	event := &entity.PaymentEvent{EventID: "evt_1", EventType: entity.PaymentEventCheckoutCompleted}

	res, err := journal.RecordIfNew(ctx, event, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, entity.JournalInserted, res)

	res, err = journal.RecordIfNew(ctx, event, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, entity.JournalAlreadySeen, res)

	now = now.Add(2 * time.Minute)
	res, err = journal.RecordIfNew(ctx, event, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, entity.JournalReclaimed, res)

	require.NoError(t, journal.MarkProcessed(ctx, "evt_1", nil))
	now = now.Add(time.Hour)
	res, err = journal.RecordIfNew(ctx, event, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, entity.JournalAlreadySeen, res)

	stored, err := journal.GetByID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.True(t, stored.Processed)
	assert.Nil(t, stored.LastError)
}

func TestReleaseForRetry_AllowsImmediateReclaim(t *testing.T) {
	store := New()
	journal := store.PaymentEvents()
	ctx := context.Background()
	event := &entity.PaymentEvent{EventID: "evt_2", EventType: entity.PaymentEventCheckoutCompleted}

	_, err := journal.RecordIfNew(ctx, event, time.Hour)
	require.NoError(t, err)
	require.NoError(t, journal.ReleaseForRetry(ctx, "evt_2", errors.New("connection reset")))

	res, err := journal.RecordIfNew(ctx, event, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, entity.JournalReclaimed, res)

	failed, err := journal.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "connection reset", *failed[0].LastError)
}

func TestCreditLedger_MatchesBalance(t *testing.T) {
	store := New()
	store.AddUser(&entity.User{ID: 1, Verified: true})
	store.AddSession(&entity.Session{
		ID:          7,
		Status:      entity.SessionStatusScheduled,
		ClassStatus: entity.ClassStatusActive,
		StartTime:   time.Now().Add(24 * time.Hour),
		EndTime:     time.Now().Add(25 * time.Hour),
		Capacity:    3,
		BasePrice:   4,
	})
	ctx := context.Background()

	require.NoError(t, store.Purchases().Create(ctx, &entity.Purchase{
		UserID: 1, CheckoutSessionID: "cs_1", Credits: 10, Status: entity.PurchaseStatusPending,
	}))
	_, applied, err := store.Purchases().Complete(ctx, "cs_1", &entity.PaymentReceipt{PaymentIntentID: "pi_1"})
	require.NoError(t, err)
	require.True(t, applied)

	booking, err := store.Capacity().TryReserve(ctx, &entity.Reservation{
		UserID: 1, SessionID: 7, Code: "BK-1", CommissionBps: 1000, At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), booking.AmountPaid)
	assert.Equal(t, int64(6), store.Balance(1))

	_, err = store.Capacity().Release(ctx, booking.ID, true)
	require.NoError(t, err)

	var sum int64
	for _, e := range store.CreditEntries(1) {
		sum += e.Amount
	}
	assert.Equal(t, store.Balance(1), sum)
	assert.Equal(t, int64(10), sum)
	assert.Equal(t, 0, store.ConfirmedCount(7))
}
