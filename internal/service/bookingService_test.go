package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ds124wfegd/studio-booking/config"
	"github.com/ds124wfegd/studio-booking/internal/database/memory"
	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionID = 100
	testPartnerID = 900
)

var baseTime = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type bookingFixture struct {
	store    *memory.Store
	clock    *testClock
	notifier *recordingNotifier
	svc      BookingService
}

func newBookingFixture(t *testing.T, cfg config.BookingConfig, start time.Time, capacity int, price int64) *bookingFixture {
	t.Helper()

	clock := newTestClock(baseTime)
	store := memory.New()
	store.SetClock(clock.Now)
	store.AddSession(&entity.Session{
		ID:          testSessionID,
		ClassID:     10,
		StudioID:    20,
		PartnerID:   testPartnerID,
		ClassTitle:  "Morning Yoga",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Status:      entity.SessionStatusScheduled,
		ClassStatus: entity.ClassStatusActive,
		Capacity:    capacity,
		BasePrice:   price,
	})

	notifier := &recordingNotifier{}
	svc := NewBookingService(store.Sessions(), store.Capacity(), store.Bookings(), notifier, cfg)
	svc.(*bookingService).now = clock.Now

	return &bookingFixture{store: store, clock: clock, notifier: notifier, svc: svc}
}

func (f *bookingFixture) addUser(id, credits int64) {
	f.store.AddUser(&entity.User{ID: id, Role: entity.RoleClient, Verified: true, CreditBalance: credits})
}

func defaultBookingConfig() config.BookingConfig {
	return config.BookingConfig{CommissionBps: 1500, RefundOnCancel: true, ReminderBefore: time.Hour}
}

func TestCreateBooking_CapacityInvariant(t *testing.T) {
	const capacity, attempts = 5, 40

	f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(24*time.Hour), capacity, 3)
	for i := int64(1); i <= attempts; i++ {
		f.addUser(i, 10)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
		full   int
	)
	for i := int64(1); i <= attempts; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.svc.CreateBooking(context.Background(), userID, testSessionID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case assert.ErrorIs(t, err, entity.ErrSessionFull):
				full++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, booked)
	assert.Equal(t, attempts-capacity, full)
	assert.Equal(t, capacity, f.store.ConfirmedCount(testSessionID))
}

func TestCreateBooking_Duplicate(t *testing.T) {
	f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(24*time.Hour), 10, 2)
	f.addUser(1, 10)
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, int64(2), booking.AmountPaid)
	assert.Regexp(t, `^BK-[0-9A-F]{16}$`, booking.Code)

	_, err = f.svc.CreateBooking(ctx, 1, testSessionID)
	assert.ErrorIs(t, err, entity.ErrDuplicateBooking)
	assert.Equal(t, 1, f.store.ConfirmedCount(testSessionID))
	assert.Equal(t, int64(8), f.store.Balance(1))
}

func TestCreateBooking_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		balance int64
		mutate  func(s *entity.Session)
		want    error
	}{
		{
			name:    "insufficient credits",
			start:   baseTime.Add(24 * time.Hour),
			balance: 1,
			want:    entity.ErrInsufficientCredits,
		},
		{
			name:    "session already started",
			start:   baseTime.Add(-time.Minute),
			balance: 10,
			want:    entity.ErrSessionNotBookable,
		},
		{
			name:    "class inactive",
			start:   baseTime.Add(24 * time.Hour),
			balance: 10,
			mutate:  func(s *entity.Session) { s.ClassStatus = entity.ClassStatusInactive },
			want:    entity.ErrSessionNotBookable,
		},
		{
			name:    "session cancelled",
			start:   baseTime.Add(24 * time.Hour),
			balance: 10,
			mutate:  func(s *entity.Session) { s.Status = entity.SessionStatusCancelled },
			want:    entity.ErrSessionNotBookable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture(t, defaultBookingConfig(), tt.start, 10, 5)
			if tt.mutate != nil {
				sess, err := f.store.Sessions().GetByID(context.Background(), testSessionID)
				require.NoError(t, err)
				tt.mutate(sess)
				f.store.AddSession(sess)
			}
			f.addUser(1, tt.balance)

			_, err := f.svc.CreateBooking(context.Background(), 1, testSessionID)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.store.ConfirmedCount(testSessionID))
			assert.Equal(t, tt.balance, f.store.Balance(1))
		})
	}

	f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(time.Hour), 1, 0)
	_, err := f.svc.CreateBooking(context.Background(), 1, 404)
	assert.ErrorIs(t, err, entity.ErrSessionNotFound)
}

func TestCreateBooking_Notifications(t *testing.T) {
	start := baseTime.Add(24 * time.Hour)
	f := newBookingFixture(t, defaultBookingConfig(), start, 10, 0)
	f.addUser(1, 0)

	booking, err := f.svc.CreateBooking(context.Background(), 1, testSessionID)
	require.NoError(t, err)

	confirmed := f.notifier.ofType(entity.NotificationBookingConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, booking.Code, confirmed[0].Data["booking_code"])

	reminders := f.notifier.ofType(entity.NotificationBookingReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, start.Add(-time.Hour), reminders[0].SendAt)
}

func TestCreateBooking_NotifierFailureKeepsBooking(t *testing.T) {
	f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(24*time.Hour), 10, 1)
	f.notifier.err = assert.AnError
	f.addUser(1, 5)

	_, err := f.svc.CreateBooking(context.Background(), 1, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.ConfirmedCount(testSessionID))
	assert.Equal(t, int64(4), f.store.Balance(1))
}

func TestCancelBooking_Cutoff(t *testing.T) {
	ctx := context.Background()

	t.Run("one hour before start", func(t *testing.T) {
		f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(time.Hour), 10, 4)
		f.addUser(1, 10)
		booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
		require.NoError(t, err)

		_, err = f.svc.CancelBooking(ctx, booking.ID, 1)
		assert.ErrorIs(t, err, entity.ErrTooLateToCancel)
		assert.Equal(t, 1, f.store.ConfirmedCount(testSessionID))
	})

	t.Run("three hours before start", func(t *testing.T) {
		f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(3*time.Hour), 10, 4)
		f.addUser(1, 10)
		booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), f.store.Balance(1))

		cancelled, err := f.svc.CancelBooking(ctx, booking.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, entity.BookingStatusCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CancelledAt)
		assert.Equal(t, 0, f.store.ConfirmedCount(testSessionID))
		assert.Equal(t, int64(10), f.store.Balance(1))

		_, err = f.svc.CancelBooking(ctx, booking.ID, 1)
		assert.ErrorIs(t, err, entity.ErrBookingNotConfirmed)
		assert.Equal(t, 0, f.store.ConfirmedCount(testSessionID))

		assert.Len(t, f.notifier.ofType(entity.NotificationBookingCancelled), 1)
	})

	t.Run("exactly at cutoff", func(t *testing.T) {
		f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(entity.CancellationCutoff), 10, 0)
		f.addUser(1, 0)
		booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
		require.NoError(t, err)

		_, err = f.svc.CancelBooking(ctx, booking.ID, 1)
		assert.NoError(t, err)
	})
}

func TestCancelBooking_Ownership(t *testing.T) {
	f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(24*time.Hour), 10, 0)
	f.addUser(1, 0)
	f.addUser(2, 0)
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, booking.ID, 2)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)
	assert.Equal(t, 1, f.store.ConfirmedCount(testSessionID))

	_, err = f.svc.CancelBooking(ctx, 999, 1)
	assert.ErrorIs(t, err, entity.ErrBookingNotFound)
}

func TestCancelBooking_ManualRefund(t *testing.T) {
	cfg := defaultBookingConfig()
	cfg.RefundOnCancel = false
	f := newBookingFixture(t, cfg, baseTime.Add(24*time.Hour), 10, 4)
	f.addUser(1, 10)
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, booking.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), f.store.Balance(1))
	assert.Equal(t, 0, f.store.ConfirmedCount(testSessionID))
}

func TestCheckIn_Window(t *testing.T) {
	start := baseTime.Add(3 * time.Hour)
	f := newBookingFixture(t, defaultBookingConfig(), start, 10, 0)
	f.addUser(1, 0)
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)

	f.clock.Set(start.Add(-31 * time.Minute))
	_, err = f.svc.CheckIn(ctx, booking.ID, 1)
	assert.ErrorIs(t, err, entity.ErrOutsideCheckInWindow)

	f.clock.Set(start)
	checkedIn, err := f.svc.CheckIn(ctx, booking.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCompleted, checkedIn.Status)
	require.NotNil(t, checkedIn.CheckedInAt)
	assert.Equal(t, start, *checkedIn.CheckedInAt)

	_, err = f.svc.CheckIn(ctx, booking.ID, 1)
	assert.ErrorIs(t, err, entity.ErrAlreadyCheckedIn)

	// A checked-in booking still holds its seat.
	assert.Equal(t, 1, f.store.ConfirmedCount(testSessionID))
}

func TestCheckIn_Rejections(t *testing.T) {
	start := baseTime.Add(3 * time.Hour)
	f := newBookingFixture(t, defaultBookingConfig(), start, 10, 0)
	f.addUser(1, 0)
	f.addUser(2, 0)
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)

	f.clock.Set(start)
	_, err = f.svc.CheckIn(ctx, booking.ID, 2)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	f.clock.Set(start.Add(entity.CheckInClosesAfter + time.Second))
	_, err = f.svc.CheckIn(ctx, booking.ID, 1)
	assert.ErrorIs(t, err, entity.ErrOutsideCheckInWindow)

	f.clock.Set(baseTime)
	_, err = f.svc.CancelBooking(ctx, booking.ID, 1)
	require.NoError(t, err)

	f.clock.Set(start)
	_, err = f.svc.CheckIn(ctx, booking.ID, 1)
	assert.ErrorIs(t, err, entity.ErrBookingNotConfirmed)
}

func TestMarkNoShow(t *testing.T) {
	start := baseTime.Add(3 * time.Hour)
	f := newBookingFixture(t, defaultBookingConfig(), start, 10, 0)
	ctx := context.Background()

	var ids []int64
	for userID := int64(1); userID <= 3; userID++ {
		f.addUser(userID, 0)
		b, err := f.svc.CreateBooking(ctx, userID, testSessionID)
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	f.clock.Set(start)
	_, err := f.svc.CheckIn(ctx, ids[0], 1)
	require.NoError(t, err)

	_, err = f.svc.MarkNoShow(ctx, testSessionID, testPartnerID)
	assert.ErrorIs(t, err, entity.ErrSessionNotEnded)

	f.clock.Set(start.Add(2 * time.Hour))
	_, err = f.svc.MarkNoShow(ctx, testSessionID, 12345)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	count, err := f.svc.MarkNoShow(ctx, testSessionID, testPartnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 1, f.store.ConfirmedCount(testSessionID))

	count, err = f.svc.MarkNoShow(ctx, testSessionID, testPartnerID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 1, f.store.ConfirmedCount(testSessionID))

	for i, id := range ids {
		b, err := f.svc.GetBooking(ctx, id, int64(i+1))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, entity.BookingStatusCompleted, b.Status)
		} else {
			assert.Equal(t, entity.BookingStatusNoShow, b.Status)
		}
	}

	assert.Len(t, f.notifier.ofType(entity.NotificationNoShowsMarked), 1)

	_, err = f.svc.MarkNoShow(ctx, 404, testPartnerID)
	assert.ErrorIs(t, err, entity.ErrSessionNotFound)
}

func TestGetBookingByCode(t *testing.T) {
	f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(24*time.Hour), 10, 0)
	f.addUser(1, 0)
	f.addUser(2, 0)
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)

	found, err := f.svc.GetBookingByCode(ctx, booking.Code, 1)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, found.ID)

	found, err = f.svc.GetBookingByCode(ctx, " "+strings.ToLower(booking.Code)+" ", 1)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, found.ID)

	_, err = f.svc.GetBookingByCode(ctx, booking.Code, 2)
	assert.ErrorIs(t, err, entity.ErrAccessDenied)

	_, err = f.svc.GetBookingByCode(ctx, "BK-MISSING", 1)
	assert.ErrorIs(t, err, entity.ErrBookingNotFound)

	_, err = f.svc.GetBookingByCode(ctx, "  ", 1)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestCancelBooking_TerminalStates(t *testing.T) {
	start := baseTime.Add(24 * time.Hour)
	f := newBookingFixture(t, defaultBookingConfig(), start, 10, 0)
	f.addUser(1, 0)
	ctx := context.Background()

	booking, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)
	_, err = f.svc.CancelBooking(ctx, booking.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, booking.ID, 1)
	assert.ErrorIs(t, err, entity.ErrBookingNotConfirmed)
	assert.Equal(t, 0, f.store.ConfirmedCount(testSessionID))
}

func TestGetUserBookings_NewestFirst(t *testing.T) {
	f := newBookingFixture(t, defaultBookingConfig(), baseTime.Add(24*time.Hour), 10, 0)
	f.addUser(1, 0)
	ctx := context.Background()

	first, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)
	_, err = f.svc.CancelBooking(ctx, first.ID, 1)
	require.NoError(t, err)
	second, err := f.svc.CreateBooking(ctx, 1, testSessionID)
	require.NoError(t, err)

	bookings, err := f.svc.GetUserBookings(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, second.ID, bookings[0].ID)
	assert.Equal(t, first.ID, bookings[1].ID)

	empty, err := f.svc.GetUserBookings(ctx, 2, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
