package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ds124wfegd/studio-booking/config"
	repository "github.com/ds124wfegd/studio-booking/internal/database/postgres"
	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 50

type bookingService struct {
	sessionRepo  repository.SessionRepository
	capacityRepo repository.CapacityRepository
	bookingRepo  repository.BookingRepository
	notifier     Notifier
	cfg          config.BookingConfig
	now          func() time.Time
}

// NewBookingService creates a new BookingService
func NewBookingService(
	sessionRepo repository.SessionRepository,
	capacityRepo repository.CapacityRepository,
	bookingRepo repository.BookingRepository,
	notifier Notifier,
	cfg config.BookingConfig,
) BookingService {
	return &bookingService{
		sessionRepo:  sessionRepo,
		capacityRepo: capacityRepo,
		bookingRepo:  bookingRepo,
		notifier:     notifier,
		cfg:          cfg,
		now:          time.Now,
	}
}

// CreateBooking reserves a seat and charges the class price in credits
func (s *bookingService) CreateBooking(ctx context.Context, userID, sessionID int64) (*entity.Booking, error) {
	if userID <= 0 || sessionID <= 0 {
		return nil, entity.ErrInvalidInput
	}

	booking, err := s.capacityRepo.TryReserve(ctx, &entity.Reservation{
		UserID:        userID,
		SessionID:     sessionID,
		Code:          newBookingCode(),
		CommissionBps: s.cfg.CommissionBps,
		At:            s.now(),
	})
	if err != nil {
		return nil, failure("create booking", err, logrus.Fields{"user_id": userID, "session_id": sessionID})
	}

	logrus.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"session_id": sessionID,
		"user_id":    userID,
		"amount":     booking.AmountPaid,
	}).Info("Booking created")

	s.notify(ctx, &entity.Notification{
		Type:    entity.NotificationBookingConfirmed,
		UserID:  userID,
		Message: fmt.Sprintf("Your booking %s is confirmed.", booking.Code),
		Data:    bookingData(booking),
	})

	if session, err := s.sessionRepo.GetByID(ctx, sessionID); err == nil {
		sendAt := session.StartTime.Add(-s.cfg.ReminderBefore)
		if s.cfg.ReminderBefore > 0 && sendAt.After(s.now()) {
			s.notify(ctx, &entity.Notification{
				Type:   entity.NotificationBookingReminder,
				UserID: userID,
				Message: fmt.Sprintf("Reminder: %s starts at %s.",
					session.ClassTitle, session.StartTime.Format("02.01.2006 15:04")),
				Data:   bookingData(booking),
				SendAt: sendAt,
			})
		}
	}

	return booking, nil
}

// CancelBooking releases the seat of a confirmed booking owned by userID
func (s *bookingService) CancelBooking(ctx context.Context, bookingID, userID int64) (*entity.Booking, error) {
	booking, err := s.ownedBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if booking.Status.IsTerminal() {
		return nil, entity.ErrBookingNotConfirmed
	}

	session, err := s.sessionRepo.GetByID(ctx, booking.SessionID)
	if err != nil {
		return nil, failure("cancel booking", err, logrus.Fields{"booking_id": bookingID})
	}
	if !entity.CancellableAt(session.StartTime, s.now()) {
		return nil, entity.ErrTooLateToCancel
	}

	cancelled, err := s.capacityRepo.Release(ctx, bookingID, s.cfg.RefundOnCancel)
	if err != nil {
		return nil, failure("cancel booking", err, logrus.Fields{"booking_id": bookingID})
	}

	logrus.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"session_id": cancelled.SessionID,
		"refunded":   s.cfg.RefundOnCancel,
	}).Info("Booking cancelled")

	data := bookingData(cancelled)
	data["refunded"] = s.cfg.RefundOnCancel && cancelled.AmountPaid > 0
	s.notify(ctx, &entity.Notification{
		Type:    entity.NotificationBookingCancelled,
		UserID:  userID,
		Message: fmt.Sprintf("Your booking %s was cancelled.", cancelled.Code),
		Data:    data,
	})

	return cancelled, nil
}

// CheckIn completes a confirmed booking inside the check-in window
func (s *bookingService) CheckIn(ctx context.Context, bookingID, userID int64) (*entity.Booking, error) {
	booking, err := s.ownedBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if booking.CheckedInAt != nil {
		return nil, entity.ErrAlreadyCheckedIn
	}
	if booking.Status.IsTerminal() {
		return nil, entity.ErrBookingNotConfirmed
	}

	session, err := s.sessionRepo.GetByID(ctx, booking.SessionID)
	if err != nil {
		return nil, failure("check in", err, logrus.Fields{"booking_id": bookingID})
	}

	now := s.now()
	if !entity.CheckInOpenAt(session.StartTime, now) {
		return nil, entity.ErrOutsideCheckInWindow
	}

	checkedIn, err := s.bookingRepo.CheckIn(ctx, bookingID, now)
	if err != nil {
		return nil, failure("check in", err, logrus.Fields{"booking_id": bookingID})
	}

	logrus.WithField("booking_id", bookingID).Info("Booking checked in")

	s.notify(ctx, &entity.Notification{
		Type:    entity.NotificationBookingCheckedIn,
		UserID:  userID,
		Message: fmt.Sprintf("Checked in to %s.", session.ClassTitle),
		Data:    bookingData(checkedIn),
	})

	return checkedIn, nil
}

// MarkNoShow closes an ended session: every unchecked confirmed booking
// becomes NO_SHOW. Calling it again reports zero.
func (s *bookingService) MarkNoShow(ctx context.Context, sessionID, partnerID int64) (int64, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return 0, failure("mark no-shows", err, logrus.Fields{"session_id": sessionID})
	}
	if session.PartnerID != partnerID {
		return 0, entity.ErrAccessDenied
	}
	if !session.HasEnded(s.now()) {
		return 0, entity.ErrSessionNotEnded
	}

	count, err := s.bookingRepo.MarkNoShows(ctx, sessionID)
	if err != nil {
		return 0, failure("mark no-shows", err, logrus.Fields{"session_id": sessionID})
	}

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"count":      count,
	}).Info("No-shows marked")

	if count > 0 {
		s.notify(ctx, &entity.Notification{
			Type:    entity.NotificationNoShowsMarked,
			UserID:  partnerID,
			Message: fmt.Sprintf("%d no-shows recorded for %s.", count, session.ClassTitle),
			Data: map[string]interface{}{
				"session_id": sessionID,
				"count":      count,
			},
		})
	}

	return count, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID, userID int64) (*entity.Booking, error) {
	return s.ownedBooking(ctx, bookingID, userID)
}

// GetBookingByCode looks a booking up by the code shown on its confirmation.
func (s *bookingService) GetBookingByCode(ctx context.Context, code string, userID int64) (*entity.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, entity.ErrInvalidInput
	}

	booking, err := s.bookingRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, failure("get booking by code", err, logrus.Fields{"booking_code": code})
	}
	if booking.UserID != userID {
		return nil, entity.ErrAccessDenied
	}
	return booking, nil
}

// GetUserBookings returns the newest bookings first
func (s *bookingService) GetUserBookings(ctx context.Context, userID int64, limit int) ([]*entity.Booking, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	bookings, err := s.bookingRepo.GetByUserID(ctx, userID, limit)
	if err != nil {
		return nil, failure("list bookings", err, logrus.Fields{"user_id": userID})
	}
	if bookings == nil {
		bookings = []*entity.Booking{}
	}
	return bookings, nil
}

// ownedBooking loads a booking and checks it belongs to userID. A foreign
// booking is reported the same way as a missing one by the transport layer.
func (s *bookingService) ownedBooking(ctx context.Context, bookingID, userID int64) (*entity.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, failure("get booking", err, logrus.Fields{"booking_id": bookingID})
	}
	if booking.UserID != userID {
		return nil, entity.ErrAccessDenied
	}
	return booking, nil
}

func (s *bookingService) notify(ctx context.Context, n *entity.Notification) {
	dispatch(ctx, s.notifier, s.cfg.NotifyTimeout, n)
}

// failure passes domain errors through and logs everything else, which then
// surfaces as an internal error.
func failure(op string, err error, fields logrus.Fields) error {
	if _, ok := entity.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logrus.WithFields(fields).WithError(err).Errorf("Failed to %s", op)
	return fmt.Errorf("failed to %s: %w", op, err)
}

func newBookingCode() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "BK-" + id[:16]
}

func bookingData(b *entity.Booking) map[string]interface{} {
	return map[string]interface{}{
		"booking_id":   b.ID,
		"booking_code": b.Code,
		"session_id":   b.SessionID,
		"status":       string(b.Status),
	}
}
