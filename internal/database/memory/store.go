// Package memory keeps the ledger in process memory behind the same
// repository contracts as the PostgreSQL store. One mutex stands in for the
// database's row locks, so every method is atomic.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	repository "github.com/ds124wfegd/studio-booking/internal/database/postgres"
	"github.com/ds124wfegd/studio-booking/internal/entity"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users     map[int64]*entity.User
	sessions  map[int64]*entity.Session
	bookings  map[int64]*entity.Booking
	purchases map[int64]*entity.Purchase
	events    map[string]*entity.PaymentEvent
	credits   []*entity.CreditTransaction

	nextBookingID  int64
	nextPurchaseID int64
	nextCreditID   int64
}

func New() *Store {
	return &Store{
		now:       time.Now,
		users:     make(map[int64]*entity.User),
		sessions:  make(map[int64]*entity.Session),
		bookings:  make(map[int64]*entity.Booking),
		purchases: make(map[int64]*entity.Purchase),
		events:    make(map[string]*entity.PaymentEvent),
	}
}

// SetClock replaces the time source used for row timestamps and journal
// claims.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) AddUser(u *entity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *Store) AddSession(sess *entity.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
}

func (s *Store) Balance(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u.CreditBalance
	}
	return 0
}

func (s *Store) ConfirmedCount(sessionID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.ConfirmedCount
	}
	return 0
}

// CreditEntries returns the user's ledger rows in insertion order.
func (s *Store) CreditEntries(userID int64) []entity.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.CreditTransaction
	for _, e := range s.credits {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out
}

func (s *Store) Sessions() repository.SessionRepository           { return sessionRepo{s} }
func (s *Store) Capacity() repository.CapacityRepository          { return capacityRepo{s} }
func (s *Store) Bookings() repository.BookingRepository           { return bookingRepo{s} }
func (s *Store) Users() repository.UserRepository                 { return userRepo{s} }
func (s *Store) Purchases() repository.PurchaseRepository         { return purchaseRepo{s} }
func (s *Store) PaymentEvents() repository.PaymentEventRepository { return eventRepo{s} }

// adjustBalance mirrors the guarded UPDATE of the SQL ledger. Callers hold mu.
func (s *Store) adjustBalance(entry entity.CreditTransaction) error {
	u, ok := s.users[entry.UserID]
	if !ok {
		return entity.ErrUserNotFound
	}
	if u.CreditBalance+entry.Amount < 0 {
		return entity.ErrInsufficientCredits
	}
	u.CreditBalance += entry.Amount
	u.UpdatedAt = s.now()

	s.nextCreditID++
	entry.ID = s.nextCreditID
	entry.BalanceAfter = u.CreditBalance
	entry.CreatedAt = s.now()
	s.credits = append(s.credits, &entry)
	return nil
}

type sessionRepo struct{ s *Store }

func (r sessionRepo) GetByID(_ context.Context, id int64) (*entity.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, entity.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

type capacityRepo struct{ s *Store }

func (r capacityRepo) TryReserve(_ context.Context, res *entity.Reservation) (*entity.Booking, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[res.SessionID]
	if !ok {
		return nil, entity.ErrSessionNotFound
	}
	if !sess.Bookable(res.At) {
		return nil, entity.ErrSessionNotBookable
	}
	for _, b := range s.bookings {
		if b.UserID == res.UserID && b.SessionID == res.SessionID && b.Status.IsActive() {
			return nil, entity.ErrDuplicateBooking
		}
	}
	if sess.SeatsLeft() == 0 {
		return nil, entity.ErrSessionFull
	}

	user, ok := s.users[res.UserID]
	if !ok {
		return nil, entity.ErrUserNotFound
	}
	if user.CreditBalance < sess.BasePrice {
		return nil, entity.ErrInsufficientCredits
	}

	now := s.now()
	fee, payout := entity.SplitPayout(sess.BasePrice, res.CommissionBps)
	s.nextBookingID++
	b := &entity.Booking{
		ID:            s.nextBookingID,
		Code:          res.Code,
		UserID:        res.UserID,
		SessionID:     res.SessionID,
		Status:        entity.BookingStatusConfirmed,
		AmountPaid:    sess.BasePrice,
		PlatformFee:   fee,
		PartnerPayout: payout,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if b.AmountPaid > 0 {
		err := s.adjustBalance(entity.CreditTransaction{
			UserID:        b.UserID,
			Kind:          entity.CreditKindBookingCharge,
			Amount:        -b.AmountPaid,
			ReferenceType: "booking",
			ReferenceID:   strconv.FormatInt(b.ID, 10),
		})
		if err != nil {
			s.nextBookingID--
			return nil, err
		}
	}

	sess.ConfirmedCount++
	s.bookings[b.ID] = b
	cp := *b
	return &cp, nil
}

func (r capacityRepo) Release(_ context.Context, bookingID int64, refund bool) (*entity.Booking, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	if b.Status != entity.BookingStatusConfirmed {
		return nil, entity.ErrBookingNotConfirmed
	}

	if refund && b.AmountPaid > 0 {
		err := s.adjustBalance(entity.CreditTransaction{
			UserID:        b.UserID,
			Kind:          entity.CreditKindBookingRefund,
			Amount:        b.AmountPaid,
			ReferenceType: "booking",
			ReferenceID:   strconv.FormatInt(b.ID, 10),
		})
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	b.Status = entity.BookingStatusCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
	if sess, ok := s.sessions[b.SessionID]; ok && sess.ConfirmedCount > 0 {
		sess.ConfirmedCount--
	}

	cp := *b
	return &cp, nil
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) GetByID(_ context.Context, id int64) (*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r bookingRepo) GetByCode(_ context.Context, code string) (*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.bookings {
		if b.Code == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, entity.ErrBookingNotFound
}

func (r bookingRepo) GetByUserID(_ context.Context, userID int64, limit int) ([]*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Booking
	for _, b := range r.s.bookings {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r bookingRepo) CheckIn(_ context.Context, id int64, at time.Time) (*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	if b.CheckedInAt != nil {
		return nil, entity.ErrAlreadyCheckedIn
	}
	if b.Status != entity.BookingStatusConfirmed {
		return nil, entity.ErrBookingNotConfirmed
	}

	b.Status = entity.BookingStatusCompleted
	b.CheckedInAt = &at
	b.UpdatedAt = r.s.now()
	cp := *b
	return &cp, nil
}

func (r bookingRepo) MarkNoShows(_ context.Context, sessionID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var marked int64
	now := r.s.now()
	for _, b := range r.s.bookings {
		if b.SessionID == sessionID && b.Status == entity.BookingStatusConfirmed && b.CheckedInAt == nil {
			b.Status = entity.BookingStatusNoShow
			b.UpdatedAt = now
			marked++
		}
	}

	if sess, ok := r.s.sessions[sessionID]; ok {
		sess.ConfirmedCount -= int(marked)
		if sess.ConfirmedCount < 0 {
			sess.ConfirmedCount = 0
		}
		if sess.Status == entity.SessionStatusScheduled || sess.Status == entity.SessionStatusInProgress {
			sess.Status = entity.SessionStatusCompleted
		}
	}
	return marked, nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(_ context.Context, id int64) (*entity.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, entity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r userRepo) GetCreditTransactions(_ context.Context, userID int64, limit int) ([]*entity.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.CreditTransaction
	for i := len(r.s.credits) - 1; i >= 0; i-- {
		e := r.s.credits[i]
		if e.UserID != userID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
