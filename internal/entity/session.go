package entity

import "time"

type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "SCHEDULED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
)

type ClassStatus string

const (
	ClassStatusActive   ClassStatus = "ACTIVE"
	ClassStatusInactive ClassStatus = "INACTIVE"
)

// Session is a scheduled occurrence of a class together with the class and
// studio attributes admission control needs.
type Session struct {
	ID             int64         `json:"id" db:"id"`
	ClassID        int64         `json:"class_id" db:"class_id"`
	StudioID       int64         `json:"studio_id" db:"studio_id"`
	PartnerID      int64         `json:"-" db:"partner_id"`
	ClassTitle     string        `json:"class_title" db:"title"`
	StartTime      time.Time     `json:"start_time" db:"start_time"`
	EndTime        time.Time     `json:"end_time" db:"end_time"`
	Status         SessionStatus `json:"status" db:"status"`
	ClassStatus    ClassStatus   `json:"class_status" db:"class_status"`
	Capacity       int           `json:"capacity" db:"capacity"`
	ConfirmedCount int           `json:"confirmed_count" db:"confirmed_count"`
	BasePrice      int64         `json:"base_price" db:"base_price"`
}

// Bookable reports whether new bookings may be admitted at now.
func (s *Session) Bookable(now time.Time) bool {
	return s.Status == SessionStatusScheduled &&
		s.ClassStatus == ClassStatusActive &&
		s.StartTime.After(now)
}

func (s *Session) HasEnded(now time.Time) bool {
	return now.After(s.EndTime)
}

func (s *Session) SeatsLeft() int {
	if left := s.Capacity - s.ConfirmedCount; left > 0 {
		return left
	}
	return 0
}
