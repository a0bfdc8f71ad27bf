package entity

import "errors"

// ErrorKind groups domain errors by how callers should react to them.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindPolicy       ErrorKind = "policy"
	KindNotFound     ErrorKind = "not_found"
	KindAccessDenied ErrorKind = "access_denied"
	KindExternal     ErrorKind = "external"
	KindInternal     ErrorKind = "internal"
)

// Error is a domain error with a stable code that is safe to return to clients.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// Session errors
	ErrSessionNotFound    = newError(KindNotFound, "SESSION_NOT_FOUND", "session not found")
	ErrSessionFull        = newError(KindConflict, "SESSION_FULL", "session is full")
	ErrSessionNotBookable = newError(KindPolicy, "SESSION_NOT_BOOKABLE", "session is not open for booking")
	ErrSessionNotEnded    = newError(KindPolicy, "SESSION_NOT_ENDED", "session has not ended yet")

	// Booking errors
	ErrBookingNotFound      = newError(KindNotFound, "BOOKING_NOT_FOUND", "booking not found")
	ErrDuplicateBooking     = newError(KindConflict, "DUPLICATE_BOOKING", "user already has a booking for this session")
	ErrBookingNotConfirmed  = newError(KindConflict, "NOT_CONFIRMED", "booking is not confirmed")
	ErrTooLateToCancel      = newError(KindPolicy, "TOO_LATE_TO_CANCEL", "booking can no longer be cancelled")
	ErrAlreadyCheckedIn     = newError(KindConflict, "ALREADY_CHECKED_IN", "booking is already checked in")
	ErrOutsideCheckInWindow = newError(KindPolicy, "OUTSIDE_CHECK_IN_WINDOW", "check-in is not open for this session")
	ErrInsufficientCredits  = newError(KindConflict, "INSUFFICIENT_CREDITS", "not enough credits")

	// User errors
	ErrUserNotFound    = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrUserNotEligible = newError(KindPolicy, "USER_NOT_ELIGIBLE", "user is not allowed to buy credits")

	// Purchase errors
	ErrPurchaseNotFound             = newError(KindNotFound, "PURCHASE_NOT_FOUND", "purchase not found")
	ErrPurchaseNotPending           = newError(KindConflict, "PURCHASE_NOT_PENDING", "purchase is already closed")
	ErrPurchaseNotCompleted         = newError(KindConflict, "NOT_COMPLETED", "purchase is not completed")
	ErrInsufficientBalanceForRefund = newError(KindConflict, "INSUFFICIENT_BALANCE_FOR_REFUND", "balance is too low to refund this purchase")
	ErrInvalidCredits               = newError(KindValidation, "INVALID_CREDITS", "credits must be between 1 and 10000")
	ErrUnknownPackage               = newError(KindValidation, "UNKNOWN_PACKAGE", "unknown credit package")
	ErrAmbiguousCheckout            = newError(KindValidation, "AMBIGUOUS_CHECKOUT", "set either credits or package, not both")

	// Payment processor errors
	ErrInvalidSignature     = newError(KindExternal, "INVALID_SIGNATURE", "invalid webhook signature")
	ErrProcessorUnavailable = newError(KindExternal, "PROCESSOR_UNAVAILABLE", "payment processor is unavailable")

	// General errors
	ErrInvalidInput = newError(KindValidation, "INVALID_INPUT", "invalid input")
	ErrAccessDenied = newError(KindAccessDenied, "ACCESS_DENIED", "access denied")
)

// KindOf reports the kind of the first domain error in err's chain.
// Errors without one are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError returns the first domain error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
