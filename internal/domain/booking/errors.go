package booking

import "errors"

// Validation and persistence errors for the appointment path.
var (
	ErrPastDate         = errors.New("appointment date is in the past")
	ErrLeadTime         = errors.New("appointments require at least one day of lead time")
	ErrSlotUnavailable  = errors.New("requested slot is not available")
	ErrSlotTaken        = errors.New("slot was booked by another caller")
	ErrCapacityExceeded = errors.New("daily booking capacity exceeded")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrAlreadyCheckedIn = errors.New("booking already checked in")
)
