package booking

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is one weekly recurring block for a resource. Times are local
// clock times in "HH:MM"; DayOfWeek follows time.Weekday (Sunday = 0).
// EffectiveFrom and ExpiryDate are inclusive; nil means unbounded.
type Schedule struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ResourceID    string     `db:"resource_id" json:"resource_id"`
	DayOfWeek     int        `db:"day_of_week" json:"day_of_week"`
	StartTime     string     `db:"start_time" json:"start_time"`
	EndTime       string     `db:"end_time" json:"end_time"`
	SlotMinutes   int        `db:"slot_minutes" json:"slot_minutes"`
	DailyCapacity int        `db:"daily_capacity" json:"daily_capacity"`
	EffectiveFrom *time.Time `db:"effective_from" json:"effective_from,omitempty"`
	ExpiryDate    *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// CoversDate reports whether this schedule applies to the given calendar
// date.
func (s *Schedule) CoversDate(date time.Time) bool {
	if int(date.Weekday()) != s.DayOfWeek {
		return false
	}
	if s.EffectiveFrom != nil && date.Before(*s.EffectiveFrom) {
		return false
	}
	if s.ExpiryDate != nil && date.After(*s.ExpiryDate) {
		return false
	}
	return true
}

// Booking is a committed appointment occupying one slot. TicketID is set at
// check-in, when the visit enters the day's queue.
type Booking struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ResourceID string     `db:"resource_id" json:"resource_id"`
	Date       time.Time  `db:"date" json:"date"`
	StartTime  string     `db:"start_time" json:"start_time"`
	EndTime    string     `db:"end_time" json:"end_time"`
	PatientID  *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	TicketID   *uuid.UUID `db:"ticket_id" json:"ticket_id,omitempty"`
	Reason     *string    `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// TimeSlot is one bookable interval, half-open [Start, End).
type TimeSlot struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
}

// Availability is the day view returned to callers.
type Availability struct {
	ResourceID     string     `json:"resource_id"`
	Date           string     `json:"date"`
	Slots          []TimeSlot `json:"slots"`
	TotalSlots     int        `json:"total_slots"`
	AvailableSlots int        `json:"available_slots"`
	BookedSlots    int        `json:"booked_slots"`
}
