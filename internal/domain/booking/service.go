package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opdesk/opdesk/internal/domain/queue"
)

// TicketIssuer is the queue surface check-in needs. Implemented by
// queue.Service.
type TicketIssuer interface {
	IssueTicket(ctx context.Context, input queue.IssueInput) (*queue.Ticket, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*queue.Ticket, error)
}

type Service struct {
	schedules ScheduleRepository
	bookings  BookingRepository
	issuer    TicketIssuer
	now       func() time.Time
}

func NewService(schedules ScheduleRepository, bookings BookingRepository) *Service {
	return &Service{
		schedules: schedules,
		bookings:  bookings,
		now:       time.Now,
	}
}

// SetTicketIssuer enables check-in. Without an issuer check-in fails.
func (s *Service) SetTicketIssuer(issuer TicketIssuer) {
	s.issuer = issuer
}

// BookInput carries an appointment request. StartTime is "HH:MM" and must
// land exactly on a slot boundary.
type BookInput struct {
	ResourceID string
	Date       time.Time
	StartTime  string
	PatientID  *uuid.UUID
	Reason     *string
}

// Validate checks an appointment request without committing anything.
// Same-day visits are rejected here; the walk-in path covers them.
func (s *Service) Validate(ctx context.Context, resourceID string, date time.Time, startTime string) (*Schedule, error) {
	today := queue.DateOnly(s.now())
	date = queue.DateOnly(date)
	if date.Before(today) {
		return nil, ErrPastDate
	}
	if date.Equal(today) {
		return nil, ErrLeadTime
	}

	schedule, err := s.schedules.FindForDate(ctx, resourceID, date)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, ErrSlotUnavailable
	}

	if schedule.DailyCapacity > 0 {
		booked, err := s.bookings.CountForDate(ctx, resourceID, date)
		if err != nil {
			return nil, err
		}
		if booked >= schedule.DailyCapacity {
			return nil, ErrCapacityExceeded
		}
	}

	avail, err := s.resolveForDate(ctx, schedule, resourceID, date)
	if err != nil {
		return nil, err
	}
	for _, slot := range avail.Slots {
		if slot.Start == startTime {
			if !slot.Available {
				return nil, ErrSlotUnavailable
			}
			return schedule, nil
		}
	}
	return nil, ErrSlotUnavailable
}

func (s *Service) BookAppointment(ctx context.Context, input BookInput) (*Booking, error) {
	schedule, err := s.Validate(ctx, input.ResourceID, input.Date, input.StartTime)
	if err != nil {
		return nil, err
	}

	start, err := parseClock(input.StartTime)
	if err != nil {
		return nil, err
	}
	b := &Booking{
		ResourceID: input.ResourceID,
		Date:       queue.DateOnly(input.Date),
		StartTime:  input.StartTime,
		EndTime:    formatClock(start + schedule.SlotMinutes),
		PatientID:  input.PatientID,
		Reason:     input.Reason,
	}
	if err := s.bookings.Book(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// CheckIn puts a booked appointment into the day's queue. The queue number
// is allocated here, not at booking time, so no-shows never consume
// numbers.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*queue.Ticket, error) {
	if s.issuer == nil {
		return nil, fmt.Errorf("check-in requires a ticket issuer")
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.TicketID != nil {
		return nil, ErrAlreadyCheckedIn
	}

	ticket, err := s.issuer.IssueTicket(ctx, queue.IssueInput{
		ResourceID: b.ResourceID,
		Date:       b.Date,
		Source:     queue.SourceAppointment,
		PatientID:  b.PatientID,
		Reason:     b.Reason,
	})
	if err != nil {
		return nil, err
	}
	if err := s.bookings.AttachTicket(ctx, b.ID, ticket.ID); err != nil {
		// Lost a concurrent check-in race; release the extra ticket.
		s.issuer.Cancel(ctx, ticket.ID, "duplicate check-in")
		return nil, err
	}
	return ticket, nil
}

func (s *Service) GetAvailability(ctx context.Context, resourceID string, date time.Time) (*Availability, error) {
	date = queue.DateOnly(date)
	schedule, err := s.schedules.FindForDate(ctx, resourceID, date)
	if err != nil {
		return nil, err
	}
	avail, err := s.resolveForDate(ctx, schedule, resourceID, date)
	if err != nil {
		return nil, err
	}
	avail.ResourceID = resourceID
	return avail, nil
}

func (s *Service) resolveForDate(ctx context.Context, schedule *Schedule, resourceID string, date time.Time) (*Availability, error) {
	var booked []*Booking
	if schedule != nil {
		var err error
		booked, err = s.bookings.ListForDate(ctx, resourceID, date)
		if err != nil {
			return nil, err
		}
	}
	return Resolve(schedule, booked, date)
}

// DailyCapacity reports the schedule's per-day ticket cap for a date, zero
// when no schedule covers it. Satisfies queue.CapacityProvider so walk-ins
// count against the same cap.
func (s *Service) DailyCapacity(ctx context.Context, resourceID string, date time.Time) (int, error) {
	schedule, err := s.schedules.FindForDate(ctx, resourceID, queue.DateOnly(date))
	if err != nil {
		return 0, err
	}
	if schedule == nil {
		return 0, nil
	}
	return schedule.DailyCapacity, nil
}

func (s *Service) CreateSchedule(ctx context.Context, schedule *Schedule) error {
	if schedule.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if schedule.DayOfWeek < 0 || schedule.DayOfWeek > 6 {
		return fmt.Errorf("day_of_week must be 0 (Sunday) through 6 (Saturday)")
	}
	start, err := parseClock(schedule.StartTime)
	if err != nil {
		return err
	}
	end, err := parseClock(schedule.EndTime)
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("end_time must be after start_time")
	}
	if schedule.SlotMinutes <= 0 {
		return fmt.Errorf("slot_minutes must be positive")
	}
	return s.schedules.Create(ctx, schedule)
}

func (s *Service) ListSchedules(ctx context.Context, resourceID string) ([]*Schedule, error) {
	return s.schedules.ListForResource(ctx, resourceID)
}
