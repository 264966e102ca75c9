package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleRepository stores the weekly recurring blocks.
type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	ListForResource(ctx context.Context, resourceID string) ([]*Schedule, error)
	// FindForDate returns the schedule covering the date, nil when none
	// does.
	FindForDate(ctx context.Context, resourceID string, date time.Time) (*Schedule, error)
}

// BookingRepository stores committed appointments.
type BookingRepository interface {
	// Book commits the booking atomically with respect to the overlap
	// check: two callers racing for intersecting intervals on the same
	// resource and date cannot both succeed, the loser gets ErrSlotTaken.
	Book(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListForDate(ctx context.Context, resourceID string, date time.Time) ([]*Booking, error)
	CountForDate(ctx context.Context, resourceID string, date time.Time) (int, error)
	// AttachTicket records the queue ticket issued at check-in. Fails with
	// ErrAlreadyCheckedIn when a ticket is already attached.
	AttachTicket(ctx context.Context, id uuid.UUID, ticketID uuid.UUID) error
}
