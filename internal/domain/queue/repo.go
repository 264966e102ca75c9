package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IssueInput carries everything needed to put a new ticket in a queue.
// DailyLimit caps how many tickets may exist for (resource, date); zero
// means uncapped. The repository enforces it inside the issuing step so
// concurrent issuance cannot overshoot.
type IssueInput struct {
	ResourceID string
	Date       time.Time
	Source     Source
	PatientID  *uuid.UUID
	Reason     *string
	DailyLimit int
}

// TicketRepository owns ticket persistence. The lifecycle methods are atomic:
// the state change and its ledger write happen in one transaction, and an
// action applied from an ineligible state returns
// *InvalidStateTransitionError with nothing written.
type TicketRepository interface {
	// Issue allocates the next queue number for (resource, date) and
	// inserts the ticket in a single atomic step. Returns
	// ErrCapacityExceeded without allocating when the day already holds
	// DailyLimit tickets.
	Issue(ctx context.Context, input IssueInput) (*Ticket, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	FindByNumber(ctx context.Context, resourceID string, date time.Time, number int) (*Ticket, error)
	// ListByStates returns tickets in any of the given states, ordered by
	// queue number ascending.
	ListByStates(ctx context.Context, resourceID string, date time.Time, states ...State) ([]*Ticket, error)
	CountForDate(ctx context.Context, resourceID string, date time.Time) (int, error)

	// Call moves a waiting, skipped or already-called ticket to called and
	// appends a pending call event (normal or recall).
	Call(ctx context.Context, id uuid.UUID, at time.Time) (*Ticket, *CallEvent, error)
	// CallNext calls the waiting ticket with the smallest queue number.
	// Returns ErrNoWaitingTicket when the queue is empty.
	CallNext(ctx context.Context, resourceID string, date time.Time, at time.Time) (*Ticket, *CallEvent, error)
	// StartServing moves a called ticket to serving and marks its latest
	// pending call event as responded.
	StartServing(ctx context.Context, id uuid.UUID, at time.Time) (*Ticket, error)
	// Skip moves a called ticket to skipped and marks its latest pending
	// call event as no-response.
	Skip(ctx context.Context, id uuid.UUID, at time.Time, reason string) (*Ticket, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (*Ticket, error)
	Cancel(ctx context.Context, id uuid.UUID, at time.Time, reason string) (*Ticket, error)
}

// CallEventRepository reads the append-only call ledger.
type CallEventRepository interface {
	// ListForTicket returns a ticket's call events, most recent first.
	ListForTicket(ctx context.Context, ticketID uuid.UUID) ([]*CallEvent, error)
	ListForResourceDate(ctx context.Context, resourceID string, date time.Time) ([]*CallEvent, error)
	// FindLatestPending returns the newest pending event for a ticket, or
	// nil when none is pending.
	FindLatestPending(ctx context.Context, ticketID uuid.UUID) (*CallEvent, error)
}
