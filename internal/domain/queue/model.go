package queue

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a ticket.
type State string

const (
	StateWaiting   State = "waiting"
	StateCalled    State = "called"
	StateServing   State = "serving"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// CallType distinguishes a first call from a repeat call.
type CallType string

const (
	CallNormal CallType = "normal"
	CallRecall CallType = "recall"
)

// ResponseStatus records whether the patient answered a call.
type ResponseStatus string

const (
	ResponsePending    ResponseStatus = "pending"
	ResponseResponded  ResponseStatus = "responded"
	ResponseNoResponse ResponseStatus = "no_response"
)

// Source records how a ticket entered the queue.
type Source string

const (
	SourceWalkIn      Source = "walk_in"
	SourceAppointment Source = "appointment"
)

// Ticket is one patient's visit progressing through the queue.
// It is mutated only through the lifecycle operations on the repository.
type Ticket struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ResourceID  string     `db:"resource_id" json:"resource_id"`
	Date        time.Time  `db:"date" json:"date"`
	QueueNumber int        `db:"queue_number" json:"queue_number"`
	QueueCode   string     `db:"queue_code" json:"queue_code"`
	State       State      `db:"state" json:"state"`
	Source      Source     `db:"source" json:"source"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName string     `db:"-" json:"patient_name,omitempty"`
	PatientMRN  string     `db:"-" json:"patient_mrn,omitempty"`
	Reason      *string    `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CalledAt    *time.Time `db:"called_at" json:"called_at,omitempty"`
	RespondedAt *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	ServedAt    *time.Time `db:"served_at" json:"served_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// CallEvent is one append-only ledger entry for a call or recall.
// Once ResponseStatus leaves pending the entry is immutable.
type CallEvent struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	TicketID       uuid.UUID      `db:"ticket_id" json:"ticket_id"`
	ResourceID     string         `db:"resource_id" json:"resource_id"`
	Date           time.Time      `db:"date" json:"date"`
	QueueCode      string         `db:"queue_code" json:"queue_code"`
	CallType       CallType       `db:"call_type" json:"call_type"`
	CalledAt       time.Time      `db:"called_at" json:"called_at"`
	RespondedAt    *time.Time     `db:"responded_at" json:"responded_at,omitempty"`
	ResponseStatus ResponseStatus `db:"response_status" json:"response_status"`
}

// Status is a snapshot of one resource's queue for a day.
type Status struct {
	ResourceID string    `json:"resource_id"`
	Date       time.Time `json:"date"`
	Waiting    []*Ticket `json:"waiting"`
	Serving    []*Ticket `json:"serving"`
	Skipped    []*Ticket `json:"skipped"`
}

// DateOnly truncates t to midnight UTC. Tickets, bookings and counters are
// keyed by calendar day, never by instant.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
