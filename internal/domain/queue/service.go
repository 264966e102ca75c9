package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PatientInfo is the display subset of a registration record.
type PatientInfo struct {
	Name string
	MRN  string
}

// PatientDirectory looks up registration records for display decoration.
// Implemented by the directory package via an adapter.
type PatientDirectory interface {
	Lookup(ctx context.Context, id uuid.UUID) (*PatientInfo, error)
}

// CapacityProvider reports the maximum tickets per day for a resource.
// Zero means unlimited. Implemented by the booking service.
type CapacityProvider interface {
	DailyCapacity(ctx context.Context, resourceID string, date time.Time) (int, error)
}

// TicketDetail is a ticket together with its call history, most recent
// call first.
type TicketDetail struct {
	*Ticket
	Calls []*CallEvent `json:"calls"`
}

type Service struct {
	tickets  TicketRepository
	events   CallEventRepository
	seq      SequenceAllocator
	capacity CapacityProvider
	patients PatientDirectory
	now      func() time.Time
}

func NewService(tickets TicketRepository, events CallEventRepository, seq SequenceAllocator) *Service {
	return &Service{
		tickets: tickets,
		events:  events,
		seq:     seq,
		now:     time.Now,
	}
}

// SetCapacityProvider enables the daily ticket cap. Without a provider
// issuance is uncapped.
func (s *Service) SetCapacityProvider(p CapacityProvider) {
	s.capacity = p
}

// SetPatientDirectory enables patient name/MRN decoration on responses.
func (s *Service) SetPatientDirectory(d PatientDirectory) {
	s.patients = d
}

func (s *Service) IssueTicket(ctx context.Context, input IssueInput) (*Ticket, error) {
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	input.Date = DateOnly(input.Date)

	if s.capacity != nil {
		limit, err := s.capacity.DailyCapacity(ctx, input.ResourceID, input.Date)
		if err != nil {
			return nil, err
		}
		// The repository checks the limit inside the issuing step, so two
		// concurrent walk-ins at limit-1 cannot both get a number.
		input.DailyLimit = limit
	}

	t, err := s.tickets.Issue(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

func (s *Service) CallNext(ctx context.Context, resourceID string, date time.Time) (*Ticket, error) {
	t, _, err := s.tickets.CallNext(ctx, resourceID, DateOnly(date), s.now())
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

func (s *Service) CallSpecific(ctx context.Context, resourceID string, date time.Time, number int) (*Ticket, error) {
	t, err := s.tickets.FindByNumber(ctx, resourceID, DateOnly(date), number)
	if err != nil {
		return nil, err
	}
	t, _, err = s.tickets.Call(ctx, t.ID, s.now())
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

// Recall calls a ticket again. Legal from called and skipped states; the
// ledger entry is typed recall.
func (s *Service) Recall(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, _, err := s.tickets.Call(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

func (s *Service) StartServing(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := s.tickets.StartServing(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := s.tickets.Complete(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

func (s *Service) Skip(ctx context.Context, id uuid.UUID, reason string) (*Ticket, error) {
	t, err := s.tickets.Skip(ctx, id, s.now(), reason)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Ticket, error) {
	t, err := s.tickets.Cancel(ctx, id, s.now(), reason)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, t)
}

func (s *Service) GetTicket(ctx context.Context, id uuid.UUID) (*TicketDetail, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.decorate(ctx, t); err != nil {
		return nil, err
	}
	calls, err := s.events.ListForTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: t, Calls: calls}, nil
}

// QueueStatus returns the waiting-room view: waiting tickets in call order,
// tickets currently called or at the desk, and skipped tickets still
// eligible for recall.
func (s *Service) QueueStatus(ctx context.Context, resourceID string, date time.Time) (*Status, error) {
	date = DateOnly(date)
	waiting, err := s.tickets.ListByStates(ctx, resourceID, date, StateWaiting)
	if err != nil {
		return nil, err
	}
	serving, err := s.tickets.ListByStates(ctx, resourceID, date, StateCalled, StateServing)
	if err != nil {
		return nil, err
	}
	skipped, err := s.tickets.ListByStates(ctx, resourceID, date, StateSkipped)
	if err != nil {
		return nil, err
	}
	status := &Status{Waiting: waiting, Serving: serving, Skipped: skipped}
	for _, list := range [][]*Ticket{status.Waiting, status.Serving, status.Skipped} {
		for _, t := range list {
			if _, err := s.decorate(ctx, t); err != nil {
				return nil, err
			}
		}
	}
	return status, nil
}

func (s *Service) Statistics(ctx context.Context, resourceID string, date time.Time) (Statistics, error) {
	events, err := s.events.ListForResourceDate(ctx, resourceID, date)
	if err != nil {
		return Statistics{}, err
	}
	return Aggregate(resourceID, date, events), nil
}

func (s *Service) CurrentNumber(ctx context.Context, resourceID string, date time.Time) (int, error) {
	return s.seq.Current(ctx, resourceID, date)
}

// ResetSequence zeroes the day's counter. Destructive: codes issued after a
// reset repeat codes issued before it.
func (s *Service) ResetSequence(ctx context.Context, resourceID string, date time.Time) error {
	return s.seq.Reset(ctx, resourceID, date)
}

// decorate fills PatientName and PatientMRN in place when a directory is
// wired and the ticket has a patient. A missing record is not an error.
func (s *Service) decorate(ctx context.Context, t *Ticket) (*Ticket, error) {
	if s.patients == nil || t.PatientID == nil {
		return t, nil
	}
	info, err := s.patients.Lookup(ctx, *t.PatientID)
	if errors.Is(err, ErrPatientNotFound) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}
	t.PatientName = info.Name
	t.PatientMRN = info.MRN
	return t, nil
}
