package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process implementation of TicketRepository,
// CallEventRepository and SequenceAllocator. A single mutex serializes
// counter increments and lifecycle transitions, which makes allocation
// linearizable as long as all issuance goes through one process instance.
// Multi-instance deployments must use the Postgres-backed repositories.
type MemoryStore struct {
	mu       sync.RWMutex
	prefixes *PrefixTable
	counters map[string]int
	tickets  map[uuid.UUID]*Ticket
	events   []*CallEvent
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(prefixes *PrefixTable) *MemoryStore {
	return &MemoryStore{
		prefixes: prefixes,
		counters: make(map[string]int),
		tickets:  make(map[uuid.UUID]*Ticket),
	}
}

func seqKey(resourceID string, date time.Time) string {
	return resourceID + "|" + DateOnly(date).Format("2006-01-02")
}

// -- SequenceAllocator --

func (m *MemoryStore) Next(_ context.Context, resourceID string, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seqKey(resourceID, date)
	m.counters[key]++
	return m.counters[key], nil
}

func (m *MemoryStore) Current(_ context.Context, resourceID string, date time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[seqKey(resourceID, date)], nil
}

func (m *MemoryStore) Reset(_ context.Context, resourceID string, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[seqKey(resourceID, date)] = 0
	return nil
}

// -- TicketRepository --

func (m *MemoryStore) Issue(_ context.Context, input IssueInput) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	date := DateOnly(input.Date)
	if input.DailyLimit > 0 {
		issued := 0
		for _, t := range m.tickets {
			if t.ResourceID == input.ResourceID && t.Date.Equal(date) {
				issued++
			}
		}
		if issued >= input.DailyLimit {
			return nil, ErrCapacityExceeded
		}
	}
	key := seqKey(input.ResourceID, date)
	m.counters[key]++
	number := m.counters[key]

	t := &Ticket{
		ID:          uuid.New(),
		ResourceID:  input.ResourceID,
		Date:        date,
		QueueNumber: number,
		QueueCode:   FormatCode(m.prefixes.Resolve(input.ResourceID), number),
		State:       StateWaiting,
		Source:      input.Source,
		PatientID:   input.PatientID,
		Reason:      input.Reason,
		CreatedAt:   time.Now().UTC(),
	}
	m.tickets[t.ID] = t
	return cloneTicket(t), nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

func (m *MemoryStore) FindByNumber(_ context.Context, resourceID string, date time.Time, number int) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = DateOnly(date)
	for _, t := range m.tickets {
		if t.ResourceID == resourceID && t.Date.Equal(date) && t.QueueNumber == number {
			return cloneTicket(t), nil
		}
	}
	return nil, ErrTicketNotFound
}

func (m *MemoryStore) ListByStates(_ context.Context, resourceID string, date time.Time, states ...State) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = DateOnly(date)
	var result []*Ticket
	for _, t := range m.tickets {
		if t.ResourceID != resourceID || !t.Date.Equal(date) {
			continue
		}
		for _, s := range states {
			if t.State == s {
				result = append(result, cloneTicket(t))
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].QueueNumber < result[j].QueueNumber })
	return result, nil
}

func (m *MemoryStore) CountForDate(_ context.Context, resourceID string, date time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = DateOnly(date)
	count := 0
	for _, t := range m.tickets {
		if t.ResourceID == resourceID && t.Date.Equal(date) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Call(_ context.Context, id uuid.UUID, at time.Time) (*Ticket, *CallEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, nil, ErrTicketNotFound
	}
	return m.callLocked(t, at)
}

func (m *MemoryStore) CallNext(_ context.Context, resourceID string, date time.Time, at time.Time) (*Ticket, *CallEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date = DateOnly(date)

	var next *Ticket
	for _, t := range m.tickets {
		if t.ResourceID != resourceID || !t.Date.Equal(date) || t.State != StateWaiting {
			continue
		}
		if next == nil || t.QueueNumber < next.QueueNumber {
			next = t
		}
	}
	if next == nil {
		return nil, nil, ErrNoWaitingTicket
	}
	return m.callLocked(next, at)
}

// callLocked applies the call action and appends the ledger entry. Caller
// holds the write lock.
func (m *MemoryStore) callLocked(t *Ticket, at time.Time) (*Ticket, *CallEvent, error) {
	if !CanTransition(ActionCall, t.State) {
		return nil, nil, NewInvalidTransition(t.State, ActionCall)
	}
	callType := CallTypeFor(t.State)
	at = at.UTC()
	t.State = StateCalled
	t.CalledAt = &at

	ev := &CallEvent{
		ID:             uuid.New(),
		TicketID:       t.ID,
		ResourceID:     t.ResourceID,
		Date:           t.Date,
		QueueCode:      t.QueueCode,
		CallType:       callType,
		CalledAt:       at,
		ResponseStatus: ResponsePending,
	}
	m.events = append(m.events, ev)
	return cloneTicket(t), cloneEvent(ev), nil
}

func (m *MemoryStore) StartServing(_ context.Context, id uuid.UUID, at time.Time) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if !CanTransition(ActionStartServing, t.State) {
		return nil, NewInvalidTransition(t.State, ActionStartServing)
	}
	at = at.UTC()
	t.State = StateServing
	t.ServedAt = &at
	t.RespondedAt = &at
	if ev := m.latestPendingLocked(id); ev != nil {
		ev.RespondedAt = &at
		ev.ResponseStatus = ResponseResponded
	}
	return cloneTicket(t), nil
}

func (m *MemoryStore) Skip(_ context.Context, id uuid.UUID, at time.Time, reason string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if !CanTransition(ActionSkip, t.State) {
		return nil, NewInvalidTransition(t.State, ActionSkip)
	}
	t.State = StateSkipped
	if reason != "" {
		t.Reason = &reason
	}
	if ev := m.latestPendingLocked(id); ev != nil {
		ev.ResponseStatus = ResponseNoResponse
	}
	return cloneTicket(t), nil
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, at time.Time) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if !CanTransition(ActionComplete, t.State) {
		return nil, NewInvalidTransition(t.State, ActionComplete)
	}
	at = at.UTC()
	t.State = StateCompleted
	t.CompletedAt = &at
	return cloneTicket(t), nil
}

func (m *MemoryStore) Cancel(_ context.Context, id uuid.UUID, at time.Time, reason string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if !CanTransition(ActionCancel, t.State) {
		return nil, NewInvalidTransition(t.State, ActionCancel)
	}
	at = at.UTC()
	t.State = StateCancelled
	t.CancelledAt = &at
	if reason != "" {
		t.Reason = &reason
	}
	return cloneTicket(t), nil
}

// -- CallEventRepository --

func (m *MemoryStore) ListForTicket(_ context.Context, ticketID uuid.UUID) ([]*CallEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*CallEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].TicketID == ticketID {
			result = append(result, cloneEvent(m.events[i]))
		}
	}
	return result, nil
}

func (m *MemoryStore) ListForResourceDate(_ context.Context, resourceID string, date time.Time) ([]*CallEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	date = DateOnly(date)
	var result []*CallEvent
	for _, ev := range m.events {
		if ev.ResourceID == resourceID && ev.Date.Equal(date) {
			result = append(result, cloneEvent(ev))
		}
	}
	return result, nil
}

func (m *MemoryStore) FindLatestPending(_ context.Context, ticketID uuid.UUID) (*CallEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ev := m.latestPendingLocked(ticketID); ev != nil {
		return cloneEvent(ev), nil
	}
	return nil, nil
}

func (m *MemoryStore) latestPendingLocked(ticketID uuid.UUID) *CallEvent {
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if ev.TicketID == ticketID && ev.ResponseStatus == ResponsePending {
			return ev
		}
	}
	return nil
}

func cloneTicket(t *Ticket) *Ticket {
	c := *t
	return &c
}

func cloneEvent(ev *CallEvent) *CallEvent {
	c := *ev
	return &c
}
