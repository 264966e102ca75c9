package queue

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the queue domain.
var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrNoWaitingTicket  = errors.New("no waiting ticket in queue")
	ErrPatientNotFound  = errors.New("patient not found")
	ErrCapacityExceeded = errors.New("daily ticket capacity exceeded")
)

// InvalidStateTransitionError reports an action applied to a ticket in a
// state the action is not legal from. The ticket and the call ledger are
// left untouched when this is returned.
type InvalidStateTransitionError struct {
	Current   State
	Action    Action
	Requested State
}

func NewInvalidTransition(current State, action Action) *InvalidStateTransitionError {
	return &InvalidStateTransitionError{
		Current:   current,
		Action:    action,
		Requested: TargetState(action),
	}
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s ticket in state %q (requested state %q)", e.Action, e.Current, e.Requested)
}

// ContentionError reports that the sequence counter lock could not be
// acquired within the configured timeout. It is the only queue error a
// caller should retry, with backoff.
type ContentionError struct {
	ResourceID string
	Date       time.Time
	Timeout    time.Duration
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("sequence counter for %s on %s contended beyond %s",
		e.ResourceID, e.Date.Format("2006-01-02"), e.Timeout)
}
