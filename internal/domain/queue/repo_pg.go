package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLockNotAvailable is the SQLSTATE raised when lock_timeout expires while
// waiting on the sequence row.
const pgLockNotAvailable = "55P03"

const ticketCols = `id, resource_id, date, queue_number, queue_code, state, source,
	patient_id, reason, created_at, called_at, responded_at, served_at, completed_at, cancelled_at`

// =========== Ticket Repository ===========

type ticketRepoPG struct {
	pool        *pgxpool.Pool
	prefixes    *PrefixTable
	lockTimeout time.Duration
}

// NewTicketRepoPG creates the Postgres-backed ticket repository. lockTimeout
// bounds how long an issuing transaction waits on the sequence row before
// surfacing a ContentionError.
func NewTicketRepoPG(pool *pgxpool.Pool, prefixes *PrefixTable, lockTimeout time.Duration) TicketRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &ticketRepoPG{pool: pool, prefixes: prefixes, lockTimeout: lockTimeout}
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.ResourceID, &t.Date, &t.QueueNumber, &t.QueueCode, &t.State, &t.Source,
		&t.PatientID, &t.Reason, &t.CreatedAt, &t.CalledAt, &t.RespondedAt, &t.ServedAt, &t.CompletedAt, &t.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nextNumber performs the atomic read-increment-write on the counter row.
// The upsert creates the counter on first use with no race window: two
// first-callers conflict on the primary key and serialize.
func (r *ticketRepoPG) nextNumber(ctx context.Context, tx pgx.Tx, resourceID string, date time.Time) (int, error) {
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return 0, err
	}
	var number int
	err := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (resource_id, date, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (resource_id, date)
		DO UPDATE SET last_number = ticket_sequences.last_number + 1
		RETURNING last_number`,
		resourceID, date).Scan(&number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return 0, &ContentionError{ResourceID: resourceID, Date: date, Timeout: r.lockTimeout}
		}
		return 0, err
	}
	return number, nil
}

func (r *ticketRepoPG) Issue(ctx context.Context, input IssueInput) (*Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	date := DateOnly(input.Date)
	number, err := r.nextNumber(ctx, tx, input.ResourceID, date)
	if err != nil {
		return nil, err
	}
	// nextNumber holds the counter row lock until commit, so concurrent
	// issuers for the day serialize and this count cannot move under us.
	// Rolling back on a full day also undoes the increment.
	if input.DailyLimit > 0 {
		var issued int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM tickets WHERE resource_id = $1 AND date = $2`,
			input.ResourceID, date).Scan(&issued); err != nil {
			return nil, err
		}
		if issued >= input.DailyLimit {
			return nil, ErrCapacityExceeded
		}
	}
	code := FormatCode(r.prefixes.Resolve(input.ResourceID), number)

	t, err := scanTicket(tx.QueryRow(ctx, `
		INSERT INTO tickets (id, resource_id, date, queue_number, queue_code, state, source, patient_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+ticketCols,
		uuid.New(), input.ResourceID, date, number, code, StateWaiting, input.Source, input.PatientID, input.Reason))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *ticketRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id = $1`, id))
}

func (r *ticketRepoPG) FindByNumber(ctx context.Context, resourceID string, date time.Time, number int) (*Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx,
		`SELECT `+ticketCols+` FROM tickets WHERE resource_id = $1 AND date = $2 AND queue_number = $3`,
		resourceID, DateOnly(date), number))
}

func (r *ticketRepoPG) ListByStates(ctx context.Context, resourceID string, date time.Time, states ...State) ([]*Ticket, error) {
	stateArgs := make([]string, len(states))
	for i, s := range states {
		stateArgs[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketCols+` FROM tickets
		WHERE resource_id = $1 AND date = $2 AND state = ANY($3)
		ORDER BY queue_number ASC`,
		resourceID, DateOnly(date), stateArgs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *ticketRepoPG) CountForDate(ctx context.Context, resourceID string, date time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE resource_id = $1 AND date = $2`,
		resourceID, DateOnly(date)).Scan(&count)
	return count, err
}

// lockTicket loads a ticket inside tx with a row lock so that two staff
// members acting on the same ticket serialize; the loser then fails the
// state guard instead of overwriting.
func lockTicket(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Ticket, error) {
	return scanTicket(tx.QueryRow(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id = $1 FOR UPDATE`, id))
}

func (r *ticketRepoPG) Call(ctx context.Context, id uuid.UUID, at time.Time) (*Ticket, *CallEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	t, err := lockTicket(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	t, ev, err := callInTx(ctx, tx, t, at)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return t, ev, nil
}

func (r *ticketRepoPG) CallNext(ctx context.Context, resourceID string, date time.Time, at time.Time) (*Ticket, *CallEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTicket(tx.QueryRow(ctx, `
		SELECT `+ticketCols+` FROM tickets
		WHERE resource_id = $1 AND date = $2 AND state = $3
		ORDER BY queue_number ASC
		LIMIT 1
		FOR UPDATE`,
		resourceID, DateOnly(date), StateWaiting))
	if errors.Is(err, ErrTicketNotFound) {
		return nil, nil, ErrNoWaitingTicket
	}
	if err != nil {
		return nil, nil, err
	}
	t, ev, err := callInTx(ctx, tx, t, at)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return t, ev, nil
}

func callInTx(ctx context.Context, tx pgx.Tx, t *Ticket, at time.Time) (*Ticket, *CallEvent, error) {
	if !CanTransition(ActionCall, t.State) {
		return nil, nil, NewInvalidTransition(t.State, ActionCall)
	}
	callType := CallTypeFor(t.State)
	at = at.UTC()

	t, err := scanTicket(tx.QueryRow(ctx, `
		UPDATE tickets SET state = $2, called_at = $3 WHERE id = $1
		RETURNING `+ticketCols,
		t.ID, StateCalled, at))
	if err != nil {
		return nil, nil, err
	}

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
	if _, err := tx.Exec(ctx, `
		INSERT INTO call_events (id, ticket_id, resource_id, date, queue_code, call_type, called_at, response_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.TicketID, ev.ResourceID, ev.Date, ev.QueueCode, ev.CallType, ev.CalledAt, ev.ResponseStatus); err != nil {
		return nil, nil, err
	}
	return t, ev, nil
}

// settlePending fills in the outcome of the newest pending call event for a
// ticket. Entries are written at most once: the WHERE clause only matches
// rows still pending.
func settlePending(ctx context.Context, tx pgx.Tx, ticketID uuid.UUID, status ResponseStatus, respondedAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE call_events SET response_status = $2, responded_at = $3
		WHERE id = (
			SELECT id FROM call_events
			WHERE ticket_id = $1 AND response_status = $4
			ORDER BY called_at DESC
			LIMIT 1
		)`,
		ticketID, status, respondedAt, ResponsePending)
	return err
}

func (r *ticketRepoPG) StartServing(ctx context.Context, id uuid.UUID, at time.Time) (*Ticket, error) {
	return r.transition(ctx, id, ActionStartServing, func(ctx context.Context, tx pgx.Tx, t *Ticket) (*Ticket, error) {
		at := at.UTC()
		if err := settlePending(ctx, tx, t.ID, ResponseResponded, &at); err != nil {
			return nil, err
		}
		return scanTicket(tx.QueryRow(ctx, `
			UPDATE tickets SET state = $2, served_at = $3, responded_at = $3 WHERE id = $1
			RETURNING `+ticketCols,
			t.ID, StateServing, at))
	})
}

func (r *ticketRepoPG) Skip(ctx context.Context, id uuid.UUID, at time.Time, reason string) (*Ticket, error) {
	return r.transition(ctx, id, ActionSkip, func(ctx context.Context, tx pgx.Tx, t *Ticket) (*Ticket, error) {
		if err := settlePending(ctx, tx, t.ID, ResponseNoResponse, nil); err != nil {
			return nil, err
		}
		return scanTicket(tx.QueryRow(ctx, `
			UPDATE tickets SET state = $2, reason = NULLIF($3, '') WHERE id = $1
			RETURNING `+ticketCols,
			t.ID, StateSkipped, reason))
	})
}

func (r *ticketRepoPG) Complete(ctx context.Context, id uuid.UUID, at time.Time) (*Ticket, error) {
	return r.transition(ctx, id, ActionComplete, func(ctx context.Context, tx pgx.Tx, t *Ticket) (*Ticket, error) {
		return scanTicket(tx.QueryRow(ctx, `
			UPDATE tickets SET state = $2, completed_at = $3 WHERE id = $1
			RETURNING `+ticketCols,
			t.ID, StateCompleted, at.UTC()))
	})
}

func (r *ticketRepoPG) Cancel(ctx context.Context, id uuid.UUID, at time.Time, reason string) (*Ticket, error) {
	return r.transition(ctx, id, ActionCancel, func(ctx context.Context, tx pgx.Tx, t *Ticket) (*Ticket, error) {
		return scanTicket(tx.QueryRow(ctx, `
			UPDATE tickets SET state = $2, cancelled_at = $3, reason = COALESCE(NULLIF($4, ''), reason) WHERE id = $1
			RETURNING `+ticketCols,
			t.ID, StateCancelled, at.UTC(), reason))
	})
}

// transition runs one guarded lifecycle step in a transaction: lock the row,
// check the state machine, apply. Nothing is written when the guard fails.
func (r *ticketRepoPG) transition(ctx context.Context, id uuid.UUID, action Action,
	apply func(context.Context, pgx.Tx, *Ticket) (*Ticket, error)) (*Ticket, error) {

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := lockTicket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(action, t.State) {
		return nil, NewInvalidTransition(t.State, action)
	}
	t, err = apply(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// =========== Sequence Repository ===========

type sequenceRepoPG struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewSequenceRepoPG creates the Postgres-backed allocator used by the
// administrative endpoints. Ticket issuance allocates through the ticket
// repository so the increment and the insert share one transaction.
func NewSequenceRepoPG(pool *pgxpool.Pool, lockTimeout time.Duration) SequenceAllocator {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &sequenceRepoPG{pool: pool, lockTimeout: lockTimeout}
}

func (r *sequenceRepoPG) Next(ctx context.Context, resourceID string, date time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	helper := &ticketRepoPG{pool: r.pool, lockTimeout: r.lockTimeout}
	number, err := helper.nextNumber(ctx, tx, resourceID, DateOnly(date))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return number, nil
}

func (r *sequenceRepoPG) Current(ctx context.Context, resourceID string, date time.Time) (int, error) {
	var number int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT last_number FROM ticket_sequences WHERE resource_id = $1 AND date = $2), 0)`,
		resourceID, DateOnly(date)).Scan(&number)
	return number, err
}

func (r *sequenceRepoPG) Reset(ctx context.Context, resourceID string, date time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ticket_sequences (resource_id, date, last_number)
		VALUES ($1, $2, 0)
		ON CONFLICT (resource_id, date) DO UPDATE SET last_number = 0`,
		resourceID, DateOnly(date))
	return err
}

// =========== Call Event Repository ===========

type callEventRepoPG struct{ pool *pgxpool.Pool }

func NewCallEventRepoPG(pool *pgxpool.Pool) CallEventRepository {
	return &callEventRepoPG{pool: pool}
}

const eventCols = `id, ticket_id, resource_id, date, queue_code, call_type, called_at, responded_at, response_status`

func scanEvent(row pgx.Row) (*CallEvent, error) {
	var ev CallEvent
	err := row.Scan(&ev.ID, &ev.TicketID, &ev.ResourceID, &ev.Date, &ev.QueueCode,
		&ev.CallType, &ev.CalledAt, &ev.RespondedAt, &ev.ResponseStatus)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *callEventRepoPG) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*CallEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*CallEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *callEventRepoPG) ListForTicket(ctx context.Context, ticketID uuid.UUID) ([]*CallEvent, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventCols+` FROM call_events WHERE ticket_id = $1 ORDER BY called_at DESC`, ticketID)
}

func (r *callEventRepoPG) ListForResourceDate(ctx context.Context, resourceID string, date time.Time) ([]*CallEvent, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventCols+` FROM call_events WHERE resource_id = $1 AND date = $2 ORDER BY called_at ASC`,
		resourceID, DateOnly(date))
}

func (r *callEventRepoPG) FindLatestPending(ctx context.Context, ticketID uuid.UUID) (*CallEvent, error) {
	ev, err := scanEvent(r.pool.QueryRow(ctx, `
		SELECT `+eventCols+` FROM call_events
		WHERE ticket_id = $1 AND response_status = $2
		ORDER BY called_at DESC LIMIT 1`,
		ticketID, ResponsePending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}
