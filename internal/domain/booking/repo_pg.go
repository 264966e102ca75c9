package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

const scheduleCols = `id, resource_id, day_of_week, start_time, end_time, slot_minutes,
	daily_capacity, effective_from, expiry_date, created_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.ResourceID, &s.DayOfWeek, &s.StartTime, &s.EndTime, &s.SlotMinutes,
		&s.DailyCapacity, &s.EffectiveFrom, &s.ExpiryDate, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, resource_id, day_of_week, start_time, end_time, slot_minutes,
			daily_capacity, effective_from, expiry_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		s.ID, s.ResourceID, s.DayOfWeek, s.StartTime, s.EndTime, s.SlotMinutes,
		s.DailyCapacity, s.EffectiveFrom, s.ExpiryDate).Scan(&s.CreatedAt)
}

func (r *scheduleRepoPG) ListForResource(ctx context.Context, resourceID string) ([]*Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleCols+` FROM schedules
		WHERE resource_id = $1
		ORDER BY day_of_week, start_time`,
		resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *scheduleRepoPG) FindForDate(ctx context.Context, resourceID string, date time.Time) (*Schedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx, `
		SELECT `+scheduleCols+` FROM schedules
		WHERE resource_id = $1
		  AND day_of_week = $2
		  AND (effective_from IS NULL OR effective_from <= $3)
		  AND (expiry_date IS NULL OR expiry_date >= $3)
		ORDER BY created_at DESC
		LIMIT 1`,
		resourceID, int(date.Weekday()), date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepoPG{pool: pool}
}

const bookingCols = `id, resource_id, date, start_time, end_time, patient_id, ticket_id, reason, created_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.ResourceID, &b.Date, &b.StartTime, &b.EndTime,
		&b.PatientID, &b.TicketID, &b.Reason, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Book runs the overlap check and the insert in one transaction. Existing
// bookings for the day are row-locked so a concurrent Book for an
// intersecting interval serializes behind this one and then sees it. The
// unique index on (resource_id, date, start_time) backstops exact-start
// races.
func (r *bookingRepoPG) Book(ctx context.Context, b *Booking) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	var clash int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT id FROM bookings
			WHERE resource_id = $1 AND date = $2
			  AND start_time < $4 AND end_time > $3
			FOR UPDATE
		) overlapping`,
		b.ResourceID, b.Date, b.StartTime, b.EndTime).Scan(&clash)
	if err != nil {
		return err
	}
	if clash > 0 {
		return ErrSlotTaken
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (id, resource_id, date, start_time, end_time, patient_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		b.ID, b.ResourceID, b.Date, b.StartTime, b.EndTime, b.PatientID, b.Reason).Scan(&b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrSlotTaken
		}
		return err
	}
	return tx.Commit(ctx)
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id))
}

func (r *bookingRepoPG) ListForDate(ctx context.Context, resourceID string, date time.Time) ([]*Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingCols+` FROM bookings
		WHERE resource_id = $1 AND date = $2
		ORDER BY start_time`,
		resourceID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *bookingRepoPG) CountForDate(ctx context.Context, resourceID string, date time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE resource_id = $1 AND date = $2`,
		resourceID, date).Scan(&count)
	return count, err
}

func (r *bookingRepoPG) AttachTicket(ctx context.Context, id uuid.UUID, ticketID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET ticket_id = $2 WHERE id = $1 AND ticket_id IS NULL`,
		id, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyCheckedIn
	}
	return nil
}
