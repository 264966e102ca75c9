package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, mrn, first_name, last_name, birth_date, gender, phone_mobile, email, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.PhoneMobile, &p.Email, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, mrn, first_name, last_name, birth_date, gender, phone_mobile, email, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.PhoneMobile, p.Email, p.Active).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateMRN
		}
		return err
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE mrn = $1`, mrn))
}

func (r *patientRepoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	pattern := "%" + query + "%"
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM patients
		WHERE mrn = $1 OR first_name ILIKE $2 OR last_name ILIKE $2`,
		query, pattern).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE mrn = $1 OR first_name ILIKE $2 OR last_name ILIKE $2
		ORDER BY last_name, first_name
		LIMIT $3 OFFSET $4`,
		query, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients SET first_name = $2, last_name = $3, birth_date = $4, gender = $5,
			phone_mobile = $6, email = $7, active = $8, updated_at = now()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.PhoneMobile, p.Email, p.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}
