package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrDuplicateMRN    = errors.New("mrn already registered")
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	// Search matches MRN exactly or name parts case-insensitively.
	Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error)
	Update(ctx context.Context, p *Patient) error
}
