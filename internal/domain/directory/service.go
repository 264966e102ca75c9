package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients PatientRepository
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients}
}

func (s *Service) Register(ctx context.Context, p *Patient) error {
	if p.MRN == "" {
		return fmt.Errorf("mrn is required")
	}
	if p.FirstName == "" && p.LastName == "" {
		return fmt.Errorf("patient name is required")
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.patients.GetByMRN(ctx, mrn)
}

func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, query, limit, offset)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	return s.patients.Update(ctx, p)
}
