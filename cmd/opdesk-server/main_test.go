package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/opdesk/opdesk/internal/domain/directory"
	"github.com/opdesk/opdesk/internal/domain/queue"
)

type stubPatientRepo struct {
	patients map[uuid.UUID]*directory.Patient
}

func (r *stubPatientRepo) Create(ctx context.Context, p *directory.Patient) error { return nil }

func (r *stubPatientRepo) GetByID(ctx context.Context, id uuid.UUID) (*directory.Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, directory.ErrPatientNotFound
	}
	return p, nil
}

func (r *stubPatientRepo) GetByMRN(ctx context.Context, mrn string) (*directory.Patient, error) {
	return nil, directory.ErrPatientNotFound
}

func (r *stubPatientRepo) Search(ctx context.Context, query string, limit, offset int) ([]*directory.Patient, int, error) {
	return nil, 0, nil
}

func (r *stubPatientRepo) Update(ctx context.Context, p *directory.Patient) error { return nil }

func TestPatientDirectoryAdapter_Lookup(t *testing.T) {
	id := uuid.New()
	repo := &stubPatientRepo{patients: map[uuid.UUID]*directory.Patient{
		id: {ID: id, MRN: "MRN-100", FirstName: "Maya", LastName: "Singh"},
	}}
	adapter := NewPatientDirectoryAdapter(directory.NewService(repo))

	info, err := adapter.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Name != "Maya Singh" {
		t.Errorf("name = %q, want %q", info.Name, "Maya Singh")
	}
	if info.MRN != "MRN-100" {
		t.Errorf("mrn = %q, want %q", info.MRN, "MRN-100")
	}
}

func TestPatientDirectoryAdapter_NotFound(t *testing.T) {
	repo := &stubPatientRepo{patients: map[uuid.UUID]*directory.Patient{}}
	adapter := NewPatientDirectoryAdapter(directory.NewService(repo))

	_, err := adapter.Lookup(context.Background(), uuid.New())
	if !errors.Is(err, queue.ErrPatientNotFound) {
		t.Errorf("expected queue.ErrPatientNotFound, got %v", err)
	}
}

func TestCommandTree(t *testing.T) {
	migrate := migrateCmd()
	subcommands := map[string]bool{}
	for _, c := range migrate.Commands() {
		subcommands[c.Name()] = true
	}
	for _, name := range []string{"up", "status", "down"} {
		if !subcommands[name] {
			t.Errorf("migrate command missing %q subcommand", name)
		}
	}

	serve := serveCmd()
	if serve.Use != "serve" {
		t.Errorf("serve command use = %q", serve.Use)
	}
}
