package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/domain/consultation"
	"github.com/carebridgehq/carebridge/internal/repository/memory"
)

// fakeConsultationRepo implements the slice of consultation.Repository these
// tests touch, with soft deletion hiding rows from later reads.
type fakeConsultationRepo struct {
	consultation.Repository
	consults map[uuid.UUID]*consultation.Consultation
	deleted  map[uuid.UUID]bool
}

func newFakeConsultationRepo(consults ...*consultation.Consultation) *fakeConsultationRepo {
	r := &fakeConsultationRepo{
		consults: make(map[uuid.UUID]*consultation.Consultation),
		deleted:  make(map[uuid.UUID]bool),
	}
	for _, c := range consults {
		r.consults[c.ID] = c
	}
	return r
}

func (r *fakeConsultationRepo) GetByID(_ context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	if c, ok := r.consults[id]; ok && !r.deleted[id] {
		return c, nil
	}
	return nil, consultation.ErrConsultationNotFound
}

func (r *fakeConsultationRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.consults[id]; !ok || r.deleted[id] {
		return consultation.ErrConsultationNotFound
	}
	r.deleted[id] = true
	return nil
}

// Deleting a consultation requires ownership like any other mutation. Once
// deleted it disappears from reads, and a repeated delete reports not found.
func TestDeleteConsultationOwnership(t *testing.T) {
	ctx := context.Background()

	cons := &consultation.Consultation{
		ID:         uuid.New(),
		PatientID:  patientA,
		ProviderID: providerP,
		Type:       consultation.TypeFollowUp,
		Status:     consultation.StatusCancelled,
	}
	repo := newFakeConsultationRepo(cons)
	auditSvc := NewAuditService(noopAuditRepo{}, zap.NewNop())
	t.Cleanup(auditSvc.Shutdown)
	svc := NewConsultationService(repo, access.NewGate(memory.NewConnectionRepository()), auditSvc, zap.NewNop())

	if err := svc.DeleteConsultation(ctx, cons.ID, actorProviderQ, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-creator delete: err = %v, want %v", err, ErrForbidden)
	}
	if err := svc.DeleteConsultation(ctx, cons.ID, actorProviderP, ""); err != nil {
		t.Fatalf("creator delete: %v", err)
	}

	if _, err := svc.GetConsultation(ctx, cons.ID, actorProviderP, ""); !errors.Is(err, consultation.ErrConsultationNotFound) {
		t.Errorf("get after delete: err = %v, want %v", err, consultation.ErrConsultationNotFound)
	}
	if err := svc.DeleteConsultation(ctx, cons.ID, actorProviderP, ""); !errors.Is(err, consultation.ErrConsultationNotFound) {
		t.Errorf("double delete: err = %v, want %v", err, consultation.ErrConsultationNotFound)
	}
}
