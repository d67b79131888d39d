package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/internal/domain/consultation"
)

// ConsultationService is ordinary CRUD plumbing; everything interesting is
// delegated to the gate for reads and the ownership check for writes.
type ConsultationService struct {
	repo     consultation.Repository
	gate     *access.Gate
	auditSvc *AuditService
	log      *zap.Logger
}

func NewConsultationService(
	repo consultation.Repository,
	gate *access.Gate,
	auditSvc *AuditService,
	log *zap.Logger,
) *ConsultationService {
	return &ConsultationService{repo: repo, gate: gate, auditSvc: auditSvc, log: log}
}

// CreateConsultation establishes ownership: the acting provider becomes the
// creator and keeps write rights regardless of later connection changes.
func (s *ConsultationService) CreateConsultation(ctx context.Context, cmd *consultation.CreateConsultationCommand, actor access.Actor, ip string) (*consultation.Consultation, error) {
	if err := validateCreateConsultation(cmd); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleProvider || actor.ID != cmd.ProviderID {
		return nil, ErrForbidden
	}

	c := &consultation.Consultation{
		PatientID:      cmd.PatientID,
		ProviderID:     cmd.ProviderID,
		Type:           cmd.Type,
		Status:         consultation.StatusOpen,
		ChiefComplaint: strings.TrimSpace(cmd.ChiefComplaint),
	}

	if err := s.repo.Create(ctx, c); err != nil {
		s.log.Error("failed to create consultation", zap.Error(err))
		return nil, fmt.Errorf("creating consultation: %w", err)
	}

	s.audit(ctx, actor, domain.ActionCreate, c.ID, ip)
	return c, nil
}

func (s *ConsultationService) GetConsultation(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) (*consultation.Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Authorize(ctx, actor, c)
	if err != nil {
		return nil, fmt.Errorf("authorizing read: %w", err)
	}
	if !decision.CanRead() {
		return nil, ErrForbidden
	}

	s.audit(ctx, actor, domain.ActionRead, id, ip)
	return c, nil
}

// UpdateConsultation requires ownership, not just access level: an approved
// full connection still cannot edit another provider's consultation.
func (s *ConsultationService) UpdateConsultation(ctx context.Context, id uuid.UUID, cmd *consultation.UpdateConsultationCommand, actor access.Actor, ip string) (*consultation.Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := access.CanMutate(actor, c); err != nil {
		return nil, ErrForbidden
	}
	if cmd.Type != nil && !cmd.Type.IsValid() {
		return nil, consultation.ErrInvalidConsultationType
	}

	updated, err := s.repo.Update(ctx, id, cmd)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, domain.ActionUpdate, id, ip)
	return updated, nil
}

func (s *ConsultationService) StartConsultation(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) (*consultation.Consultation, error) {
	return s.transition(ctx, id, actor, ip, func(c *consultation.Consultation) error {
		return c.Start()
	})
}

func (s *ConsultationService) CompleteConsultation(ctx context.Context, id uuid.UUID, summary string, actor access.Actor, ip string) (*consultation.Consultation, error) {
	return s.transition(ctx, id, actor, ip, func(c *consultation.Consultation) error {
		return c.Complete(summary)
	})
}

func (s *ConsultationService) CancelConsultation(ctx context.Context, id uuid.UUID, reason string, actor access.Actor, ip string) (*consultation.Consultation, error) {
	return s.transition(ctx, id, actor, ip, func(c *consultation.Consultation) error {
		return c.Cancel(reason, actor.ID)
	})
}

// DeleteConsultation soft-deletes a consultation. Ownership is required, the
// same as any other mutation; the row is kept for the audit trail and linked
// records stay in place.
func (s *ConsultationService) DeleteConsultation(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := access.CanMutate(actor, c); err != nil {
		return ErrForbidden
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}

	s.audit(ctx, actor, domain.ActionDelete, id, ip)
	return nil
}

// ListConsultations scopes the query to what the actor may see: patients see
// their own, providers see what they authored plus full-access patients'
// consultations are listed per patient through ListPatientConsultations.
func (s *ConsultationService) ListConsultations(ctx context.Context, q *consultation.ListConsultationsQuery, actor access.Actor) (*consultation.PagedConsultations, error) {
	switch actor.Role {
	case domain.RoleAdmin:
		// filters as given
	case domain.RolePatient:
		q.PatientID = &actor.ID
		q.ProviderID = nil
	case domain.RoleProvider:
		q.ProviderID = &actor.ID
	default:
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, q)
}

// ListPatientConsultations is the cross-provider view of one patient's
// consultations. It is reachable only with full approved access (or as the
// patient/admin); the per-resource gate decision is probed with a synthetic
// resource authored by nobody, which yields ReadOnly only for full access.
func (s *ConsultationService) ListPatientConsultations(ctx context.Context, patientID uuid.UUID, q *consultation.ListConsultationsQuery, actor access.Actor) (*consultation.PagedConsultations, error) {
	probe := &consultation.Consultation{PatientID: patientID}
	decision, err := s.gate.Authorize(ctx, actor, probe)
	if err != nil {
		return nil, fmt.Errorf("authorizing list: %w", err)
	}
	if !decision.CanRead() {
		return nil, ErrForbidden
	}

	q.PatientID = &patientID
	q.ProviderID = nil
	return s.repo.List(ctx, q)
}

func (s *ConsultationService) transition(ctx context.Context, id uuid.UUID, actor access.Actor, ip string, apply func(*consultation.Consultation) error) (*consultation.Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := access.CanMutate(actor, c); err != nil {
		return nil, ErrForbidden
	}
	if err := apply(c); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, c); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, domain.ActionUpdate, id, ip)
	return c, nil
}

func (s *ConsultationService) audit(ctx context.Context, actor access.Actor, action domain.AuditAction, id uuid.UUID, ip string) {
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		UserRole:     string(actor.Role),
		Action:       string(action),
		ResourceType: "consultation",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})
}

func validateCreateConsultation(cmd *consultation.CreateConsultationCommand) error {
	var errs []string

	if cmd.PatientID == uuid.Nil {
		errs = append(errs, "patient_id is required")
	}
	if cmd.ProviderID == uuid.Nil {
		errs = append(errs, "provider_id is required")
	}
	if !cmd.Type.IsValid() {
		errs = append(errs, "type is invalid")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
