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
	"github.com/carebridgehq/carebridge/internal/domain/record"
)

// RecordService handles medical-record CRUD. Reads go through the gate;
// every mutation goes through the ownership check. The same check covers all
// record types; there is no per-type authorization code.
type RecordService struct {
	repo             record.Repository
	consultationRepo consultation.Repository
	gate             *access.Gate
	auditSvc         *AuditService
	log              *zap.Logger
}

func NewRecordService(
	repo record.Repository,
	consultationRepo consultation.Repository,
	gate *access.Gate,
	auditSvc *AuditService,
	log *zap.Logger,
) *RecordService {
	return &RecordService{
		repo:             repo,
		consultationRepo: consultationRepo,
		gate:             gate,
		auditSvc:         auditSvc,
		log:              log,
	}
}

// CreateRecord establishes ownership. When the record belongs to a
// consultation, the consultation's creator must be the acting provider: a
// full-access provider cannot attach records to another provider's
// consultation.
func (s *RecordService) CreateRecord(ctx context.Context, cmd *record.CreateRecordCommand, actor access.Actor, ip string) (*record.MedicalRecord, error) {
	if err := validateCreateRecord(cmd); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleProvider {
		return nil, ErrForbidden
	}

	if cmd.ConsultationID != nil {
		parent, err := s.consultationRepo.GetByID(ctx, *cmd.ConsultationID)
		if err != nil {
			return nil, err
		}
		if err := access.CanMutate(actor, parent); err != nil {
			return nil, ErrForbidden
		}
		if parent.PatientID != cmd.PatientID {
			return nil, &ValidationError{Fields: []string{"consultation belongs to a different patient"}}
		}
	}

	r := &record.MedicalRecord{
		PatientID:         cmd.PatientID,
		ConsultationID:    cmd.ConsultationID,
		CreatorProviderID: actor.ID,
		Type:              cmd.Type,
		SOAPNote:          cmd.SOAPNote,
		Vitals:            cmd.Vitals,
		Diagnoses:         cmd.Diagnoses,
		Notes:             strings.TrimSpace(cmd.Notes),
	}

	if err := s.repo.Create(ctx, r); err != nil {
		s.log.Error("failed to create medical record", zap.Error(err))
		return nil, fmt.Errorf("creating medical record: %w", err)
	}

	s.audit(ctx, actor, domain.ActionCreate, r.ID, ip)
	return r, nil
}

func (s *RecordService) GetRecord(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) (*record.MedicalRecord, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Authorize(ctx, actor, r)
	if err != nil {
		return nil, fmt.Errorf("authorizing read: %w", err)
	}
	if !decision.CanRead() {
		return nil, ErrForbidden
	}

	s.audit(ctx, actor, domain.ActionRead, id, ip)
	return r, nil
}

// UpdateRecord rejects any non-creator, whatever their access level.
func (s *RecordService) UpdateRecord(ctx context.Context, id uuid.UUID, cmd *record.UpdateRecordCommand, actor access.Actor, ip string) (*record.MedicalRecord, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := access.CanMutate(actor, r); err != nil {
		return nil, ErrForbidden
	}

	updated, err := s.repo.Update(ctx, id, cmd)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, domain.ActionUpdate, id, ip)
	return updated, nil
}

func (s *RecordService) DeleteRecord(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) error {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := access.CanMutate(actor, r); err != nil {
		return ErrForbidden
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.audit(ctx, actor, domain.ActionDelete, id, ip)
	return nil
}

// AddAddendum appends a correction. Addenda are mutations of the record and
// therefore creator-only, like every other write.
func (s *RecordService) AddAddendum(ctx context.Context, cmd *record.AddAddendumCommand, actor access.Actor, ip string) (*record.Addendum, error) {
	if strings.TrimSpace(cmd.Content) == "" {
		return nil, &ValidationError{Fields: []string{"content is required"}}
	}

	r, err := s.repo.GetByID(ctx, cmd.MedicalRecordID)
	if err != nil {
		return nil, err
	}
	if err := access.CanMutate(actor, r); err != nil {
		return nil, ErrForbidden
	}

	a := &record.Addendum{
		MedicalRecordID: cmd.MedicalRecordID,
		Content:         cmd.Content,
		CreatedBy:       actor.ID,
	}
	if err := s.repo.AddAddendum(ctx, a); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, domain.ActionUpdate, cmd.MedicalRecordID, ip)
	return a, nil
}

// ListRecords scopes the query to the actor's own view.
func (s *RecordService) ListRecords(ctx context.Context, q *record.ListRecordsQuery, actor access.Actor) (*record.PagedRecords, error) {
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

// ListConsultationRecords returns the records attached to one consultation,
// gated by read access to the consultation itself.
func (s *RecordService) ListConsultationRecords(ctx context.Context, consultationID uuid.UUID, actor access.Actor) ([]*record.MedicalRecord, error) {
	parent, err := s.consultationRepo.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Authorize(ctx, actor, parent)
	if err != nil {
		return nil, fmt.Errorf("authorizing list: %w", err)
	}
	if !decision.CanRead() {
		return nil, ErrForbidden
	}

	return s.repo.ListByConsultation(ctx, consultationID)
}

// ListPatientRecords is the cross-provider view of one patient's records,
// reachable only with full approved access (or as the patient/admin).
func (s *RecordService) ListPatientRecords(ctx context.Context, patientID uuid.UUID, q *record.ListRecordsQuery, actor access.Actor) (*record.PagedRecords, error) {
	probe := &record.MedicalRecord{PatientID: patientID}
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

func (s *RecordService) audit(ctx context.Context, actor access.Actor, action domain.AuditAction, id uuid.UUID, ip string) {
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		UserRole:     string(actor.Role),
		Action:       string(action),
		ResourceType: "medical_record",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})
}

func validateCreateRecord(cmd *record.CreateRecordCommand) error {
	var errs []string

	if cmd.PatientID == uuid.Nil {
		errs = append(errs, "patient_id is required")
	}
	if !cmd.Type.IsValid() {
		errs = append(errs, "type is invalid")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
