package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/carebridgehq/carebridge/internal/domain/consultation"
)

type ConsultationRepository struct {
	db *gorm.DB
}

func NewConsultationRepository(db *gorm.DB) *ConsultationRepository {
	return &ConsultationRepository{db: db}
}

var _ consultation.Repository = (*ConsultationRepository)(nil)

func (r *ConsultationRepository) Create(ctx context.Context, c *consultation.Consultation) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("inserting consultation: %w", err)
	}
	return nil
}

func (r *ConsultationRepository) GetByID(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	var c consultation.Consultation
	err := r.db.WithContext(ctx).First(&c, "id = ? AND deleted_at IS NULL", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, consultation.ErrConsultationNotFound
		}
		return nil, fmt.Errorf("fetching consultation: %w", err)
	}
	return &c, nil
}

func (r *ConsultationRepository) Update(ctx context.Context, id uuid.UUID, cmd *consultation.UpdateConsultationCommand) (*consultation.Consultation, error) {
	updates := map[string]any{}
	if cmd.Type != nil {
		updates["type"] = *cmd.Type
	}
	if cmd.ChiefComplaint != nil {
		updates["chief_complaint"] = *cmd.ChiefComplaint
	}
	if cmd.Summary != nil {
		updates["summary"] = *cmd.Summary
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).
			Model(&consultation.Consultation{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("updating consultation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, consultation.ErrConsultationNotFound
		}
	}

	return r.GetByID(ctx, id)
}

func (r *ConsultationRepository) List(ctx context.Context, q *consultation.ListConsultationsQuery) (*consultation.PagedConsultations, error) {
	page, pageSize := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	tx := r.db.WithContext(ctx).Model(&consultation.Consultation{}).Where("deleted_at IS NULL")
	if q.PatientID != nil {
		tx = tx.Where("patient_id = ?", *q.PatientID)
	}
	if q.ProviderID != nil {
		tx = tx.Where("provider_id = ?", *q.ProviderID)
	}
	if q.Status != nil {
		tx = tx.Where("status = ?", *q.Status)
	}
	if q.Type != nil {
		tx = tx.Where("type = ?", *q.Type)
	}
	if q.DateFrom != nil {
		tx = tx.Where("created_at >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		tx = tx.Where("created_at <= ?", *q.DateTo)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting consultations: %w", err)
	}

	var consultations []*consultation.Consultation
	err := tx.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&consultations).Error
	if err != nil {
		return nil, fmt.Errorf("listing consultations: %w", err)
	}

	return &consultation.PagedConsultations{
		Consultations: consultations,
		TotalCount:    total,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (r *ConsultationRepository) UpdateStatus(ctx context.Context, c *consultation.Consultation) error {
	res := r.db.WithContext(ctx).
		Model(&consultation.Consultation{}).
		Where("id = ? AND deleted_at IS NULL", c.ID).
		Updates(map[string]any{
			"status":              c.Status,
			"started_at":          c.StartedAt,
			"completed_at":        c.CompletedAt,
			"summary":             c.Summary,
			"cancelled_at":        c.CancelledAt,
			"cancellation_reason": c.CancellationReason,
			"cancelled_by":        c.CancelledBy,
		})
	if res.Error != nil {
		return fmt.Errorf("updating consultation status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return consultation.ErrConsultationNotFound
	}
	return nil
}

func (r *ConsultationRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&consultation.Consultation{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", gorm.Expr("NOW()"))
	if res.Error != nil {
		return fmt.Errorf("soft-deleting consultation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return consultation.ErrConsultationNotFound
	}
	return nil
}
