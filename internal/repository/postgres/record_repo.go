package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/carebridgehq/carebridge/internal/domain/record"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

var _ record.Repository = (*RecordRepository)(nil)

func (r *RecordRepository) Create(ctx context.Context, rec *record.MedicalRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("inserting medical record: %w", err)
	}
	return nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*record.MedicalRecord, error) {
	var rec record.MedicalRecord
	err := r.db.WithContext(ctx).
		Preload("Addenda").
		First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, record.ErrRecordNotFound
		}
		return nil, fmt.Errorf("fetching medical record: %w", err)
	}
	return &rec, nil
}

func (r *RecordRepository) Update(ctx context.Context, id uuid.UUID, cmd *record.UpdateRecordCommand) (*record.MedicalRecord, error) {
	updates := map[string]any{}
	if cmd.Notes != nil {
		updates["notes"] = *cmd.Notes
	}
	if cmd.Diagnoses != nil {
		rec := record.MedicalRecord{Diagnoses: *cmd.Diagnoses}
		updates["diagnoses"] = rec.Diagnoses
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).
			Model(&record.MedicalRecord{}).
			Where("id = ?", id).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("updating medical record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, record.ErrRecordNotFound
		}
	}

	return r.GetByID(ctx, id)
}

func (r *RecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&record.MedicalRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting medical record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return record.ErrRecordNotFound
	}
	return nil
}

func (r *RecordRepository) AddAddendum(ctx context.Context, a *record.Addendum) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&record.MedicalRecord{}).
		Where("id = ?", a.MedicalRecordID).Count(&count).Error; err != nil {
		return fmt.Errorf("checking record existence: %w", err)
	}
	if count == 0 {
		return record.ErrRecordNotFound
	}

	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("inserting addendum: %w", err)
	}
	return nil
}

func (r *RecordRepository) List(ctx context.Context, q *record.ListRecordsQuery) (*record.PagedRecords, error) {
	page, pageSize := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	tx := r.db.WithContext(ctx).Model(&record.MedicalRecord{})
	if q.PatientID != nil {
		tx = tx.Where("patient_id = ?", *q.PatientID)
	}
	if q.ProviderID != nil {
		tx = tx.Where("creator_provider_id = ?", *q.ProviderID)
	}
	if q.Type != nil {
		tx = tx.Where("type = ?", *q.Type)
	}
	if q.ConsultationID != nil {
		tx = tx.Where("consultation_id = ?", *q.ConsultationID)
	}
	if q.DateFrom != nil {
		tx = tx.Where("created_at >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		tx = tx.Where("created_at <= ?", *q.DateTo)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting medical records: %w", err)
	}

	var records []*record.MedicalRecord
	err := tx.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("listing medical records: %w", err)
	}

	return &record.PagedRecords{
		Records:    records,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (r *RecordRepository) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*record.MedicalRecord, error) {
	var records []*record.MedicalRecord
	err := r.db.WithContext(ctx).
		Where("consultation_id = ?", consultationID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("listing records by consultation: %w", err)
	}
	return records, nil
}
