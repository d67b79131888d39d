// Package postgres implements the domain store interfaces on gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/carebridgehq/carebridge/internal/domain/connection"
)

type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

var _ connection.Repository = (*ConnectionRepository)(nil)

func (r *ConnectionRepository) Create(ctx context.Context, c *connection.Connection) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return connection.ErrAlreadyExists
		}
		return fmt.Errorf("inserting connection: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*connection.Connection, error) {
	var c connection.Connection
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connection.ErrNotFound
		}
		return nil, fmt.Errorf("fetching connection: %w", err)
	}
	return &c, nil
}

func (r *ConnectionRepository) GetByPair(ctx context.Context, patientID, providerID uuid.UUID) (*connection.Connection, error) {
	var c connection.Connection
	err := r.db.WithContext(ctx).
		First(&c, "patient_id = ? AND provider_id = ?", patientID, providerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connection.ErrNotFound
		}
		return nil, fmt.Errorf("fetching connection by pair: %w", err)
	}
	return &c, nil
}

// Update is the compare-and-set write: the row is updated only if the stored
// version still equals the version the connection was loaded at. Zero rows
// affected means either the row vanished or a concurrent writer bumped the
// version first; the two cases are told apart with a follow-up existence
// check so callers get the right sentinel.
func (r *ConnectionRepository) Update(ctx context.Context, c *connection.Connection) error {
	loadedVersion := c.Version

	res := r.db.WithContext(ctx).
		Model(&connection.Connection{}).
		Where("id = ? AND version = ?", c.ID, loadedVersion).
		Updates(map[string]any{
			"access_state":        c.State,
			"notes":               c.Notes,
			"patient_notified":    c.PatientNotified,
			"patient_notified_at": c.PatientNotifiedAt,
			"state_updated_at":    c.StateUpdatedAt,
			"version":             loadedVersion + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("updating connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&connection.Connection{}).
			Where("id = ?", c.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("checking connection existence: %w", err)
		}
		if count == 0 {
			return connection.ErrNotFound
		}
		return connection.ErrStoreConflict
	}

	c.Version = loadedVersion + 1
	return nil
}

func (r *ConnectionRepository) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND version = ?", id, version).
		Delete(&connection.Connection{})
	if res.Error != nil {
		return fmt.Errorf("deleting connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&connection.Connection{}).
			Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("checking connection existence: %w", err)
		}
		if count == 0 {
			return connection.ErrNotFound
		}
		return connection.ErrStoreConflict
	}
	return nil
}

func (r *ConnectionRepository) List(ctx context.Context, q *connection.ListQuery) (*connection.PagedConnections, error) {
	page, pageSize := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	tx := r.db.WithContext(ctx).Model(&connection.Connection{})
	if q.PatientID != nil {
		tx = tx.Where("patient_id = ?", *q.PatientID)
	}
	if q.ProviderID != nil {
		tx = tx.Where("provider_id = ?", *q.ProviderID)
	}
	if q.State != nil {
		tx = tx.Where("access_state = ?", *q.State)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting connections: %w", err)
	}

	var conns []*connection.Connection
	err := tx.Order("state_updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}

	return &connection.PagedConnections{
		Connections: conns,
		TotalCount:  total,
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (r *ConnectionRepository) ListPendingByPatient(ctx context.Context, patientID uuid.UUID) ([]*connection.Connection, error) {
	var conns []*connection.Connection
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND access_state = ?", patientID, connection.StateLimitedPending).
		Order("state_updated_at DESC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("listing pending connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionRepository) MarkPatientNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&connection.Connection{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"patient_notified":    true,
			"patient_notified_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("marking patient notified: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return connection.ErrNotFound
	}
	return nil
}
