package record

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	Update(ctx context.Context, id uuid.UUID, cmd *UpdateRecordCommand) (*MedicalRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddAddendum(ctx context.Context, a *Addendum) error
	List(ctx context.Context, q *ListRecordsQuery) (*PagedRecords, error)
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*MedicalRecord, error)
}
