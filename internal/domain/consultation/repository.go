package consultation

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	Update(ctx context.Context, id uuid.UUID, cmd *UpdateConsultationCommand) (*Consultation, error)
	List(ctx context.Context, q *ListConsultationsQuery) (*PagedConsultations, error)

	// UpdateStatus persists a status transition already applied to c.
	UpdateStatus(ctx context.Context, c *Consultation) error

	SoftDelete(ctx context.Context, id uuid.UUID) error
}
