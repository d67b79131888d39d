package connection

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new connection. Returns ErrAlreadyExists when the
	// (patient, provider) pair already has one.
	Create(ctx context.Context, c *Connection) error

	// GetByID retrieves a connection by primary key. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)

	// GetByPair retrieves the connection for a (patient, provider) pair.
	GetByPair(ctx context.Context, patientID, providerID uuid.UUID) (*Connection, error)

	// Update writes the connection back with compare-and-set semantics keyed
	// on Version: the row is written only if the stored version still matches
	// the version the connection was loaded at, and Version is bumped.
	// Returns ErrStoreConflict when a concurrent writer got there first.
	Update(ctx context.Context, c *Connection) error

	// Delete removes the connection, also compare-and-set on version.
	Delete(ctx context.Context, id uuid.UUID, version int64) error

	// List returns a paginated view for either party.
	List(ctx context.Context, q *ListQuery) (*PagedConnections, error)

	// ListPendingByPatient is the patient's pending-request inbox, ordered by
	// most recent state change first.
	ListPendingByPatient(ctx context.Context, patientID uuid.UUID) ([]*Connection, error)

	// MarkPatientNotified records that the patient was informed of a pending
	// request. Best-effort bookkeeping; does not bump the version.
	MarkPatientNotified(ctx context.Context, id uuid.UUID, at time.Time) error
}
