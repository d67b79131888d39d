package connection

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a notification-worthy outcome of a transition.
type EventKind string

const (
	EventConnectionCreated   EventKind = "connection.created"
	EventFullAccessRequested EventKind = "connection.full_access_requested"
	EventFullAccessApproved  EventKind = "connection.full_access_approved"
	EventFullAccessDenied    EventKind = "connection.full_access_denied"
	EventFullAccessRevoked   EventKind = "connection.full_access_revoked"
	EventConnectionRemoved   EventKind = "connection.removed"
)

// Event is the contract handed to the notification dispatcher. The engine
// only ever produces events; rendering and delivery live outside the core.
type Event struct {
	Kind         EventKind `json:"kind"`
	ConnectionID uuid.UUID `json:"connection_id"`
	PatientID    uuid.UUID `json:"patient_id"`
	ProviderID   uuid.UUID `json:"provider_id"`
	Notes        string    `json:"notes,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
