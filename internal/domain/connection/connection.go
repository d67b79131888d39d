package connection

import (
	"time"

	"github.com/google/uuid"
)

// AccessLevel is the ceiling of read access a provider holds for a patient.
type AccessLevel string

const (
	LevelLimited AccessLevel = "limited"
	LevelFull    AccessLevel = "full"
)

// FullAccessStatus is the workflow state of a request to raise the ceiling.
type FullAccessStatus string

const (
	FullAccessNone     FullAccessStatus = "none"
	FullAccessPending  FullAccessStatus = "pending"
	FullAccessApproved FullAccessStatus = "approved"
	FullAccessDenied   FullAccessStatus = "denied"
)

// AccessState is the combined (level, status) state machine. Only four
// combinations are legal; modelling them as one value keeps the illegal
// ones (full+pending, full+denied, ...) unrepresentable.
type AccessState string

const (
	StateLimitedNone    AccessState = "limited_none"
	StateLimitedPending AccessState = "limited_pending"
	StateLimitedDenied  AccessState = "limited_denied"
	StateFullApproved   AccessState = "full_approved"
)

func (s AccessState) IsValid() bool {
	switch s {
	case StateLimitedNone, StateLimitedPending, StateLimitedDenied, StateFullApproved:
		return true
	}
	return false
}

func (s AccessState) Level() AccessLevel {
	if s == StateFullApproved {
		return LevelFull
	}
	return LevelLimited
}

func (s AccessState) Status() FullAccessStatus {
	switch s {
	case StateLimitedPending:
		return FullAccessPending
	case StateLimitedDenied:
		return FullAccessDenied
	case StateFullApproved:
		return FullAccessApproved
	}
	return FullAccessNone
}

// Connection is the persistent relationship between exactly one provider and
// one patient, carrying the current access state. At most one Connection
// exists per (patient, provider) pair; the unique index enforces it.
type Connection struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`

	PatientID  uuid.UUID `gorm:"column:patient_id;type:uuid;not null;uniqueIndex:idx_connections_pair;index"`
	ProviderID uuid.UUID `gorm:"column:provider_id;type:uuid;not null;uniqueIndex:idx_connections_pair;index"`

	State AccessState `gorm:"column:access_state;type:varchar(30);not null;default:'limited_none';index"`

	// InitiatedBy records which party created the Connection. The current
	// workflow is always provider-initiated but the field is generic.
	InitiatedBy uuid.UUID `gorm:"column:initiated_by;type:uuid;not null"`

	// Notes is the initiating provider's rationale. Display only; never
	// consulted for authorization.
	Notes string `gorm:"column:notes;type:text"`

	PatientNotified   bool       `gorm:"column:patient_notified;default:false"`
	PatientNotifiedAt *time.Time `gorm:"column:patient_notified_at"`

	// StateUpdatedAt is stamped on every transition so the patient inbox
	// ordering stays well defined under rapid request sequences.
	StateUpdatedAt time.Time `gorm:"column:state_updated_at;not null;index"`

	// Version is the optimistic-lock counter; the store's compare-and-set
	// update keys on it.
	Version int64 `gorm:"column:version;not null;default:1"`
}

func (Connection) TableName() string {
	return "care.connections"
}

// IsParty reports whether the given identity is one of the two parties.
func (c *Connection) IsParty(actorID uuid.UUID) bool {
	return actorID == c.PatientID || actorID == c.ProviderID
}

// New builds a fresh Connection in its initial state. With requestFullAccess
// the connection starts with an already-pending elevation request. The id is
// assigned here so the returned events can reference it.
func New(patientID, providerID, initiatedBy uuid.UUID, notes string, requestFullAccess bool, now time.Time) (*Connection, []Event) {
	c := &Connection{
		ID:             uuid.New(),
		PatientID:      patientID,
		ProviderID:     providerID,
		State:          StateLimitedNone,
		InitiatedBy:    initiatedBy,
		Notes:          notes,
		StateUpdatedAt: now,
		Version:        1,
	}

	events := []Event{c.event(EventConnectionCreated, now)}
	if requestFullAccess {
		c.State = StateLimitedPending
		events = append(events, c.event(EventFullAccessRequested, now))
	}
	return c, events
}

// RequestFullAccess moves limited_none or limited_denied to limited_pending.
// A request while one is already pending is rejected rather than silently
// accepted, so duplicate notifications cannot fire.
func (c *Connection) RequestFullAccess(actorID uuid.UUID, now time.Time) ([]Event, error) {
	if actorID != c.ProviderID {
		return nil, ErrNotParty
	}
	if c.State != StateLimitedNone && c.State != StateLimitedDenied {
		return nil, ErrInvalidTransition
	}

	c.transition(StateLimitedPending, now)
	return []Event{c.event(EventFullAccessRequested, now)}, nil
}

// Approve grants the pending elevation request. Approving anything other
// than a pending request is illegal, so a stale approval link cannot act
// twice.
func (c *Connection) Approve(actorID uuid.UUID, now time.Time) ([]Event, error) {
	if err := c.patientOnly(actorID); err != nil {
		return nil, err
	}
	if c.State != StateLimitedPending {
		return nil, ErrInvalidTransition
	}

	c.transition(StateFullApproved, now)
	return []Event{c.event(EventFullAccessApproved, now)}, nil
}

// Deny rejects the pending elevation request.
func (c *Connection) Deny(actorID uuid.UUID, now time.Time) ([]Event, error) {
	if err := c.patientOnly(actorID); err != nil {
		return nil, err
	}
	if c.State != StateLimitedPending {
		return nil, ErrInvalidTransition
	}

	c.transition(StateLimitedDenied, now)
	return []Event{c.event(EventFullAccessDenied, now)}, nil
}

// Revoke steps a full-access connection back down to limited and resets the
// workflow to none, not denied, so the provider may request again later.
// Either party may revoke: the patient withdraws the grant, or the provider
// relinquishes it. Revoking a connection that is already limited is an error
// so callers can detect misuse.
func (c *Connection) Revoke(actorID uuid.UUID, now time.Time) ([]Event, error) {
	if !c.IsParty(actorID) {
		return nil, ErrNotParty
	}
	if c.State.Level() != LevelFull {
		return nil, ErrInvalidTransition
	}

	c.transition(StateLimitedNone, now)
	return []Event{c.event(EventFullAccessRevoked, now)}, nil
}

// GrantDirect elevates to full access without a pending step. This is the
// patient-initiated path and is the only way to reach full_approved other
// than approving a pending request.
func (c *Connection) GrantDirect(actorID uuid.UUID, now time.Time) ([]Event, error) {
	if err := c.patientOnly(actorID); err != nil {
		return nil, err
	}
	if c.State.Level() == LevelFull {
		return nil, ErrInvalidTransition
	}

	c.transition(StateFullApproved, now)
	return []Event{c.event(EventFullAccessApproved, now)}, nil
}

// CheckDelete verifies the deletion guard: a connection may only be removed
// while there is no live, full, or pending grant to silently destroy. Full
// access must be revoked first.
func (c *Connection) CheckDelete(actorID uuid.UUID) error {
	if err := c.patientOnly(actorID); err != nil {
		return err
	}
	if c.State != StateLimitedNone && c.State != StateLimitedDenied {
		return ErrInvalidTransition
	}
	return nil
}

// MarkNotified records that the patient was informed of a pending request.
// Idempotency aid only; never consulted for authorization.
func (c *Connection) MarkNotified(at time.Time) {
	c.PatientNotified = true
	c.PatientNotifiedAt = &at
}

func (c *Connection) patientOnly(actorID uuid.UUID) error {
	if actorID != c.PatientID {
		return ErrNotParty
	}
	return nil
}

func (c *Connection) transition(next AccessState, now time.Time) {
	c.State = next
	c.StateUpdatedAt = now
}

func (c *Connection) event(kind EventKind, at time.Time) Event {
	return Event{
		Kind:         kind,
		ConnectionID: c.ID,
		PatientID:    c.PatientID,
		ProviderID:   c.ProviderID,
		Notes:        c.Notes,
		OccurredAt:   at,
	}
}

type CreateConnectionCommand struct {
	PatientID         uuid.UUID
	ProviderID        uuid.UUID
	Notes             string
	RequestFullAccess bool
}

// ListQuery filters connection lists for either party's view.
type ListQuery struct {
	PatientID  *uuid.UUID
	ProviderID *uuid.UUID
	State      *AccessState
	Page       int
	PageSize   int
}

type PagedConnections struct {
	Connections []*Connection
	TotalCount  int64
	Page        int
	PageSize    int
	TotalPages  int
}
