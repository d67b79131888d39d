package consultation

import (
	"time"

	"github.com/google/uuid"
)

type ConsultationType string

const (
	TypeInitial        ConsultationType = "initial"
	TypeFollowUp       ConsultationType = "follow_up"
	TypeUrgent         ConsultationType = "urgent"
	TypeRoutineCheckup ConsultationType = "routine_checkup"
	TypeRemote         ConsultationType = "remote"
)

func (t ConsultationType) IsValid() bool {
	switch t {
	case TypeInitial, TypeFollowUp, TypeUrgent, TypeRoutineCheckup, TypeRemote:
		return true
	}
	return false
}

// State transitions possibilities:
//
//	open → in_progress → completed
//	open → cancelled
//	in_progress → cancelled
type ConsultationStatus string

const (
	StatusOpen       ConsultationStatus = "open"
	StatusInProgress ConsultationStatus = "in_progress"
	StatusCompleted  ConsultationStatus = "completed"
	StatusCancelled  ConsultationStatus = "cancelled"
)

// Consultation is a clinical encounter between one provider and one patient.
// PatientID and ProviderID are set once at creation and never change; the
// creating provider retains write rights regardless of connection state.
type Consultation struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	PatientID  uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	ProviderID uuid.UUID `gorm:"column:provider_id;type:uuid;not null;index"`

	Type   ConsultationType   `gorm:"column:type;type:varchar(50);not null;index"`
	Status ConsultationStatus `gorm:"column:status;type:varchar(30);not null;default:'open';index"`

	StartedAt      *time.Time `gorm:"column:started_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	ChiefComplaint string     `gorm:"column:chief_complaint;type:text"`
	Summary        string     `gorm:"column:summary;type:text"`

	// Cancellation tracking
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`
	CancellationReason string     `gorm:"column:cancellation_reason;type:text"`
	CancelledBy        *uuid.UUID `gorm:"column:cancelled_by;type:uuid"`
}

func (Consultation) TableName() string {
	return "care.consultations"
}

// ResourcePatientID and ResourceCreatorID expose the consultation to the
// authorization gate.
func (c *Consultation) ResourcePatientID() uuid.UUID { return c.PatientID }
func (c *Consultation) ResourceCreatorID() uuid.UUID { return c.ProviderID }

func (c *Consultation) CanTransitionTo(newStatus ConsultationStatus) bool {
	allowed := map[ConsultationStatus][]ConsultationStatus{
		StatusOpen:       {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusCompleted, StatusCancelled},
		StatusCompleted:  {},
		StatusCancelled:  {},
	}

	for _, s := range allowed[c.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

func (c *Consultation) Start() error {
	if !c.CanTransitionTo(StatusInProgress) {
		return ErrInvalidStatusTransition
	}
	now := time.Now()
	c.Status = StatusInProgress
	c.StartedAt = &now
	return nil
}

func (c *Consultation) Complete(summary string) error {
	if !c.CanTransitionTo(StatusCompleted) {
		return ErrInvalidStatusTransition
	}
	now := time.Now()
	c.Status = StatusCompleted
	c.CompletedAt = &now
	c.Summary = summary
	return nil
}

func (c *Consultation) Cancel(reason string, cancelledBy uuid.UUID) error {
	if !c.CanTransitionTo(StatusCancelled) {
		return ErrInvalidStatusTransition
	}
	now := time.Now()
	c.Status = StatusCancelled
	c.CancelledAt = &now
	c.CancellationReason = reason
	c.CancelledBy = &cancelledBy
	return nil
}

type CreateConsultationCommand struct {
	PatientID      uuid.UUID
	ProviderID     uuid.UUID
	Type           ConsultationType
	ChiefComplaint string
}

type UpdateConsultationCommand struct {
	Type           *ConsultationType
	ChiefComplaint *string
	Summary        *string
}

type ListConsultationsQuery struct {
	PatientID  *uuid.UUID
	ProviderID *uuid.UUID
	Status     *ConsultationStatus
	Type       *ConsultationType
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	PageSize   int
}

type PagedConsultations struct {
	Consultations []*Consultation
	TotalCount    int64
	Page          int
	PageSize      int
	TotalPages    int
}
