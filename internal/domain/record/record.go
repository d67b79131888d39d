package record

import (
	"time"

	"github.com/google/uuid"
)

type RecordType string

const (
	TypeSOAP          RecordType = "soap"
	TypeVitals        RecordType = "vitals"
	TypeLabReport     RecordType = "lab_report"
	TypeImagingReport RecordType = "imaging_report"
	TypeMedication    RecordType = "medication"
	TypeProgressNote  RecordType = "progress_note"
)

func (t RecordType) IsValid() bool {
	switch t {
	case TypeSOAP, TypeVitals, TypeLabReport, TypeImagingReport, TypeMedication, TypeProgressNote:
		return true
	}
	return false
}

// SOAPNote represents the structured clinical note format.
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

type Vitals struct {
	BloodPressureSystolic  *int     `json:"bp_systolic"`
	BloodPressureDiastolic *int     `json:"bp_diastolic"`
	HeartRateBPM           *int     `json:"heart_rate_bpm"`
	TemperatureCelsius     *float64 `json:"temperature_celsius"`
	WeightKg               *float64 `json:"weight_kg"`
	HeightCm               *float64 `json:"height_cm"`
	OxygenSaturation       *float64 `json:"oxygen_saturation"`
	RespiratoryRate        *int     `json:"respiratory_rate_bpm"`
}

// Attachment represents a file attached to a medical record (e.g., lab PDF).
type Attachment struct {
	ID          uuid.UUID `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	StorageKey  string    `json:"storage_key"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// MedicalRecord is a clinical record for a patient. CreatorProviderID is set
// once at creation and never changes; it is the identity the ownership check
// compares against on every mutation.
type MedicalRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	PatientID         uuid.UUID  `gorm:"column:patient_id;type:uuid;not null;index"`
	ConsultationID    *uuid.UUID `gorm:"column:consultation_id;type:uuid;index"`
	CreatorProviderID uuid.UUID  `gorm:"column:creator_provider_id;type:uuid;not null;index"`

	Type RecordType `gorm:"column:type;type:varchar(50);not null;index"`

	SOAPNote    *SOAPNote    `gorm:"column:soap_note;serializer:json"`
	Vitals      *Vitals      `gorm:"column:vitals;serializer:json"`
	Diagnoses   []string     `gorm:"column:diagnoses;serializer:json"`
	Attachments []Attachment `gorm:"column:attachments;serializer:json"`

	Notes string `gorm:"column:notes;type:text"`

	// Addenda: corrections appended without modifying the original entry
	Addenda []Addendum `gorm:"foreignKey:MedicalRecordID"`
}

func (MedicalRecord) TableName() string {
	return "care.medical_records"
}

// ResourcePatientID and ResourceCreatorID expose the record to the
// authorization gate.
func (r *MedicalRecord) ResourcePatientID() uuid.UUID { return r.PatientID }
func (r *MedicalRecord) ResourceCreatorID() uuid.UUID { return r.CreatorProviderID }

// Addendum is an append-only correction to an existing medical record.
// Addenda preserve the original record while allowing corrections.
type Addendum struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	MedicalRecordID uuid.UUID `gorm:"column:medical_record_id;type:uuid;not null;index"`
	Content         string    `gorm:"column:content;type:text;not null"`
	CreatedBy       uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Addendum) TableName() string {
	return "care.medical_record_addenda"
}

type CreateRecordCommand struct {
	PatientID      uuid.UUID
	ConsultationID *uuid.UUID
	Type           RecordType
	SOAPNote       *SOAPNote
	Vitals         *Vitals
	Diagnoses      []string
	Notes          string
}

type UpdateRecordCommand struct {
	Diagnoses *[]string
	Notes     *string
}

type AddAddendumCommand struct {
	MedicalRecordID uuid.UUID
	Content         string
}

type ListRecordsQuery struct {
	PatientID      *uuid.UUID
	ProviderID     *uuid.UUID
	Type           *RecordType
	ConsultationID *uuid.UUID
	DateFrom       *time.Time
	DateTo         *time.Time
	Page           int
	PageSize       int
}

type PagedRecords struct {
	Records    []*MedicalRecord
	TotalCount int64
	Page       int
	PageSize   int
	TotalPages int
}
