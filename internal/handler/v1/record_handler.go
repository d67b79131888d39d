package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge/internal/domain/record"
	"github.com/carebridgehq/carebridge/internal/service"
)

type RecordHandler struct {
	recordSvc *service.RecordService
}

func NewRecordHandler(recordSvc *service.RecordService) *RecordHandler {
	return &RecordHandler{recordSvc: recordSvc}
}

type createRecordRequest struct {
	PatientID      uuid.UUID        `json:"patient_id" binding:"required"`
	ConsultationID *uuid.UUID       `json:"consultation_id"`
	Type           string           `json:"type" binding:"required"`
	SOAPNote       *record.SOAPNote `json:"soap_note"`
	Vitals         *record.Vitals   `json:"vitals"`
	Diagnoses      []string         `json:"diagnoses"`
	Notes          string           `json:"notes"`
}

func (h *RecordHandler) Create(c *gin.Context) {
	var req createRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.recordSvc.CreateRecord(c.Request.Context(), &record.CreateRecordCommand{
		PatientID:      req.PatientID,
		ConsultationID: req.ConsultationID,
		Type:           record.RecordType(req.Type),
		SOAPNote:       req.SOAPNote,
		Vitals:         req.Vitals,
		Diagnoses:      req.Diagnoses,
		Notes:          req.Notes,
	}, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, rec)
}

func (h *RecordHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	rec, err := h.recordSvc.GetRecord(c.Request.Context(), id, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, rec)
}

type updateRecordRequest struct {
	Diagnoses *[]string `json:"diagnoses"`
	Notes     *string   `json:"notes"`
}

func (h *RecordHandler) Update(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updateRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.recordSvc.UpdateRecord(c.Request.Context(), id, &record.UpdateRecordCommand{
		Diagnoses: req.Diagnoses,
		Notes:     req.Notes,
	}, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, rec)
}

func (h *RecordHandler) Delete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.recordSvc.DeleteRecord(c.Request.Context(), id, mustActor(c), c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type addAddendumRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *RecordHandler) AddAddendum(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req addAddendumRequest
	if !bindJSON(c, &req) {
		return
	}

	addendum, err := h.recordSvc.AddAddendum(c.Request.Context(), &record.AddAddendumCommand{
		MedicalRecordID: id,
		Content:         req.Content,
	}, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, addendum)
}

func (h *RecordHandler) List(c *gin.Context) {
	q, ok := h.listQuery(c)
	if !ok {
		return
	}

	page, err := h.recordSvc.ListRecords(c.Request.Context(), q, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}

// ListByPatient serves a patient's record history, including to providers
// holding approved full access.
func (h *RecordHandler) ListByPatient(c *gin.Context) {
	patientID, ok := parseUUID(c, "patientId")
	if !ok {
		return
	}

	q, ok := h.listQuery(c)
	if !ok {
		return
	}

	page, err := h.recordSvc.ListPatientRecords(c.Request.Context(), patientID, q, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}

// ListByConsultation serves the records attached to one consultation.
func (h *RecordHandler) ListByConsultation(c *gin.Context) {
	consultationID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	records, err := h.recordSvc.ListConsultationRecords(c.Request.Context(), consultationID, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, records)
}

func (h *RecordHandler) listQuery(c *gin.Context) (*record.ListRecordsQuery, bool) {
	q := &record.ListRecordsQuery{
		PatientID:      parseQueryUUID(c, "patient_id"),
		ProviderID:     parseQueryUUID(c, "provider_id"),
		ConsultationID: parseQueryUUID(c, "consultation_id"),
		Page:           parseQueryInt(c, "page", 1),
		PageSize:       parseQueryInt(c, "page_size", 20),
	}

	if raw := c.Query("type"); raw != "" {
		t := record.RecordType(raw)
		if !t.IsValid() {
			respondError(c, http.StatusBadRequest, "invalid type filter")
			return nil, false
		}
		q.Type = &t
	}
	if raw := c.Query("date_from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid date_from: must be RFC3339")
			return nil, false
		}
		q.DateFrom = &from
	}
	if raw := c.Query("date_to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid date_to: must be RFC3339")
			return nil, false
		}
		q.DateTo = &to
	}

	return q, true
}
