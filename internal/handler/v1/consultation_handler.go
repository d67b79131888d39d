package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge/internal/domain/consultation"
	"github.com/carebridgehq/carebridge/internal/service"
)

type ConsultationHandler struct {
	consultationSvc *service.ConsultationService
}

func NewConsultationHandler(consultationSvc *service.ConsultationService) *ConsultationHandler {
	return &ConsultationHandler{consultationSvc: consultationSvc}
}

type createConsultationRequest struct {
	PatientID      uuid.UUID `json:"patient_id" binding:"required"`
	ProviderID     uuid.UUID `json:"provider_id" binding:"required"`
	Type           string    `json:"type" binding:"required"`
	ChiefComplaint string    `json:"chief_complaint"`
}

func (h *ConsultationHandler) Create(c *gin.Context) {
	var req createConsultationRequest
	if !bindJSON(c, &req) {
		return
	}

	cons, err := h.consultationSvc.CreateConsultation(c.Request.Context(), &consultation.CreateConsultationCommand{
		PatientID:      req.PatientID,
		ProviderID:     req.ProviderID,
		Type:           consultation.ConsultationType(req.Type),
		ChiefComplaint: req.ChiefComplaint,
	}, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, cons)
}

func (h *ConsultationHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	cons, err := h.consultationSvc.GetConsultation(c.Request.Context(), id, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, cons)
}

type updateConsultationRequest struct {
	Type           *string `json:"type"`
	ChiefComplaint *string `json:"chief_complaint"`
	Summary        *string `json:"summary"`
}

func (h *ConsultationHandler) Update(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updateConsultationRequest
	if !bindJSON(c, &req) {
		return
	}

	cmd := &consultation.UpdateConsultationCommand{
		ChiefComplaint: req.ChiefComplaint,
		Summary:        req.Summary,
	}
	if req.Type != nil {
		t := consultation.ConsultationType(*req.Type)
		cmd.Type = &t
	}

	cons, err := h.consultationSvc.UpdateConsultation(c.Request.Context(), id, cmd, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, cons)
}

func (h *ConsultationHandler) Start(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	cons, err := h.consultationSvc.StartConsultation(c.Request.Context(), id, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, cons)
}

type completeConsultationRequest struct {
	Summary string `json:"summary" binding:"required"`
}

func (h *ConsultationHandler) Complete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req completeConsultationRequest
	if !bindJSON(c, &req) {
		return
	}

	cons, err := h.consultationSvc.CompleteConsultation(c.Request.Context(), id, req.Summary, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, cons)
}

type cancelConsultationRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *ConsultationHandler) Cancel(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req cancelConsultationRequest
	if !bindJSON(c, &req) {
		return
	}

	cons, err := h.consultationSvc.CancelConsultation(c.Request.Context(), id, req.Reason, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, cons)
}

func (h *ConsultationHandler) Delete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.consultationSvc.DeleteConsultation(c.Request.Context(), id, mustActor(c), c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConsultationHandler) List(c *gin.Context) {
	q, ok := h.listQuery(c)
	if !ok {
		return
	}

	page, err := h.consultationSvc.ListConsultations(c.Request.Context(), q, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}

// ListByPatient serves a patient's consultation history, including to
// providers holding approved full access.
func (h *ConsultationHandler) ListByPatient(c *gin.Context) {
	patientID, ok := parseUUID(c, "patientId")
	if !ok {
		return
	}

	q, ok := h.listQuery(c)
	if !ok {
		return
	}

	page, err := h.consultationSvc.ListPatientConsultations(c.Request.Context(), patientID, q, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}

func (h *ConsultationHandler) listQuery(c *gin.Context) (*consultation.ListConsultationsQuery, bool) {
	q := &consultation.ListConsultationsQuery{
		PatientID:  parseQueryUUID(c, "patient_id"),
		ProviderID: parseQueryUUID(c, "provider_id"),
		Page:       parseQueryInt(c, "page", 1),
		PageSize:   parseQueryInt(c, "page_size", 20),
	}

	if raw := c.Query("status"); raw != "" {
		status := consultation.ConsultationStatus(raw)
		q.Status = &status
	}
	if raw := c.Query("type"); raw != "" {
		t := consultation.ConsultationType(raw)
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
