package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge/internal/domain/connection"
	"github.com/carebridgehq/carebridge/internal/service"
)

type ConnectionHandler struct {
	connectionSvc *service.ConnectionService
}

func NewConnectionHandler(connectionSvc *service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connectionSvc: connectionSvc}
}

type createConnectionRequest struct {
	PatientID         uuid.UUID `json:"patient_id" binding:"required"`
	ProviderID        uuid.UUID `json:"provider_id" binding:"required"`
	Notes             string    `json:"notes"`
	RequestFullAccess bool      `json:"request_full_access"`
}

func (h *ConnectionHandler) Create(c *gin.Context) {
	var req createConnectionRequest
	if !bindJSON(c, &req) {
		return
	}

	conn, _, err := h.connectionSvc.CreateConnection(c.Request.Context(), &connection.CreateConnectionCommand{
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		Notes:             req.Notes,
		RequestFullAccess: req.RequestFullAccess,
	}, mustActor(c), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, conn)
}

func (h *ConnectionHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	conn, err := h.connectionSvc.GetConnection(c.Request.Context(), id, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, conn)
}

func (h *ConnectionHandler) List(c *gin.Context) {
	q := &connection.ListQuery{
		PatientID:  parseQueryUUID(c, "patient_id"),
		ProviderID: parseQueryUUID(c, "provider_id"),
		Page:       parseQueryInt(c, "page", 1),
		PageSize:   parseQueryInt(c, "page_size", 20),
	}
	if raw := c.Query("state"); raw != "" {
		state := connection.AccessState(raw)
		if !state.IsValid() {
			respondError(c, http.StatusBadRequest, "invalid state filter")
			return
		}
		q.State = &state
	}

	page, err := h.connectionSvc.ListConnections(c.Request.Context(), q, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, page)
}

// PendingRequests is the patient's inbox of full-access requests awaiting
// an answer.
func (h *ConnectionHandler) PendingRequests(c *gin.Context) {
	patientID, ok := parseUUID(c, "patientId")
	if !ok {
		return
	}

	pending, err := h.connectionSvc.PendingRequests(c.Request.Context(), patientID, mustActor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, pending)
}

func (h *ConnectionHandler) RequestFullAccess(c *gin.Context) {
	h.transition(c, func(id uuid.UUID) (*connection.Connection, []connection.Event, error) {
		return h.connectionSvc.RequestFullAccess(c.Request.Context(), id, mustActor(c), c.ClientIP())
	})
}

type respondRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *ConnectionHandler) Respond(c *gin.Context) {
	var req respondRequest
	if !bindJSON(c, &req) {
		return
	}

	h.transition(c, func(id uuid.UUID) (*connection.Connection, []connection.Event, error) {
		return h.connectionSvc.RespondToFullAccess(c.Request.Context(), id, mustActor(c), service.RespondAction(req.Action), c.ClientIP())
	})
}

func (h *ConnectionHandler) Revoke(c *gin.Context) {
	h.transition(c, func(id uuid.UUID) (*connection.Connection, []connection.Event, error) {
		return h.connectionSvc.RevokeAccess(c.Request.Context(), id, mustActor(c), c.ClientIP())
	})
}

func (h *ConnectionHandler) Grant(c *gin.Context) {
	h.transition(c, func(id uuid.UUID) (*connection.Connection, []connection.Event, error) {
		return h.connectionSvc.GrantFullAccessDirect(c.Request.Context(), id, mustActor(c), c.ClientIP())
	})
}

func (h *ConnectionHandler) Delete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.connectionSvc.DeleteConnection(c.Request.Context(), id, mustActor(c), c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConnectionHandler) transition(c *gin.Context, op func(id uuid.UUID) (*connection.Connection, []connection.Event, error)) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	conn, _, err := op(id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, conn)
}
