package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/internal/domain/connection"
	"github.com/carebridgehq/carebridge/internal/notify"
)

// RespondAction is the patient's answer to a pending full-access request.
type RespondAction string

const (
	RespondApprove RespondAction = "approve"
	RespondDeny    RespondAction = "deny"
)

var ErrInvalidRespondAction = errors.New("respond action must be approve or deny")

// ConnectionService drives the connection state machine: load current state,
// apply the transition, persist with compare-and-set, then hand the produced
// events to the dispatcher. A failed precondition or a concurrent
// modification fails the whole operation; nothing is retried or coerced.
type ConnectionService struct {
	repo        connection.Repository
	dispatcher  notify.Dispatcher
	auditSvc    *AuditService
	log         *zap.Logger
	transitions *prometheus.CounterVec
}

func NewConnectionService(
	repo connection.Repository,
	dispatcher notify.Dispatcher,
	auditSvc *AuditService,
	log *zap.Logger,
) *ConnectionService {
	return &ConnectionService{repo: repo, dispatcher: dispatcher, auditSvc: auditSvc, log: log}
}

// Instrument counts dispatched events on the given counter, labeled by event
// kind. Call before serving requests.
func (s *ConnectionService) Instrument(transitions *prometheus.CounterVec) {
	s.transitions = transitions
}

// publish hands committed events to the dispatcher and counts them.
func (s *ConnectionService) publish(events ...connection.Event) {
	s.dispatcher.Dispatch(events...)
	if s.transitions == nil {
		return
	}
	for _, ev := range events {
		s.transitions.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// CreateConnection establishes the relationship between a provider and a
// patient, optionally with an immediate full-access request. Only the
// provider party (or an admin acting for them) may initiate.
func (s *ConnectionService) CreateConnection(
	ctx context.Context,
	cmd *connection.CreateConnectionCommand,
	actor access.Actor,
	ip string,
) (*connection.Connection, []connection.Event, error) {
	if err := validateCreateConnection(cmd); err != nil {
		return nil, nil, err
	}
	if actor.Role != domain.RoleAdmin && actor.ID != cmd.ProviderID {
		return nil, nil, connection.ErrNotParty
	}

	if _, err := s.repo.GetByPair(ctx, cmd.PatientID, cmd.ProviderID); err == nil {
		return nil, nil, connection.ErrAlreadyExists
	} else if !errors.Is(err, connection.ErrNotFound) {
		return nil, nil, fmt.Errorf("checking pair uniqueness: %w", err)
	}

	c, events := connection.New(cmd.PatientID, cmd.ProviderID, actor.ID, cmd.Notes, cmd.RequestFullAccess, time.Now())

	// The unique index remains the authority; a racing creator loses here.
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, connection.ErrAlreadyExists) {
			return nil, nil, connection.ErrAlreadyExists
		}
		s.log.Error("failed to create connection", zap.Error(err))
		return nil, nil, fmt.Errorf("creating connection: %w", err)
	}

	s.publish(events...)
	s.audit(ctx, actor, domain.ActionCreate, c.ID, ip)

	s.log.Info("connection created",
		zap.String("connection_id", c.ID.String()),
		zap.String("state", string(c.State)),
		zap.String("initiated_by", actor.ID.String()),
	)

	return c, events, nil
}

// RequestFullAccess asks the patient to raise the provider's read ceiling.
func (s *ConnectionService) RequestFullAccess(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) (*connection.Connection, []connection.Event, error) {
	return s.transition(ctx, id, actor, ip, func(c *connection.Connection, now time.Time) ([]connection.Event, error) {
		return c.RequestFullAccess(actor.ID, now)
	})
}

// RespondToFullAccess records the patient's approval or denial of a pending
// request.
func (s *ConnectionService) RespondToFullAccess(ctx context.Context, id uuid.UUID, actor access.Actor, action RespondAction, ip string) (*connection.Connection, []connection.Event, error) {
	switch action {
	case RespondApprove:
		return s.transition(ctx, id, actor, ip, func(c *connection.Connection, now time.Time) ([]connection.Event, error) {
			return c.Approve(actor.ID, now)
		})
	case RespondDeny:
		return s.transition(ctx, id, actor, ip, func(c *connection.Connection, now time.Time) ([]connection.Event, error) {
			return c.Deny(actor.ID, now)
		})
	}
	return nil, nil, ErrInvalidRespondAction
}

// RevokeAccess steps a full-access connection back down to limited.
func (s *ConnectionService) RevokeAccess(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) (*connection.Connection, []connection.Event, error) {
	return s.transition(ctx, id, actor, ip, func(c *connection.Connection, now time.Time) ([]connection.Event, error) {
		return c.Revoke(actor.ID, now)
	})
}

// GrantFullAccessDirect is the patient-initiated elevation that bypasses the
// request/response step.
func (s *ConnectionService) GrantFullAccessDirect(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) (*connection.Connection, []connection.Event, error) {
	return s.transition(ctx, id, actor, ip, func(c *connection.Connection, now time.Time) ([]connection.Event, error) {
		return c.GrantDirect(actor.ID, now)
	})
}

// DeleteConnection removes a connection that holds no live, full, or pending
// grant. Full access must have been revoked first.
func (s *ConnectionService) DeleteConnection(ctx context.Context, id uuid.UUID, actor access.Actor, ip string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := c.CheckDelete(actor.ID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id, c.Version); err != nil {
		return err
	}

	s.publish(connection.Event{
		Kind:         connection.EventConnectionRemoved,
		ConnectionID: c.ID,
		PatientID:    c.PatientID,
		ProviderID:   c.ProviderID,
		Notes:        c.Notes,
		OccurredAt:   time.Now(),
	})
	s.audit(ctx, actor, domain.ActionDelete, c.ID, ip)

	s.log.Info("connection removed", zap.String("connection_id", id.String()))
	return nil
}

// GetConnection returns a connection visible to one of its parties.
func (s *ConnectionService) GetConnection(ctx context.Context, id uuid.UUID, actor access.Actor) (*connection.Connection, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && !c.IsParty(actor.ID) {
		// Collapse to not-found: a non-party must not learn the
		// relationship exists.
		return nil, connection.ErrNotFound
	}
	return c, nil
}

// ListConnections returns the actor's own connections. Admins may pass an
// explicit party filter.
func (s *ConnectionService) ListConnections(ctx context.Context, q *connection.ListQuery, actor access.Actor) (*connection.PagedConnections, error) {
	switch actor.Role {
	case domain.RoleAdmin:
		// filters as given
	case domain.RolePatient:
		q.PatientID = &actor.ID
		q.ProviderID = nil
	case domain.RoleProvider:
		q.ProviderID = &actor.ID
		q.PatientID = nil
	default:
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, q)
}

// PendingRequests is the patient's inbox of full-access requests awaiting a
// response, most recent state change first.
func (s *ConnectionService) PendingRequests(ctx context.Context, patientID uuid.UUID, actor access.Actor) ([]*connection.Connection, error) {
	if actor.Role != domain.RoleAdmin && actor.ID != patientID {
		return nil, ErrForbidden
	}
	return s.repo.ListPendingByPatient(ctx, patientID)
}

// transition runs the shared load → mutate → compare-and-set → dispatch
// sequence. The events are dispatched only after the write commits, so the
// dispatcher can never observe a state that failed to persist.
func (s *ConnectionService) transition(
	ctx context.Context,
	id uuid.UUID,
	actor access.Actor,
	ip string,
	apply func(c *connection.Connection, now time.Time) ([]connection.Event, error),
) (*connection.Connection, []connection.Event, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	events, err := apply(c, time.Now())
	if err != nil {
		return nil, nil, err
	}

	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, connection.ErrStoreConflict) {
			s.log.Warn("concurrent connection modification",
				zap.String("connection_id", id.String()),
			)
		}
		return nil, nil, err
	}

	s.publish(events...)
	s.audit(ctx, actor, domain.ActionTransition, c.ID, ip)

	s.log.Info("connection transition",
		zap.String("connection_id", c.ID.String()),
		zap.String("state", string(c.State)),
		zap.String("actor_id", actor.ID.String()),
	)

	return c, events, nil
}

func (s *ConnectionService) audit(ctx context.Context, actor access.Actor, action domain.AuditAction, id uuid.UUID, ip string) {
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		UserRole:     string(actor.Role),
		Action:       string(action),
		ResourceType: "connection",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})
}

func validateCreateConnection(cmd *connection.CreateConnectionCommand) error {
	var errs []string

	if cmd.PatientID == uuid.Nil {
		errs = append(errs, "patient_id is required")
	}
	if cmd.ProviderID == uuid.Nil {
		errs = append(errs, "provider_id is required")
	}
	if cmd.PatientID != uuid.Nil && cmd.PatientID == cmd.ProviderID {
		errs = append(errs, "patient_id and provider_id must differ")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
