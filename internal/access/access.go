// Package access decides what an actor may see and do with a patient's
// clinical data. Every consultation and medical-record read or write path
// goes through the Gate; every mutation additionally goes through CanMutate.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/internal/domain/connection"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	ReadOnly
	ReadWrite
)

func (d Decision) String() string {
	switch d {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	}
	return "deny"
}

// CanRead reports whether the decision allows reading.
func (d Decision) CanRead() bool { return d != Deny }

// CanWrite reports whether the decision allows mutation.
func (d Decision) CanWrite() bool { return d == ReadWrite }

// Actor is the authenticated identity a decision is made for. For providers
// and patients, ID is the provider/patient identity carried in their claims.
type Actor struct {
	ID   uuid.UUID
	Role domain.Role
}

// Resource is the capability a clinical record exposes to the gate: which
// patient it belongs to and which provider created it. Both are set once at
// creation and never change.
type Resource interface {
	ResourcePatientID() uuid.UUID
	ResourceCreatorID() uuid.UUID
}

var ErrMutationRequiresOwnership = errors.New("only the creating provider may modify this resource")

// CanMutate is the ownership invariant: the acting provider must be the
// resource's creator. Full access is a read privilege only and is never
// sufficient for mutation. Patients may mutate their own resources; admins
// pass unconditionally.
func CanMutate(actor Actor, res Resource) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RolePatient:
		if actor.ID == res.ResourcePatientID() {
			return nil
		}
	case domain.RoleProvider:
		if actor.ID == res.ResourceCreatorID() {
			return nil
		}
	}
	return ErrMutationRequiresOwnership
}

// Gate answers read/write authorization queries against the current stored
// connection state. It holds no cache: access can be revoked at any moment
// and the very next read must reflect that.
type Gate struct {
	connections connection.Repository
	decisions   *prometheus.CounterVec
}

func NewGate(connections connection.Repository) *Gate {
	return &Gate{connections: connections}
}

// Instrument counts decisions on the given counter, labeled by outcome and
// actor role. Call before the first Authorize.
func (g *Gate) Instrument(decisions *prometheus.CounterVec) {
	g.decisions = decisions
}

// Authorize returns the access decision for actor on res.
//
// Admins get ReadWrite unconditionally. Patients get ReadWrite on their own
// resources and Deny on everyone else's. The creating provider always gets
// ReadWrite regardless of connection state (the ownership override). Any
// other provider gets ReadOnly if and only if they hold an approved full
// connection to the patient; limited access never grants visibility into
// another provider's work.
func (g *Gate) Authorize(ctx context.Context, actor Actor, res Resource) (Decision, error) {
	d, err := g.decide(ctx, actor, res)
	if err == nil && g.decisions != nil {
		g.decisions.WithLabelValues(d.String(), string(actor.Role)).Inc()
	}
	return d, err
}

func (g *Gate) decide(ctx context.Context, actor Actor, res Resource) (Decision, error) {
	switch actor.Role {
	case domain.RoleAdmin:
		return ReadWrite, nil

	case domain.RolePatient:
		if actor.ID == res.ResourcePatientID() {
			return ReadWrite, nil
		}
		return Deny, nil

	case domain.RoleProvider:
		if actor.ID == res.ResourceCreatorID() {
			return ReadWrite, nil
		}

		conn, err := g.connections.GetByPair(ctx, res.ResourcePatientID(), actor.ID)
		if err != nil {
			if errors.Is(err, connection.ErrNotFound) {
				return Deny, nil
			}
			return Deny, fmt.Errorf("looking up connection: %w", err)
		}
		if conn.State == connection.StateFullApproved {
			return ReadOnly, nil
		}
		return Deny, nil
	}

	return Deny, nil
}
