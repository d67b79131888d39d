package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/internal/domain/connection"
)

var (
	patientA  = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	patientB  = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")
	providerP = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001")
	providerQ = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
	adminID   = uuid.MustParse("cccccccc-0000-0000-0000-000000000001")
)

// pairRepo is a minimal connection.Repository over a fixed set of
// connections, keyed by (patient, provider).
type pairRepo struct {
	connection.Repository
	conns map[[2]uuid.UUID]*connection.Connection
}

func newPairRepo(conns ...*connection.Connection) *pairRepo {
	r := &pairRepo{conns: make(map[[2]uuid.UUID]*connection.Connection)}
	for _, c := range conns {
		r.conns[[2]uuid.UUID{c.PatientID, c.ProviderID}] = c
	}
	return r
}

func (r *pairRepo) GetByPair(_ context.Context, patientID, providerID uuid.UUID) (*connection.Connection, error) {
	if c, ok := r.conns[[2]uuid.UUID{patientID, providerID}]; ok {
		return c, nil
	}
	return nil, connection.ErrNotFound
}

// testResource is a stand-in for a consultation or medical record.
type testResource struct {
	patientID uuid.UUID
	creatorID uuid.UUID
}

func (r testResource) ResourcePatientID() uuid.UUID { return r.patientID }
func (r testResource) ResourceCreatorID() uuid.UUID { return r.creatorID }

func conn(patientID, providerID uuid.UUID, state connection.AccessState) *connection.Connection {
	return &connection.Connection{
		ID:         uuid.New(),
		PatientID:  patientID,
		ProviderID: providerID,
		State:      state,
	}
}

func TestAuthorize(t *testing.T) {
	// Record of patient A, authored by provider P.
	record := testResource{patientID: patientA, creatorID: providerP}

	tests := []struct {
		name  string
		actor Actor
		conns []*connection.Connection
		want  Decision
	}{
		{
			name:  "admin gets read-write unconditionally",
			actor: Actor{ID: adminID, Role: domain.RoleAdmin},
			want:  ReadWrite,
		},
		{
			name:  "patient reads and writes own record",
			actor: Actor{ID: patientA, Role: domain.RolePatient},
			want:  ReadWrite,
		},
		{
			name:  "patient never gets cross-patient access",
			actor: Actor{ID: patientB, Role: domain.RolePatient},
			want:  Deny,
		},
		{
			name:  "creator keeps read-write with no connection at all",
			actor: Actor{ID: providerP, Role: domain.RoleProvider},
			want:  ReadWrite,
		},
		{
			name:  "creator keeps read-write even after a denial",
			actor: Actor{ID: providerP, Role: domain.RoleProvider},
			conns: []*connection.Connection{conn(patientA, providerP, connection.StateLimitedDenied)},
			want:  ReadWrite,
		},
		{
			name:  "non-creator with no connection is denied",
			actor: Actor{ID: providerQ, Role: domain.RoleProvider},
			want:  Deny,
		},
		{
			name:  "limited access never grants visibility into another provider's work",
			actor: Actor{ID: providerQ, Role: domain.RoleProvider},
			conns: []*connection.Connection{conn(patientA, providerQ, connection.StateLimitedNone)},
			want:  Deny,
		},
		{
			name:  "pending request grants nothing",
			actor: Actor{ID: providerQ, Role: domain.RoleProvider},
			conns: []*connection.Connection{conn(patientA, providerQ, connection.StateLimitedPending)},
			want:  Deny,
		},
		{
			name:  "denied request grants nothing",
			actor: Actor{ID: providerQ, Role: domain.RoleProvider},
			conns: []*connection.Connection{conn(patientA, providerQ, connection.StateLimitedDenied)},
			want:  Deny,
		},
		{
			name:  "approved full access grants read-only on others' records",
			actor: Actor{ID: providerQ, Role: domain.RoleProvider},
			conns: []*connection.Connection{conn(patientA, providerQ, connection.StateFullApproved)},
			want:  ReadOnly,
		},
		{
			name:  "full access to a different patient does not leak across",
			actor: Actor{ID: providerQ, Role: domain.RoleProvider},
			conns: []*connection.Connection{conn(patientB, providerQ, connection.StateFullApproved)},
			want:  Deny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(newPairRepo(tt.conns...))
			got, err := gate.Authorize(context.Background(), tt.actor, record)
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if got != tt.want {
				t.Errorf("Authorize = %s, want %s", got, tt.want)
			}
		})
	}
}

// A provider with approved full access may read but never write another
// provider's record: the gate says ReadOnly, the ownership check rejects.
func TestFullAccessIsReadPrivilegeOnly(t *testing.T) {
	record := testResource{patientID: patientA, creatorID: providerP}
	gate := NewGate(newPairRepo(conn(patientA, providerQ, connection.StateFullApproved)))
	q := Actor{ID: providerQ, Role: domain.RoleProvider}

	decision, err := gate.Authorize(context.Background(), q, record)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !decision.CanRead() || decision.CanWrite() {
		t.Fatalf("decision = %s, want read-only", decision)
	}
	if err := CanMutate(q, record); !errors.Is(err, ErrMutationRequiresOwnership) {
		t.Fatalf("CanMutate = %v, want %v", err, ErrMutationRequiresOwnership)
	}
}

// Full lifecycle: request, approve, authorize, revoke, authorize again.
// After revocation the very next check must deny.
func TestRevocationTakesEffectImmediately(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	c, _ := connection.New(patientA, providerQ, providerQ, "covering for Dr. Patel", true, now)
	gate := NewGate(newPairRepo(c))
	q := Actor{ID: providerQ, Role: domain.RoleProvider}
	record := testResource{patientID: patientA, creatorID: providerP}

	if d, _ := gate.Authorize(ctx, q, record); d != Deny {
		t.Fatalf("pending: decision = %s, want deny", d)
	}

	if _, err := c.Approve(patientA, now); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if d, _ := gate.Authorize(ctx, q, record); d != ReadOnly {
		t.Fatalf("approved: decision = %s, want read-only", d)
	}

	if _, err := c.Revoke(patientA, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if d, _ := gate.Authorize(ctx, q, record); d != Deny {
		t.Fatalf("revoked: decision = %s, want deny", d)
	}
}

// An instrumented gate counts each decision under its outcome and role.
func TestDecisionsCounted(t *testing.T) {
	ctx := context.Background()
	record := testResource{patientID: patientA, creatorID: providerP}
	gate := NewGate(newPairRepo(conn(patientA, providerQ, connection.StateFullApproved)))

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_decisions_total",
	}, []string{"decision", "role"})
	gate.Instrument(decisions)

	checks := []struct {
		actor Actor
		want  Decision
	}{
		{Actor{ID: providerP, Role: domain.RoleProvider}, ReadWrite},
		{Actor{ID: providerQ, Role: domain.RoleProvider}, ReadOnly},
		{Actor{ID: patientB, Role: domain.RolePatient}, Deny},
	}
	for _, tc := range checks {
		got, err := gate.Authorize(ctx, tc.actor, record)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if got != tc.want {
			t.Fatalf("Authorize = %s, want %s", got, tc.want)
		}
	}

	for _, tc := range checks {
		labels := []string{tc.want.String(), string(tc.actor.Role)}
		if got := testutil.ToFloat64(decisions.WithLabelValues(labels...)); got != 1 {
			t.Errorf("count[%s,%s] = %v, want 1", labels[0], labels[1], got)
		}
	}
}

func TestCanMutate(t *testing.T) {
	record := testResource{patientID: patientA, creatorID: providerP}

	tests := []struct {
		name    string
		actor   Actor
		wantErr bool
	}{
		{"creator may mutate", Actor{ID: providerP, Role: domain.RoleProvider}, false},
		{"other provider may not", Actor{ID: providerQ, Role: domain.RoleProvider}, true},
		{"owning patient may mutate", Actor{ID: patientA, Role: domain.RolePatient}, false},
		{"other patient may not", Actor{ID: patientB, Role: domain.RolePatient}, true},
		{"admin may mutate", Actor{ID: adminID, Role: domain.RoleAdmin}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanMutate(tt.actor, record)
			if (err != nil) != tt.wantErr {
				t.Errorf("CanMutate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
