package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/internal/domain/connection"
	"github.com/carebridgehq/carebridge/internal/repository/memory"
)

var (
	patientA  = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	providerP = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001")
	providerQ = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
)

var (
	actorPatientA  = access.Actor{ID: patientA, Role: domain.RolePatient}
	actorProviderP = access.Actor{ID: providerP, Role: domain.RoleProvider}
	actorProviderQ = access.Actor{ID: providerQ, Role: domain.RoleProvider}
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []connection.Event
}

func (d *captureDispatcher) Dispatch(events ...connection.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
}

func (d *captureDispatcher) kinds() []connection.EventKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]connection.EventKind, len(d.events))
	for i, ev := range d.events {
		out[i] = ev.Kind
	}
	return out
}

type noopAuditRepo struct{}

func (noopAuditRepo) Create(context.Context, *domain.AuditLog) error { return nil }

func newTestService(t *testing.T) (*ConnectionService, *memory.ConnectionRepository, *captureDispatcher) {
	t.Helper()
	repo := memory.NewConnectionRepository()
	dispatcher := &captureDispatcher{}
	auditSvc := NewAuditService(noopAuditRepo{}, zap.NewNop())
	t.Cleanup(auditSvc.Shutdown)

	return NewConnectionService(repo, dispatcher, auditSvc, zap.NewNop()), repo, dispatcher
}

func TestCreateConnection(t *testing.T) {
	ctx := context.Background()
	svc, _, dispatcher := newTestService(t)

	cmd := &connection.CreateConnectionCommand{
		PatientID:         patientA,
		ProviderID:        providerP,
		Notes:             "new primary care provider",
		RequestFullAccess: true,
	}

	c, events, err := svc.CreateConnection(ctx, cmd, actorProviderP, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if c.State != connection.StateLimitedPending {
		t.Errorf("state = %s, want %s", c.State, connection.StateLimitedPending)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	got := dispatcher.kinds()
	if len(got) != 2 || got[0] != connection.EventConnectionCreated || got[1] != connection.EventFullAccessRequested {
		t.Errorf("dispatched = %v", got)
	}
}

func TestCreateConnectionDuplicatePair(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	cmd := &connection.CreateConnectionCommand{PatientID: patientA, ProviderID: providerP}
	first, _, err := svc.CreateConnection(ctx, cmd, actorProviderP, "")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	if _, _, err := svc.CreateConnection(ctx, cmd, actorProviderP, ""); !errors.Is(err, connection.ErrAlreadyExists) {
		t.Fatalf("second create: err = %v, want %v", err, connection.ErrAlreadyExists)
	}

	// The first connection is untouched by the rejected duplicate.
	stored, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != first.State || stored.Version != first.Version {
		t.Errorf("first connection changed: %+v", stored)
	}
}

func TestCreateConnectionActorChecks(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	cmd := &connection.CreateConnectionCommand{PatientID: patientA, ProviderID: providerP}

	if _, _, err := svc.CreateConnection(ctx, cmd, actorProviderQ, ""); !errors.Is(err, connection.ErrNotParty) {
		t.Errorf("other provider: err = %v, want %v", err, connection.ErrNotParty)
	}

	var vErr *ValidationError
	bad := &connection.CreateConnectionCommand{PatientID: patientA, ProviderID: patientA}
	if _, _, err := svc.CreateConnection(ctx, bad, actorProviderP, ""); !errors.As(err, &vErr) {
		t.Errorf("same party twice: err = %v, want validation error", err)
	}
}

// The request → approve → revoke lifecycle, checking state and the decision
// a gate over the same store would make at each step.
func TestFullAccessLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, repo, dispatcher := newTestService(t)
	gate := access.NewGate(repo)

	// A record of patient A authored by another provider.
	foreignRecord := resourceStub{patientID: patientA, creatorID: providerQ}

	c, _, err := svc.CreateConnection(ctx, &connection.CreateConnectionCommand{
		PatientID:         patientA,
		ProviderID:        providerP,
		RequestFullAccess: true,
	}, actorProviderP, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if d, _ := gate.Authorize(ctx, actorProviderP, foreignRecord); d != access.Deny {
		t.Fatalf("pending: decision = %s, want deny", d)
	}

	c2, _, err := svc.RespondToFullAccess(ctx, c.ID, actorPatientA, RespondApprove, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if c2.State != connection.StateFullApproved {
		t.Fatalf("state = %s, want %s", c2.State, connection.StateFullApproved)
	}
	if d, _ := gate.Authorize(ctx, actorProviderP, foreignRecord); d != access.ReadOnly {
		t.Fatalf("approved: decision = %s, want read-only", d)
	}

	c3, _, err := svc.RevokeAccess(ctx, c.ID, actorPatientA, "")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if c3.State != connection.StateLimitedNone {
		t.Fatalf("state = %s, want %s", c3.State, connection.StateLimitedNone)
	}
	if d, _ := gate.Authorize(ctx, actorProviderP, foreignRecord); d != access.Deny {
		t.Fatalf("revoked: decision = %s, want deny", d)
	}

	want := []connection.EventKind{
		connection.EventConnectionCreated,
		connection.EventFullAccessRequested,
		connection.EventFullAccessApproved,
		connection.EventFullAccessRevoked,
	}
	got := dispatcher.kinds()
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatched %v, want %v", got, want)
		}
	}
}

func TestRespondRejectsStaleAction(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	c, _, err := svc.CreateConnection(ctx, &connection.CreateConnectionCommand{
		PatientID:  patientA,
		ProviderID: providerP,
	}, actorProviderP, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Nothing is pending, so an old approval link must not act.
	if _, _, err := svc.RespondToFullAccess(ctx, c.ID, actorPatientA, RespondApprove, ""); !errors.Is(err, connection.ErrInvalidTransition) {
		t.Errorf("approve: err = %v, want %v", err, connection.ErrInvalidTransition)
	}
	if _, _, err := svc.RespondToFullAccess(ctx, c.ID, actorPatientA, "maybe", ""); !errors.Is(err, ErrInvalidRespondAction) {
		t.Errorf("bad action: err = %v, want %v", err, ErrInvalidRespondAction)
	}
}

func TestDeleteConnectionGuard(t *testing.T) {
	ctx := context.Background()
	svc, _, dispatcher := newTestService(t)

	c, _, err := svc.CreateConnection(ctx, &connection.CreateConnectionCommand{
		PatientID:  patientA,
		ProviderID: providerP,
	}, actorProviderP, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.GrantFullAccessDirect(ctx, c.ID, actorPatientA, ""); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// Live full grant: deletion must be refused until revoked.
	if err := svc.DeleteConnection(ctx, c.ID, actorPatientA, ""); !errors.Is(err, connection.ErrInvalidTransition) {
		t.Fatalf("delete while full: err = %v, want %v", err, connection.ErrInvalidTransition)
	}
	if _, _, err := svc.RevokeAccess(ctx, c.ID, actorPatientA, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.DeleteConnection(ctx, c.ID, actorPatientA, ""); err != nil {
		t.Fatalf("delete after revoke: %v", err)
	}

	if _, err := svc.GetConnection(ctx, c.ID, actorPatientA); !errors.Is(err, connection.ErrNotFound) {
		t.Errorf("get after delete: err = %v, want %v", err, connection.ErrNotFound)
	}

	kinds := dispatcher.kinds()
	if kinds[len(kinds)-1] != connection.EventConnectionRemoved {
		t.Errorf("last event = %s, want %s", kinds[len(kinds)-1], connection.EventConnectionRemoved)
	}
}

// staleReadRepo simulates a concurrent writer: every read hands out a copy
// one version behind the store, so the following compare-and-set write fails.
type staleReadRepo struct {
	*memory.ConnectionRepository
}

func (r *staleReadRepo) GetByID(ctx context.Context, id uuid.UUID) (*connection.Connection, error) {
	c, err := r.ConnectionRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Version--
	return c, nil
}

func TestConcurrentModificationSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewConnectionRepository()
	dispatcher := &captureDispatcher{}
	auditSvc := NewAuditService(noopAuditRepo{}, zap.NewNop())
	t.Cleanup(auditSvc.Shutdown)
	svc := NewConnectionService(&staleReadRepo{repo}, dispatcher, auditSvc, zap.NewNop())

	c, _ := connection.New(patientA, providerP, providerP, "", false, time.Now())
	c.Version = 2 // reads through staleReadRepo see version 1
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err := svc.RequestFullAccess(ctx, c.ID, actorProviderP, "")
	if !errors.Is(err, connection.ErrStoreConflict) {
		t.Fatalf("err = %v, want %v", err, connection.ErrStoreConflict)
	}

	// The losing transition must not dispatch anything.
	if kinds := dispatcher.kinds(); len(kinds) != 0 {
		t.Errorf("dispatched %v, want none", kinds)
	}

	// And the stored state is untouched.
	stored, err := repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != connection.StateLimitedNone {
		t.Errorf("state = %s, want %s", stored.State, connection.StateLimitedNone)
	}
}

func TestPendingRequestsInbox(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	base := time.Now()
	for i, providerID := range []uuid.UUID{providerP, providerQ} {
		c, _ := connection.New(patientA, providerID, providerID, "", true, base.Add(time.Duration(i)*time.Minute))
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	pending, err := svc.PendingRequests(ctx, patientA, actorPatientA)
	if err != nil {
		t.Fatalf("PendingRequests: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	// Most recent state change first.
	if pending[0].ProviderID != providerQ {
		t.Errorf("inbox order wrong: first is %s", pending[0].ProviderID)
	}

	if _, err := svc.PendingRequests(ctx, patientA, actorProviderP); !errors.Is(err, ErrForbidden) {
		t.Errorf("provider reading patient inbox: err = %v, want %v", err, ErrForbidden)
	}
}

func TestGetConnectionHidesExistenceFromNonParties(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	c, _, err := svc.CreateConnection(ctx, &connection.CreateConnectionCommand{
		PatientID:  patientA,
		ProviderID: providerP,
	}, actorProviderP, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.GetConnection(ctx, c.ID, actorProviderQ); !errors.Is(err, connection.ErrNotFound) {
		t.Errorf("non-party get: err = %v, want %v", err, connection.ErrNotFound)
	}
}

// Every committed transition shows up on the instrumented counter under its
// event kind; nothing is counted twice.
func TestTransitionsCounted(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_transitions_total",
	}, []string{"event"})
	svc.Instrument(transitions)

	c, _, err := svc.CreateConnection(ctx, &connection.CreateConnectionCommand{
		PatientID:         patientA,
		ProviderID:        providerP,
		RequestFullAccess: true,
	}, actorProviderP, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.RespondToFullAccess(ctx, c.ID, actorPatientA, RespondApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, _, err := svc.RevokeAccess(ctx, c.ID, actorPatientA, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.DeleteConnection(ctx, c.ID, actorPatientA, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, kind := range []connection.EventKind{
		connection.EventConnectionCreated,
		connection.EventFullAccessRequested,
		connection.EventFullAccessApproved,
		connection.EventFullAccessRevoked,
		connection.EventConnectionRemoved,
	} {
		if got := testutil.ToFloat64(transitions.WithLabelValues(string(kind))); got != 1 {
			t.Errorf("%s count = %v, want 1", kind, got)
		}
	}
}

// Consent transitions are personal to the connection's parties. An admin may
// read the connection but cannot request, answer, revoke, or delete on a
// party's behalf.
func TestConsentTransitionsRejectNonParties(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	actorAdmin := access.Actor{
		ID:   uuid.MustParse("cccccccc-0000-0000-0000-000000000001"),
		Role: domain.RoleAdmin,
	}

	c, _, err := svc.CreateConnection(ctx, &connection.CreateConnectionCommand{
		PatientID:         patientA,
		ProviderID:        providerP,
		RequestFullAccess: true,
	}, actorProviderP, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := svc.RequestFullAccess(ctx, c.ID, actorAdmin, ""); !errors.Is(err, connection.ErrNotParty) {
		t.Errorf("request: err = %v, want %v", err, connection.ErrNotParty)
	}
	if _, _, err := svc.RespondToFullAccess(ctx, c.ID, actorAdmin, RespondApprove, ""); !errors.Is(err, connection.ErrNotParty) {
		t.Errorf("respond: err = %v, want %v", err, connection.ErrNotParty)
	}
	if _, _, err := svc.GrantFullAccessDirect(ctx, c.ID, actorAdmin, ""); !errors.Is(err, connection.ErrNotParty) {
		t.Errorf("grant: err = %v, want %v", err, connection.ErrNotParty)
	}
	if _, _, err := svc.RevokeAccess(ctx, c.ID, actorAdmin, ""); !errors.Is(err, connection.ErrNotParty) {
		t.Errorf("revoke: err = %v, want %v", err, connection.ErrNotParty)
	}
	if err := svc.DeleteConnection(ctx, c.ID, actorAdmin, ""); !errors.Is(err, connection.ErrNotParty) {
		t.Errorf("delete: err = %v, want %v", err, connection.ErrNotParty)
	}

	// The admin still reads it, and nothing moved.
	stored, err := svc.GetConnection(ctx, c.ID, actorAdmin)
	if err != nil {
		t.Fatalf("admin get: %v", err)
	}
	if stored.State != connection.StateLimitedPending {
		t.Errorf("state = %s, want %s", stored.State, connection.StateLimitedPending)
	}
}

type resourceStub struct {
	patientID uuid.UUID
	creatorID uuid.UUID
}

func (r resourceStub) ResourcePatientID() uuid.UUID { return r.patientID }
func (r resourceStub) ResourceCreatorID() uuid.UUID { return r.creatorID }
