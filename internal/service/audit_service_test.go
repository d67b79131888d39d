package service

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/carebridgehq/carebridge/internal/domain"
)

type countingAuditRepo struct {
	mu sync.Mutex
	n  int
}

func (r *countingAuditRepo) Create(context.Context, *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *countingAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func TestAuditEntriesCounted(t *testing.T) {
	ctx := context.Background()
	repo := &countingAuditRepo{}
	svc := NewAuditService(repo, zap.NewNop())

	written := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_entries_total"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_buffer_dropped_total"})
	svc.Instrument(written, dropped)

	svc.LogAsync(ctx, AuditEntry{UserID: patientA, UserRole: "patient", Action: "read", ResourceType: "connection"})
	svc.LogAsync(ctx, AuditEntry{UserID: providerP, UserRole: "provider", Action: "update", ResourceType: "connection"})
	svc.Shutdown()

	if got := repo.count(); got != 2 {
		t.Fatalf("persisted %d entries, want 2", got)
	}
	if got := testutil.ToFloat64(written); got != 2 {
		t.Errorf("written count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(dropped); got != 0 {
		t.Errorf("dropped count = %v, want 0", got)
	}
}

func TestAuditFullBufferDropIsCounted(t *testing.T) {
	svc := &AuditService{
		repo:    &countingAuditRepo{},
		log:     zap.NewNop(),
		entries: make(chan *domain.AuditLog), // unbuffered, no worker draining
		done:    make(chan struct{}),
	}
	written := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_entries_total"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_buffer_dropped_total"})
	svc.Instrument(written, dropped)

	svc.LogAsync(context.Background(), AuditEntry{UserID: patientA, Action: "read", ResourceType: "connection"})

	if got := testutil.ToFloat64(dropped); got != 1 {
		t.Errorf("dropped count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(written); got != 0 {
		t.Errorf("written count = %v, want 0", got)
	}
}
