package notify

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

	"github.com/carebridgehq/carebridge/internal/domain/connection"
	"github.com/carebridgehq/carebridge/internal/repository/memory"
)

type captureSink struct {
	mu     sync.Mutex
	events []connection.Event
	fail   bool
}

func (s *captureSink) Enqueue(_ context.Context, ev connection.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) captured() []connection.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connection.Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestDispatchReachesSinkAndMarksNotified(t *testing.T) {
	repo := memory.NewConnectionRepository()
	c, events := connection.New(uuid.New(), uuid.New(), uuid.New(), "", true, time.Now())
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("create: %v", err)
	}
	sink := &captureSink{}
	d := NewAsyncDispatcher(sink, repo, zap.NewNop(), 16, time.Second)

	d.Dispatch(events...)
	d.Shutdown(time.Second)

	got := sink.captured()
	if len(got) != 2 {
		t.Fatalf("sink received %d events, want 2", len(got))
	}
	if got[0].Kind != connection.EventConnectionCreated || got[1].Kind != connection.EventFullAccessRequested {
		t.Fatalf("unexpected event kinds: %v, %v", got[0].Kind, got[1].Kind)
	}

	stored, err := repo.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.PatientNotified || stored.PatientNotifiedAt == nil {
		t.Error("patient should be marked notified after FullAccessRequested was enqueued")
	}
}

func TestEnqueueFailureDoesNotMarkNotified(t *testing.T) {
	repo := memory.NewConnectionRepository()
	c, _ := connection.New(uuid.New(), uuid.New(), uuid.New(), "", true, time.Now())
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("create: %v", err)
	}

	sink := &captureSink{fail: true}
	d := NewAsyncDispatcher(sink, repo, zap.NewNop(), 16, time.Second)

	d.Dispatch(connection.Event{
		Kind:         connection.EventFullAccessRequested,
		ConnectionID: c.ID,
		PatientID:    c.PatientID,
		ProviderID:   c.ProviderID,
		OccurredAt:   time.Now(),
	})
	d.Shutdown(time.Second)

	stored, err := repo.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.PatientNotified {
		t.Error("patient must not be marked notified when enqueue failed")
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	repo := memory.NewConnectionRepository()
	sink := &captureSink{}
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "notify_dropped_total"})
	d := &AsyncDispatcher{
		sink:    sink,
		marker:  repo,
		log:     zap.NewNop(),
		timeout: time.Second,
		events:  make(chan connection.Event), // unbuffered, no worker draining
		done:    make(chan struct{}),
		dropped: dropped,
	}

	done := make(chan struct{})
	go func() {
		d.Dispatch(connection.Event{Kind: connection.EventConnectionCreated})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full buffer")
	}

	if got := testutil.ToFloat64(dropped); got != 1 {
		t.Errorf("dropped count = %v, want 1", got)
	}
}
