// Package notify carries connection events out of the core. The engine only
// produces events; rendering and delivery belong to whatever implements Sink.
// Enqueue failures never roll back a committed state transition.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/carebridgehq/carebridge/internal/domain/connection"
)

// Sink is the external delivery boundary (email templating, push, queue).
type Sink interface {
	Enqueue(ctx context.Context, ev connection.Event) error
}

// Dispatcher accepts events produced by connection transitions.
type Dispatcher interface {
	Dispatch(events ...connection.Event)
}

// NotifiedMarker is the slice of the connection store the dispatcher needs to
// record that the patient was informed of a pending request.
type NotifiedMarker interface {
	MarkPatientNotified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AsyncDispatcher buffers events and hands them to the sink from a single
// worker goroutine. A full buffer drops the event with a warning; the state
// transition that produced it has already been committed and stands.
type AsyncDispatcher struct {
	sink    Sink
	marker  NotifiedMarker
	log     *zap.Logger
	timeout time.Duration
	events  chan connection.Event
	done    chan struct{}
	dropped prometheus.Counter
}

func NewAsyncDispatcher(sink Sink, marker NotifiedMarker, log *zap.Logger, bufferSize int, timeout time.Duration) *AsyncDispatcher {
	d := &AsyncDispatcher{
		sink:    sink,
		marker:  marker,
		log:     log,
		timeout: timeout,
		events:  make(chan connection.Event, bufferSize),
		done:    make(chan struct{}),
	}
	go d.worker()
	return d
}

// Instrument counts dropped events on the given counter. Call before the
// first Dispatch.
func (d *AsyncDispatcher) Instrument(dropped prometheus.Counter) {
	d.dropped = dropped
}

func (d *AsyncDispatcher) Dispatch(events ...connection.Event) {
	for _, ev := range events {
		select {
		case d.events <- ev:
		default:
			if d.dropped != nil {
				d.dropped.Inc()
			}
			d.log.Warn("notification buffer full, dropping event",
				zap.String("kind", string(ev.Kind)),
				zap.String("connection_id", ev.ConnectionID.String()),
			)
		}
	}
}

// Shutdown drains the buffer and stops the worker.
func (d *AsyncDispatcher) Shutdown(timeout time.Duration) {
	close(d.events)
	select {
	case <-d.done:
	case <-time.After(timeout):
		d.log.Warn("notification dispatcher shutdown timed out; some events may be lost")
	}
}

func (d *AsyncDispatcher) worker() {
	defer close(d.done)
	for ev := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Enqueue(ctx, ev); err != nil {
			d.log.Error("failed to enqueue notification",
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
			cancel()
			continue
		}

		// Once the patient has been told about a pending request, record it
		// so repeated displays and reminder jobs stay idempotent.
		if ev.Kind == connection.EventFullAccessRequested {
			if err := d.marker.MarkPatientNotified(ctx, ev.ConnectionID, time.Now()); err != nil {
				d.log.Warn("failed to mark patient notified",
					zap.String("connection_id", ev.ConnectionID.String()),
					zap.Error(err),
				)
			}
		}
		cancel()
	}
}

// LogSink is the development sink: it just logs the event. Production wires
// the real outbound queue here.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Enqueue(_ context.Context, ev connection.Event) error {
	s.log.Info("notification event",
		zap.String("kind", string(ev.Kind)),
		zap.String("connection_id", ev.ConnectionID.String()),
		zap.String("patient_id", ev.PatientID.String()),
		zap.String("provider_id", ev.ProviderID.String()),
	)
	return nil
}
