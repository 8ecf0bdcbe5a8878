package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-sync/internal/remote"
)

// InstrumentedStore wraps a remote.Store with spans and metrics.
type InstrumentedStore struct {
	next   remote.Store
	tracer trace.Tracer
}

var _ remote.Store = (*InstrumentedStore)(nil)

func InstrumentStore(next remote.Store) *InstrumentedStore {
	return &InstrumentedStore{next: next, tracer: otel.Tracer("chat-sync/remote")}
}

func (s *InstrumentedStore) Query(ctx context.Context, resource remote.Resource, filters []remote.Filter, order *remote.Order) ([]remote.Row, error) {
	ctx, span, start := s.begin(ctx, "query", string(resource))
	rows, err := s.next.Query(ctx, resource, filters, order)
	span.SetAttributes(attribute.Int("rows", len(rows)))
	s.end(span, "query", string(resource), start, err)
	return rows, err
}

func (s *InstrumentedStore) Insert(ctx context.Context, resource remote.Resource, row remote.Row) (remote.Row, error) {
	ctx, span, start := s.begin(ctx, "insert", string(resource))
	out, err := s.next.Insert(ctx, resource, row)
	s.end(span, "insert", string(resource), start, err)
	return out, err
}

func (s *InstrumentedStore) Update(ctx context.Context, resource remote.Resource, filters []remote.Filter, values remote.Row) ([]remote.Row, error) {
	ctx, span, start := s.begin(ctx, "update", string(resource))
	rows, err := s.next.Update(ctx, resource, filters, values)
	s.end(span, "update", string(resource), start, err)
	return rows, err
}

func (s *InstrumentedStore) Call(ctx context.Context, procedure string, args remote.Row) (any, error) {
	ctx, span, start := s.begin(ctx, "call", procedure)
	out, err := s.next.Call(ctx, procedure, args)
	s.end(span, "call", procedure, start, err)
	return out, err
}

func (s *InstrumentedStore) Subscribe(ctx context.Context, topic remote.Topic, handler remote.Handler) (remote.SubscriptionID, error) {
	ctx, span, start := s.begin(ctx, "subscribe", string(topic.Resource))
	id, err := s.next.Subscribe(ctx, topic, handler)
	s.end(span, "subscribe", string(topic.Resource), start, err)
	return id, err
}

func (s *InstrumentedStore) Unsubscribe(id remote.SubscriptionID) {
	s.next.Unsubscribe(id)
}

func (s *InstrumentedStore) begin(ctx context.Context, operation, resource string) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "remote."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("resource", resource)),
	)
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) end(span trace.Span, operation, resource string, start time.Time, err error) {
	outcome := Outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
	ObserveRemoteOperation(operation, resource, outcome, time.Since(start))
}

// Outcome labels an error by its place in the remote error taxonomy.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, remote.ErrTransient):
		return "transient"
	case errors.Is(err, remote.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}
