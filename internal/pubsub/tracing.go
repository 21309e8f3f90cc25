package pubsub

import (
	"context"
	"errors"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ Bus = (*TracingBus)(nil)

const tracingShutdownTimeout = 5 * time.Second

// TracingBus records a span for every publish and every delivered message.
// The trace context travels in the message metadata, so a delivery span
// belongs to the same trace as the publish that caused it.
type TracingBus struct {
	Bus
	tracer     trace.Tracer
	system     string
	propagator propagation.TextMapPropagator
	shutdown   func(context.Context) error
}

// NewTracingBus wraps bus. system names the backend on spans ("watermill",
// "redis").
func NewTracingBus(bus Bus, tracer trace.Tracer, system string) *TracingBus {
	return &TracingBus{
		Bus:        bus,
		tracer:     tracer,
		system:     system,
		propagator: propagation.TraceContext{},
	}
}

func (b *TracingBus) attributes(operation string, msg Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", b.system),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("messaging.message_id", msg.Metadata["message_id"]),
		attribute.String("messaging.origin", msg.Origin),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
	}
}

// Publish implements Publisher.
func (b *TracingBus) Publish(ctx context.Context, msg Message) error {
	ctx, span := b.tracer.Start(ctx, "pubsub.publish."+msg.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(b.attributes("publish", msg)...),
	)
	defer span.End()

	md := make(map[string]string, len(msg.Metadata)+2)
	maps.Copy(md, msg.Metadata)
	b.propagator.Inject(ctx, propagation.MapCarrier(md))
	msg.Metadata = md

	if err := b.Bus.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Subscribe implements Subscriber.
func (b *TracingBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.Bus.Subscribe(ctx, topic, func(ctx context.Context, msg Message) error {
		ctx = b.propagator.Extract(ctx, propagation.MapCarrier(msg.Metadata))
		ctx, span := b.tracer.Start(ctx, "pubsub.process."+topic,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(b.attributes("process", msg)...),
		)
		defer span.End()

		if err := handler(ctx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		return nil
	})
}

// Close closes the wrapped bus and flushes pending spans.
func (b *TracingBus) Close() error {
	err := b.Bus.Close()
	if b.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		err = errors.Join(err, b.shutdown(ctx))
	}
	return err
}
