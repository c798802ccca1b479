package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/flowmcp/bus"
)

// BusMetrics records broadcast channel traffic.
type BusMetrics struct {
	meter   metric.Meter
	emitted metric.Int64Counter
	dropped metric.Int64Counter
}

// NewBusMetrics creates instruments for broadcast traffic on meter.
func NewBusMetrics(meter metric.Meter) (*BusMetrics, error) {
	emitted, err := meter.Int64Counter("flowmcp.bus.events",
		metric.WithDescription("Number of events emitted on the broadcast channel"),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("flowmcp.bus.dropped",
		metric.WithDescription("Number of per-session deliveries dropped because the session buffer was full"),
	)
	if err != nil {
		return nil, err
	}
	return &BusMetrics{meter: meter, emitted: emitted, dropped: dropped}, nil
}

// ObserveSessions registers a gauge reporting the live session count.
func (m *BusMetrics) ObserveSessions(count func() int) error {
	_, err := m.meter.Int64ObservableGauge("flowmcp.bus.sessions",
		metric.WithDescription("Number of open broadcast sessions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(count()))
			return nil
		}),
	)
	return err
}

// RecordDrop matches bus.MemBusConfig.OnDrop.
func (m *BusMetrics) RecordDrop(_ string, event bus.Event) {
	if m == nil {
		return
	}
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", event.Kind)))
}

// Publisher wraps next so every emitted event is counted by kind.
func (m *BusMetrics) Publisher(next bus.Publisher) bus.Publisher {
	if m == nil || next == nil {
		return next
	}
	return &countingPublisher{next: next, metrics: m}
}

type countingPublisher struct {
	next    bus.Publisher
	metrics *BusMetrics
}

func (p *countingPublisher) Emit(kind string, data any) bus.Event {
	event := p.next.Emit(kind, data)
	p.metrics.emitted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	return event
}
