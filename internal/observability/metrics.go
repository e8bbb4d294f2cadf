package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Additional-Code/raffle"

// Metrics holds the domain counters. Instruments come from the global meter provider,
// which forwards to the SDK provider once the manager installs it.
type Metrics struct {
	reservations    metric.Int64Counter
	reconciliations metric.Int64Counter
	notifications   metric.Int64Counter
}

// NewMetrics registers the raffle counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider registers the raffle counters on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	reservations, err := meter.Int64Counter("raffle.reservations",
		metric.WithDescription("Reservation attempts by outcome"))
	if err != nil {
		return nil, err
	}
	reconciliations, err := meter.Int64Counter("raffle.reconciliations",
		metric.WithDescription("Payment notifications applied to orders by outcome"))
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("raffle.notifications",
		metric.WithDescription("Notification deliveries by channel and outcome"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reservations:    reservations,
		reconciliations: reconciliations,
		notifications:   notifications,
	}, nil
}

// Reservation counts one reservation attempt.
func (m *Metrics) Reservation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Reconciliation counts one processed payment notification.
func (m *Metrics) Reconciliation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Notification counts one delivery attempt on a channel.
func (m *Metrics) Notification(ctx context.Context, channel, outcome string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
}
