package notification

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/messaging"
	"github.com/Additional-Code/raffle/internal/service/payment"
	"github.com/Additional-Code/raffle/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/raffle/worker/notification")

// Module registers notification worker handlers.
var Module = fx.Module("worker_notification",
	fx.Provide(
		fx.Annotate(
			func(r *payment.Reconciler, logger *zap.Logger) worker.HandlerRegistration {
				return NewOrderApprovedHandler(r, logger)
			},
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Deliverer sends the approval notifications for an order at most once.
type Deliverer interface {
	DeliverNotifications(ctx context.Context, reference string) error
}

// NewOrderApprovedHandler delivers customer and operator notifications for approved orders.
// Undecodable events are logged and acknowledged; delivery errors are returned so the
// consumer retries them.
func NewOrderApprovedHandler(deliverer Deliverer, logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.notifications.order_approved", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		event, err := payment.DecodeOrderApprovedEvent(msg.Value)
		if err != nil {
			logger.Error("discarding undecodable order approved event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		span.SetAttributes(attribute.String("order.reference", event.Reference))

		if err := deliverer.DeliverNotifications(ctx, event.Reference); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
			return err
		}

		logger.Info("order approved event processed",
			zap.String("event.id", event.EventID),
			zap.String("order.reference", event.Reference),
		)
		return nil
	}

	return worker.HandlerRegistration{
		Event:   payment.EventOrderApproved,
		Handler: handler,
	}
}
