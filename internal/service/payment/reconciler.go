package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/entity"
	"github.com/Additional-Code/raffle/internal/gateway"
	"github.com/Additional-Code/raffle/internal/messaging"
	"github.com/Additional-Code/raffle/internal/notify"
	"github.com/Additional-Code/raffle/internal/observability"
	orderrepo "github.com/Additional-Code/raffle/internal/repository/order"
	tokenrepo "github.com/Additional-Code/raffle/internal/repository/token"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/raffle/service/payment")

// Outcome describes what a notification did to its order.
type Outcome string

const (
	OutcomeApproved          Outcome = "approved"
	OutcomeRejected          Outcome = "rejected"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomePending           Outcome = "pending"
	OutcomeUnrecognized      Outcome = "unrecognized"
	OutcomeUnknownReference  Outcome = "unknown_reference"
	OutcomeUnknownPayment    Outcome = "unknown_payment"
	OutcomeInvalidTransition Outcome = "invalid_transition"
)

// Result reports how a notification was applied.
type Result struct {
	Reference string
	PaymentID string
	Status    string
	Outcome   Outcome
}

// Reconciler applies gateway payment notifications to orders exactly once.
type Reconciler struct {
	db            *database.Connections
	orders        *orderrepo.Repository
	tokens        *tokenrepo.Repository
	gateway       gateway.Client
	notifier      notify.Notifier
	publisher     messaging.Client
	publish       bool
	notifyTimeout time.Duration
	lookupTimeout time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// Params defines dependencies for constructing Reconciler.
type Params struct {
	fx.In

	DB        *database.Connections
	Orders    *orderrepo.Repository
	Tokens    *tokenrepo.Repository
	Gateway   gateway.Client
	Notifier  notify.Notifier
	Publisher messaging.Client `optional:"true"`
	Config    config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// NewReconciler wires a new Reconciler instance.
func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		db:            p.DB,
		orders:        p.Orders,
		tokens:        p.Tokens,
		gateway:       p.Gateway,
		notifier:      p.Notifier,
		publisher:     p.Publisher,
		publish:       p.Config.Messaging.Enabled && p.Publisher != nil,
		notifyTimeout: p.Config.Notify.Timeout,
		lookupTimeout: p.Config.Gateway.Timeout,
		logger:        p.Logger,
		metrics:       p.Metrics,
	}
}

// HandleNotification looks the notified payment up on the gateway and applies the gateway's
// status to the order the payment was created for. Notifications without a payment id, unknown
// references and payments are acknowledged with a nil error; only gateway lookups that fail
// transiently and database errors are returned so the gateway retries.
func (r *Reconciler) HandleNotification(ctx context.Context, n gateway.PaymentNotification) (Result, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentReconciler.HandleNotification", trace.WithAttributes(
		attribute.String("payment.id", n.PaymentID),
		attribute.String("order.reference", n.CorrelationRef),
	))
	defer span.End()

	res := Result{Reference: n.CorrelationRef, PaymentID: n.PaymentID}

	// Only the gateway's own payment record is trusted; a status in the payload proves nothing.
	if n.PaymentID == "" {
		r.logger.Warn("payment notification without payment id; reported status ignored",
			zap.String("order.reference", n.CorrelationRef),
			zap.String("payment.reported_status", n.Status),
		)
		return r.finish(ctx, res, OutcomeUnrecognized), nil
	}

	payment, err := r.lookupPayment(ctx, n.PaymentID)
	switch {
	case errors.Is(err, gateway.ErrPaymentNotFound):
		r.logger.Warn("payment notification for unknown payment", zap.String("payment.id", n.PaymentID))
		return r.finish(ctx, res, OutcomeUnknownPayment), nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway lookup failed")
		r.metrics.Reconciliation(ctx, "lookup_failed")
		return res, errorbank.Unavailable("payment lookup failed",
			errorbank.WithCause(err),
			errorbank.WithDetail("retryable", true),
		)
	}
	if payment.CorrelationRef != "" {
		res.Reference = payment.CorrelationRef
	}
	res.Status = payment.Status
	span.SetAttributes(attribute.String("order.reference", res.Reference), attribute.String("payment.status", res.Status))

	if res.Reference == "" {
		r.logger.Warn("payment notification without correlation reference", zap.String("payment.id", res.PaymentID))
		return r.finish(ctx, res, OutcomeUnknownReference), nil
	}

	order, err := r.orders.FindByReference(ctx, res.Reference)
	if errors.Is(err, orderrepo.ErrNotFound) {
		r.logger.Warn("payment notification for unknown order",
			zap.String("order.reference", res.Reference),
			zap.String("payment.id", res.PaymentID),
		)
		return r.finish(ctx, res, OutcomeUnknownReference), nil
	}
	if err != nil {
		return res, r.fail(ctx, span, err)
	}

	// A payment settles only the checkout it was created for.
	if payment.CorrelationRef != order.Reference {
		r.logger.Warn("payment not issued for this order; manual review required",
			zap.String("order.reference", order.Reference),
			zap.String("payment.id", res.PaymentID),
			zap.String("payment.correlation_ref", payment.CorrelationRef),
			zap.String("payment.status", res.Status),
		)
		return r.finish(ctx, res, OutcomeInvalidTransition), nil
	}

	switch gateway.Classify(res.Status) {
	case gateway.OutcomeApproved:
		if payment.Amount.LessThan(order.TotalAmount) {
			r.logger.Warn("approved payment below order total; manual review required",
				zap.String("order.reference", order.Reference),
				zap.String("payment.id", res.PaymentID),
				zap.String("payment.amount", payment.Amount.String()),
				zap.String("order.total", order.TotalAmount.String()),
			)
			return r.finish(ctx, res, OutcomeInvalidTransition), nil
		}
		return r.approve(ctx, span, res, order)
	case gateway.OutcomeRejected:
		return r.reject(ctx, span, res)
	case gateway.OutcomePending:
		return r.record(ctx, span, res, OutcomePending)
	default:
		r.logger.Warn("unrecognized payment status",
			zap.String("order.reference", res.Reference),
			zap.String("payment.status", res.Status),
		)
		return r.record(ctx, span, res, OutcomeUnrecognized)
	}
}

func (r *Reconciler) approve(ctx context.Context, span trace.Span, res Result, current *entity.Order) (Result, error) {
	// Repeat deliveries for an approved order skip the write but still reach dispatch,
	// which is gated by the notification claim.
	if current.Status == entity.OrderStatusApproved {
		r.dispatch(ctx, current)
		return r.finish(ctx, res, OutcomeDuplicate), nil
	}

	var (
		order   *entity.Order
		changed bool
	)
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		order, changed, err = r.orders.Transition(ctx, res.Reference, entity.OrderStatusApproved, res.PaymentID, res.Status)
		return err
	})
	if errors.Is(err, orderrepo.ErrInvalidTransition) {
		r.logger.Warn("approved payment for a closed order; manual review required",
			zap.String("order.reference", res.Reference),
			zap.String("order.status", statusOf(order, current)),
			zap.String("payment.id", res.PaymentID),
		)
		return r.finish(ctx, res, OutcomeInvalidTransition), nil
	}
	if err != nil {
		return res, r.fail(ctx, span, err)
	}

	r.dispatch(ctx, order)
	if !changed {
		return r.finish(ctx, res, OutcomeDuplicate), nil
	}
	r.logger.Info("order approved",
		zap.String("order.reference", order.Reference),
		zap.String("payment.id", res.PaymentID),
		zap.Strings("tokens", order.TokenCodes),
	)
	return r.finish(ctx, res, OutcomeApproved), nil
}

func (r *Reconciler) reject(ctx context.Context, span trace.Span, res Result) (Result, error) {
	var (
		order    *entity.Order
		changed  bool
		released int
	)
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		order, changed, err = r.orders.Transition(ctx, res.Reference, entity.OrderStatusRejected, res.PaymentID, res.Status)
		if err != nil || !changed {
			return err
		}
		released, err = r.tokens.Release(ctx, order.Reference, order.TokenCodes)
		return err
	})
	if errors.Is(err, orderrepo.ErrInvalidTransition) {
		r.logger.Warn("rejection for a closed order ignored",
			zap.String("order.reference", res.Reference),
			zap.String("order.status", statusOf(order, nil)),
			zap.String("payment.status", res.Status),
		)
		return r.finish(ctx, res, OutcomeInvalidTransition), nil
	}
	if err != nil {
		return res, r.fail(ctx, span, err)
	}
	if !changed {
		return r.finish(ctx, res, OutcomeDuplicate), nil
	}

	r.logger.Info("order rejected; tokens released",
		zap.String("order.reference", order.Reference),
		zap.String("payment.status", res.Status),
		zap.Int("tokens.released", released),
	)
	return r.finish(ctx, res, OutcomeRejected), nil
}

func statusOf(orders ...*entity.Order) string {
	for _, o := range orders {
		if o != nil {
			return string(o.Status)
		}
	}
	return ""
}

func (r *Reconciler) record(ctx context.Context, span trace.Span, res Result, outcome Outcome) (Result, error) {
	if _, err := r.orders.RecordPaymentStatus(ctx, res.Reference, res.PaymentID, res.Status); err != nil {
		return res, r.fail(ctx, span, err)
	}
	return r.finish(ctx, res, outcome), nil
}

// dispatch hands notification delivery to the worker when messaging is on, and otherwise
// delivers inline after the transition has committed.
func (r *Reconciler) dispatch(ctx context.Context, order *entity.Order) {
	if !order.NotifiedAt.IsZero() {
		return
	}

	if r.publish {
		event := NewOrderApprovedEvent(order.Reference, order.PaymentID, time.Now())
		payload, err := json.Marshal(event)
		if err == nil {
			err = r.publisher.Publish(ctx, messaging.Message{
				Key:     []byte(order.Reference),
				Value:   payload,
				Headers: map[string]string{messaging.HeaderEventType: EventOrderApproved},
			})
		}
		if err == nil {
			return
		}
		r.logger.Warn("publish order approved failed; delivering inline",
			zap.String("order.reference", order.Reference),
			zap.Error(err),
		)
	}

	deliverCtx := context.WithoutCancel(ctx)
	if r.notifyTimeout > 0 {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(deliverCtx, r.notifyTimeout)
		defer cancel()
	}
	if err := r.DeliverNotifications(deliverCtx, order.Reference); err != nil {
		r.logger.Error("notification delivery failed",
			zap.String("order.reference", order.Reference),
			zap.Error(err),
		)
	}
}

// DeliverNotifications claims the order's notification slot and, if this call won it, notifies
// the customer and the operator. Delivery failures are logged; only claim and lookup errors are returned.
func (r *Reconciler) DeliverNotifications(ctx context.Context, reference string) error {
	ctx, span := serviceTracer.Start(ctx, "PaymentReconciler.DeliverNotifications", trace.WithAttributes(attribute.String("order.reference", reference)))
	defer span.End()

	claimed, err := r.orders.ClaimNotification(ctx, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return err
	}
	if !claimed {
		r.logger.Debug("notification already delivered or order not approved", zap.String("order.reference", reference))
		return nil
	}

	order, err := r.orders.FindByReference(ctx, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return err
	}

	if err := r.notifier.NotifyCustomer(ctx, *order); err != nil {
		r.logger.Warn("customer notification failed", zap.String("order.reference", reference), zap.Error(err))
	}
	if err := r.notifier.NotifyOperator(ctx, *order); err != nil {
		r.logger.Warn("operator notification failed", zap.String("order.reference", reference), zap.Error(err))
	}
	return nil
}

func (r *Reconciler) lookupPayment(ctx context.Context, paymentID string) (gateway.Payment, error) {
	if r.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
	}
	return r.gateway.GetPayment(ctx, paymentID)
}

func (r *Reconciler) finish(ctx context.Context, res Result, outcome Outcome) Result {
	res.Outcome = outcome
	r.metrics.Reconciliation(ctx, string(outcome))
	return res
}

func (r *Reconciler) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "reconciliation failed")
	r.metrics.Reconciliation(ctx, "error")
	r.logger.Error("payment reconciliation failed", zap.Error(err))
	return errorbank.Unavailable("payment reconciliation failed",
		errorbank.WithCause(err),
		errorbank.WithDetail("retryable", true),
	)
}
