package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/raffle/repository/order")

var (
	// ErrNotFound is returned when an order is missing.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned when the state machine forbids the move.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrConcurrentUpdate means the order status changed between read and write.
	ErrConcurrentUpdate = errors.New("order updated concurrently")
)

// Repository is the order ledger.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Create persists a new order. The tokens it lists must already be reserved for its reference.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.reference", order.Reference)))
	defer span.End()

	if order.Reference == "" {
		return errors.New("order reference is required")
	}
	if len(order.TokenCodes) != order.Quantity {
		return errors.New("order token count does not match quantity")
	}
	if order.Status == "" {
		order.Status = entity.OrderStatusPending
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	_, err := database.Conn(ctx, r.writer).NewInsert().Model(order).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// FindByReference fetches an order by its external reference.
// Inside a transaction the read happens on the tx so it observes uncommitted writes.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.FindByReference", trace.WithAttributes(attribute.String("order.reference", reference)))
	defer span.End()

	order := new(entity.Order)
	err := database.Conn(ctx, r.reader).NewSelect().Model(order).Where("reference = ?", reference).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Transition moves the order to status. Moving to the status the order already has is a no-op and
// reports changed=false. Leaving a terminal status fails with ErrInvalidTransition.
// The row is locked where the dialect allows and the update is guarded by the status that was read.
func (r *Repository) Transition(ctx context.Context, reference string, to entity.OrderStatus, paymentID, paymentStatus string) (*entity.Order, bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Transition", trace.WithAttributes(
		attribute.String("order.reference", reference),
		attribute.String("order.status", string(to)),
	))
	defer span.End()

	db := database.Conn(ctx, r.writer)

	order := new(entity.Order)
	q := db.NewSelect().Model(order).Where("reference = ?", reference)
	if database.SupportsRowLocks(db) {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, false, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, false, err
	}

	if order.Status == to {
		return order, false, nil
	}
	if !entity.CanTransition(order.Status, to) {
		span.SetStatus(codes.Error, "invalid transition")
		return order, false, ErrInvalidTransition
	}

	now := time.Now().UTC()
	upd := db.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("reference = ?", reference).
		Where("status = ?", order.Status)
	if paymentID != "" {
		upd = upd.Set("payment_id = ?", paymentID)
		order.PaymentID = paymentID
	}
	if paymentStatus != "" {
		upd = upd.Set("payment_status = ?", paymentStatus)
		order.PaymentStatus = paymentStatus
	}

	res, err := upd.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected != 1 {
		span.SetStatus(codes.Error, "concurrent update")
		return nil, false, ErrConcurrentUpdate
	}

	order.Status = to
	order.UpdatedAt = now
	return order, true, nil
}

// RecordPaymentStatus stores the last gateway status on a pending order without moving it.
// It reports whether a pending order was updated.
func (r *Repository) RecordPaymentStatus(ctx context.Context, reference, paymentID, paymentStatus string) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.RecordPaymentStatus", trace.WithAttributes(
		attribute.String("order.reference", reference),
		attribute.String("payment.status", paymentStatus),
	))
	defer span.End()

	upd := database.Conn(ctx, r.writer).NewUpdate().
		Model((*entity.Order)(nil)).
		Set("payment_status = ?", paymentStatus).
		Set("updated_at = ?", time.Now().UTC()).
		Where("reference = ?", reference).
		Where("status = ?", entity.OrderStatusPending)
	if paymentID != "" {
		upd = upd.Set("payment_id = ?", paymentID)
	}

	res, err := upd.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ClaimNotification marks an approved order as notified. Only the first caller gets true.
func (r *Repository) ClaimNotification(ctx context.Context, reference string) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ClaimNotification", trace.WithAttributes(attribute.String("order.reference", reference)))
	defer span.End()

	now := time.Now().UTC()
	res, err := database.Conn(ctx, r.writer).NewUpdate().
		Model((*entity.Order)(nil)).
		Set("notified_at = ?", now).
		Set("updated_at = ?", now).
		Where("reference = ?", reference).
		Where("status = ?", entity.OrderStatusApproved).
		Where("notified_at IS NULL").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	claimed := affected == 1
	span.SetAttributes(attribute.Bool("notification.claimed", claimed))
	return claimed, nil
}

// SetPaymentLink stores the checkout link returned by the gateway.
func (r *Repository) SetPaymentLink(ctx context.Context, reference, link string) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.SetPaymentLink", trace.WithAttributes(attribute.String("order.reference", reference)))
	defer span.End()

	res, err := database.Conn(ctx, r.writer).NewUpdate().
		Model((*entity.Order)(nil)).
		Set("payment_link = ?", link).
		Set("updated_at = ?", time.Now().UTC()).
		Where("reference = ?", reference).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus returns orders in any of the given statuses, oldest first. Zero statuses lists every order.
func (r *Repository) ListByStatus(ctx context.Context, statuses ...entity.OrderStatus) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListByStatus")
	defer span.End()

	var orders []entity.Order
	q := database.Conn(ctx, r.reader).NewSelect().Model(&orders).Order("created_at ASC", "reference ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}
