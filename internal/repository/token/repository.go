package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/raffle/repository/token")

var (
	// ErrInsufficientInventory is returned when fewer tokens are available than requested.
	ErrInsufficientInventory = errors.New("insufficient token inventory")
	// ErrReservationConflict means a concurrent reservation claimed some of the selected tokens first.
	ErrReservationConflict = errors.New("token reservation conflict")
)

// Stats summarises the pool.
type Stats struct {
	Total     int
	Available int
	Reserved  int
}

// Repository is the token inventory backed by the tokens table.
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

// CountAvailable reads the number of available tokens. Inside a transaction the count is read on the tx.
func (r *Repository) CountAvailable(ctx context.Context) (int, error) {
	ctx, span := repoTracer.Start(ctx, "TokenRepository.CountAvailable")
	defer span.End()

	db := database.Conn(ctx, r.reader)
	count, err := db.NewSelect().Model((*entity.Token)(nil)).Where("available = ?", true).Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return 0, err
	}
	return count, nil
}

// Reserve picks n random available tokens and binds them to reference. Either all n are reserved or none.
// Callers should run it inside database.WithTx so a conflict rolls back cleanly.
func (r *Repository) Reserve(ctx context.Context, reference string, n int) ([]string, error) {
	ctx, span := repoTracer.Start(ctx, "TokenRepository.Reserve", trace.WithAttributes(
		attribute.String("order.reference", reference),
		attribute.Int("quantity", n),
	))
	defer span.End()

	if n <= 0 {
		return nil, fmt.Errorf("reserve: quantity must be positive, got %d", n)
	}

	db := database.Conn(ctx, r.writer)

	var picked []entity.Token
	q := db.NewSelect().
		Model(&picked).
		Column("code").
		Where("available = ?", true).
		OrderExpr(database.RandomOrder(db)).
		Limit(n)
	if database.SupportsRowLocks(db) {
		q = q.For("UPDATE SKIP LOCKED")
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	if len(picked) < n {
		err := shortfall(ctx, db, n)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	selected := make([]string, 0, len(picked))
	for _, t := range picked {
		selected = append(selected, t.Code)
	}

	res, err := db.NewUpdate().
		Model((*entity.Token)(nil)).
		Set("available = ?", false).
		Set("order_reference = ?", reference).
		Set("updated_at = ?", time.Now().UTC()).
		Where("code IN (?)", bun.In(selected)).
		Where("available = ?", true).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if int(affected) != n {
		span.SetStatus(codes.Error, "reservation conflict")
		return nil, ErrReservationConflict
	}

	return selected, nil
}

// shortfall classifies a short pick. SKIP LOCKED hides rows held by concurrent reservations, so when
// the pool still holds n available tokens the caller lost a race and may retry.
func shortfall(ctx context.Context, db bun.IDB, n int) error {
	available, err := db.NewSelect().Model((*entity.Token)(nil)).Where("available = ?", true).Count(ctx)
	if err != nil {
		return err
	}
	if available >= n {
		return ErrReservationConflict
	}
	return ErrInsufficientInventory
}

// Release returns tokens still owned by reference to the pool. With no codes every token owned by
// reference is released. Tokens already available or owned by another order are left alone.
func (r *Repository) Release(ctx context.Context, reference string, tokenCodes []string) (int, error) {
	ctx, span := repoTracer.Start(ctx, "TokenRepository.Release", trace.WithAttributes(
		attribute.String("order.reference", reference),
		attribute.Int("tokens", len(tokenCodes)),
	))
	defer span.End()

	if reference == "" {
		return 0, errors.New("release: order reference is required")
	}

	db := database.Conn(ctx, r.writer)
	q := db.NewUpdate().
		Model((*entity.Token)(nil)).
		Set("available = ?", true).
		Set("order_reference = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_reference = ?", reference).
		Where("available = ?", false)
	if len(tokenCodes) > 0 {
		q = q.Where("code IN (?)", bun.In(tokenCodes))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("tokens.released", affected))
	return int(affected), nil
}

// Import inserts codes as available tokens, skipping codes that already exist. It returns how many were added.
func (r *Repository) Import(ctx context.Context, codesToAdd []string) (int, error) {
	ctx, span := repoTracer.Start(ctx, "TokenRepository.Import", trace.WithAttributes(attribute.Int("tokens", len(codesToAdd))))
	defer span.End()

	if len(codesToAdd) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	tokens := make([]entity.Token, 0, len(codesToAdd))
	for _, code := range codesToAdd {
		tokens = append(tokens, entity.Token{Code: code, Available: true, CreatedAt: now, UpdatedAt: now})
	}

	db := database.Conn(ctx, r.writer)
	q := db.NewInsert().Model(&tokens)
	if db.Dialect().Name() == dialect.MySQL {
		q = q.Ignore()
	} else {
		q = q.On("CONFLICT (code) DO NOTHING")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Stats counts total and available tokens.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	ctx, span := repoTracer.Start(ctx, "TokenRepository.Stats")
	defer span.End()

	db := database.Conn(ctx, r.reader)
	total, err := db.NewSelect().Model((*entity.Token)(nil)).Count(ctx)
	if err != nil {
		span.RecordError(err)
		return Stats{}, err
	}
	available, err := db.NewSelect().Model((*entity.Token)(nil)).Where("available = ?", true).Count(ctx)
	if err != nil {
		span.RecordError(err)
		return Stats{}, err
	}
	return Stats{Total: total, Available: available, Reserved: total - available}, nil
}

// ListUnavailable returns every token currently held by an order.
func (r *Repository) ListUnavailable(ctx context.Context) ([]entity.Token, error) {
	ctx, span := repoTracer.Start(ctx, "TokenRepository.ListUnavailable")
	defer span.End()

	var tokens []entity.Token
	err := database.Conn(ctx, r.reader).NewSelect().
		Model(&tokens).
		Where("available = ?", false).
		Order("code ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return tokens, nil
}

// ListByOrder returns the tokens currently owned by reference.
func (r *Repository) ListByOrder(ctx context.Context, reference string) ([]entity.Token, error) {
	ctx, span := repoTracer.Start(ctx, "TokenRepository.ListByOrder", trace.WithAttributes(attribute.String("order.reference", reference)))
	defer span.End()

	var tokens []entity.Token
	err := database.Conn(ctx, r.reader).NewSelect().
		Model(&tokens).
		Where("order_reference = ?", reference).
		Order("code ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return tokens, nil
}
