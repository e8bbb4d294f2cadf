package database

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type txKey struct{}

// WithTx runs fn inside a writer transaction carried by the returned context.
// Nested calls reuse the outer transaction so repositories compose into one unit of work.
func (c *Connections) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return c.Writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// TxFromContext returns the transaction stored by WithTx, if any.
func TxFromContext(ctx context.Context) *bun.Tx {
	tx, ok := ctx.Value(txKey{}).(bun.Tx)
	if !ok {
		return nil
	}
	return &tx
}

// Conn resolves the handle a repository should use: the active transaction or the fallback pool.
func Conn(ctx context.Context, fallback bun.IDB) bun.IDB {
	if tx := TxFromContext(ctx); tx != nil {
		return *tx
	}
	return fallback
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is available on the dialect.
func SupportsRowLocks(db bun.IDB) bool {
	switch db.Dialect().Name() {
	case dialect.PG, dialect.MySQL:
		return true
	default:
		return false
	}
}

// RandomOrder returns the dialect's random ordering expression.
func RandomOrder(db bun.IDB) string {
	if db.Dialect().Name() == dialect.MySQL {
		return "RAND()"
	}
	return "random()"
}
