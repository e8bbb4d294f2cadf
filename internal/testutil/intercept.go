package testutil

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/raffle/internal/database"
)

// Interceptor runs a statement on the caller's transaction right before a matching query executes.
// It stands in for a concurrent writer that committed between a read and the guarded write.
type Interceptor struct {
	t     *testing.T
	match func(query string) bool
	apply func(ctx context.Context, tx *sql.Tx, query string) error

	mu        sync.Mutex
	hits      int
	remaining int
}

// Intercept installs an Interceptor on the writer pool. times limits how often apply runs; a negative
// value means every matching query. Matches outside a transaction are counted but not applied.
func Intercept(
	t *testing.T,
	conns *database.Connections,
	times int,
	match func(query string) bool,
	apply func(ctx context.Context, tx *sql.Tx, query string) error,
) *Interceptor {
	t.Helper()
	i := &Interceptor{t: t, match: match, apply: apply, remaining: times}
	conns.Writer.AddQueryHook(i)
	return i
}

// Hits reports how many queries matched.
func (i *Interceptor) Hits() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hits
}

func (i *Interceptor) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	if !i.match(event.Query) {
		return ctx
	}

	i.mu.Lock()
	i.hits++
	fire := i.remaining != 0
	if fire && i.remaining > 0 {
		i.remaining--
	}
	i.mu.Unlock()

	tx := database.TxFromContext(ctx)
	if !fire || tx == nil {
		return ctx
	}
	// tx.Tx is the raw *sql.Tx so the statement does not re-enter the hook chain.
	if err := i.apply(ctx, tx.Tx, event.Query); err != nil {
		i.t.Errorf("interceptor: %v", err)
	}
	return ctx
}

func (i *Interceptor) AfterQuery(context.Context, *bun.QueryEvent) {}
