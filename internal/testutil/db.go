package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/entity"
	"github.com/Additional-Code/raffle/internal/migration"
)

var dbSeq atomic.Int64

// NewTestDB opens a private in-memory sqlite database with the schema applied.
func NewTestDB(t *testing.T) *database.Connections {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	conns := &database.Connections{Writer: db, Reader: db}

	cfg := config.Config{Database: config.Database{Driver: "sqlite"}}
	migrator, err := migration.New(cfg, conns, zap.NewNop())
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return conns
}

// InsertTokens adds available tokens with the given codes.
func InsertTokens(t *testing.T, conns *database.Connections, codes ...string) {
	t.Helper()
	if len(codes) == 0 {
		return
	}
	tokens := make([]entity.Token, 0, len(codes))
	for _, code := range codes {
		tokens = append(tokens, entity.Token{Code: code, Available: true})
	}
	if _, err := conns.Writer.NewInsert().Model(&tokens).Exec(context.Background()); err != nil {
		t.Fatalf("insert tokens: %v", err)
	}
}

// InsertOrder stores an order as-is, defaulting the status to pending.
func InsertOrder(t *testing.T, conns *database.Connections, order *entity.Order) {
	t.Helper()
	if order.Status == "" {
		order.Status = entity.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if _, err := conns.Writer.NewInsert().Model(order).Exec(context.Background()); err != nil {
		t.Fatalf("insert order: %v", err)
	}
}

// AssignTokens marks the codes as held by the order reference.
func AssignTokens(t *testing.T, conns *database.Connections, reference string, codes ...string) {
	t.Helper()
	_, err := conns.Writer.NewUpdate().
		Model((*entity.Token)(nil)).
		Set("available = ?", false).
		Set("order_reference = ?", reference).
		Where("code IN (?)", bun.In(codes)).
		Exec(context.Background())
	if err != nil {
		t.Fatalf("assign tokens: %v", err)
	}
}
