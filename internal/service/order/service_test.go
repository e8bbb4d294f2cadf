package order

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/cache"
	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/entity"
	repo "github.com/Additional-Code/raffle/internal/repository/order"
	"github.com/Additional-Code/raffle/internal/testutil"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (m *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newService(t *testing.T) (*Service, *repo.Repository, *mapCache) {
	t.Helper()
	conns := testutil.NewTestDB(t)
	orders := repo.NewRepository(conns)
	store := newMapCache()
	svc := NewService(Params{
		Repository: orders,
		Cache:      store,
		Config:     config.Config{Cache: config.Cache{DefaultTTL: time.Minute}},
		Logger:     zap.NewNop(),
	})
	return svc, orders, store
}

func sampleOrder(ref string) *entity.Order {
	return &entity.Order{
		Reference:     ref,
		CustomerName:  "Maria Silva",
		CustomerEmail: "maria@example.com",
		NationalID:    "12345678900",
		Phone:         "+5511999990000",
		Quantity:      2,
		TotalAmount:   decimal.NewFromInt(20),
		TokenCodes:    entity.TokenCodes{"A001", "A002"},
	}
}

func TestStatusDoesNotCachePendingOrders(t *testing.T) {
	svc, orders, store := newService(t)
	ctx := context.Background()
	require.NoError(t, orders.Create(ctx, sampleOrder("ORD-1")))

	view, err := svc.Status(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "pending", view.Status)
	assert.Empty(t, store.data)

	_, _, err = orders.Transition(ctx, "ORD-1", entity.OrderStatusApproved, "pay-1", "approved")
	require.NoError(t, err)

	view, err = svc.Status(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "approved", view.Status)
	assert.Equal(t, []string{"A001", "A002"}, view.Tokens)
	assert.Contains(t, store.data, "orders:status:ORD-1")
}

func TestStatusServesTerminalOrdersFromCache(t *testing.T) {
	svc, orders, store := newService(t)
	ctx := context.Background()
	require.NoError(t, orders.Create(ctx, sampleOrder("ORD-1")))
	_, _, err := orders.Transition(ctx, "ORD-1", entity.OrderStatusApproved, "pay-1", "approved")
	require.NoError(t, err)

	first, err := svc.Status(ctx, "ORD-1")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "orders:status:ORD-1", []byte(`{"order_reference":"ORD-1","status":"approved","tokens":["Z999"],"total_amount":"20.00"}`), 0))

	cached, err := svc.Status(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Z999"}, cached.Tokens)
	assert.Equal(t, first.Status, cached.Status)
}

func TestStatusCacheHoldsNoCustomerData(t *testing.T) {
	svc, orders, store := newService(t)
	ctx := context.Background()
	require.NoError(t, orders.Create(ctx, sampleOrder("ORD-1")))
	_, _, err := orders.Transition(ctx, "ORD-1", entity.OrderStatusRejected, "pay-1", "rejected")
	require.NoError(t, err)

	_, err = svc.Status(ctx, "ORD-1")
	require.NoError(t, err)

	raw, ok := store.data["orders:status:ORD-1"]
	require.True(t, ok)
	for _, secret := range []string{"Maria Silva", "maria@example.com", "12345678900", "+5511999990000"} {
		assert.NotContains(t, string(raw), secret)
	}

	var cached map[string]any
	require.NoError(t, json.Unmarshal(raw, &cached))
	assert.Equal(t, "rejected", cached["status"])
	assert.Equal(t, "20.00", cached["total_amount"])
}

func TestStatusErrors(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errorbank.KindNotFound, errorbank.From(err).Kind())

	_, err = svc.Status(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
}
