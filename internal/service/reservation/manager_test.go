package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/entity"
	"github.com/Additional-Code/raffle/internal/gateway"
	orderrepo "github.com/Additional-Code/raffle/internal/repository/order"
	tokenrepo "github.com/Additional-Code/raffle/internal/repository/token"
	"github.com/Additional-Code/raffle/internal/testutil"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	requests []gateway.CheckoutRequest
}

func (f *fakeGateway) CreatePayment(_ context.Context, req gateway.CheckoutRequest) (gateway.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return gateway.Checkout{}, f.err
	}
	return gateway.Checkout{ID: "pref-" + req.Reference, Link: "https://pay.example.com/" + req.Reference}, nil
}

func (f *fakeGateway) GetPayment(context.Context, string) (gateway.Payment, error) {
	return gateway.Payment{}, errors.New("not used")
}

type fixture struct {
	conns   *database.Connections
	tokens  *tokenrepo.Repository
	orders  *orderrepo.Repository
	gateway *fakeGateway
	manager *Manager
}

func newFixture(t *testing.T, available int) *fixture {
	t.Helper()
	conns := testutil.NewTestDB(t)
	codes := make([]string, 0, available)
	for i := 0; i < available; i++ {
		codes = append(codes, fmt.Sprintf("T%03d", i))
	}
	testutil.InsertTokens(t, conns, codes...)

	cfg := config.Config{
		Raffle: config.Raffle{
			Title:         "Sorteio",
			Currency:      "BRL",
			UnitPrice:     decimal.RequireFromString("10.00"),
			MaxQuantity:   10,
			PublicBaseURL: "https://raffle.example.com",
		},
		Gateway: config.Gateway{Timeout: time.Second},
	}

	f := &fixture{
		conns:   conns,
		tokens:  tokenrepo.NewRepository(conns),
		orders:  orderrepo.NewRepository(conns),
		gateway: &fakeGateway{},
	}
	f.manager = NewManager(Params{
		DB:      conns,
		Tokens:  f.tokens,
		Orders:  f.orders,
		Gateway: f.gateway,
		Config:  cfg,
		Logger:  zap.NewNop(),
	})
	return f
}

func validRequest(quantity int) Request {
	return Request{
		Customer: Customer{
			Name:       "Maria Silva",
			Email:      "maria@example.com",
			NationalID: "12345678900",
			Phone:      "+5511999990000",
		},
		Quantity: quantity,
	}
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()
	n, err := f.tokens.CountAvailable(context.Background())
	require.NoError(t, err)
	return n
}

func TestReserveCreatesPendingOrderWithLink(t *testing.T) {
	f := newFixture(t, 5)

	res, err := f.manager.Reserve(context.Background(), validRequest(3))
	require.NoError(t, err)

	assert.Equal(t, 2, f.available(t))
	assert.Equal(t, "https://pay.example.com/"+res.Order.Reference, res.PaymentLink)
	assert.Len(t, res.Order.TokenCodes, 3)

	stored, err := f.orders.FindByReference(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPending, stored.Status)
	assert.Equal(t, res.PaymentLink, stored.PaymentLink)
	assert.ElementsMatch(t, res.Order.TokenCodes, stored.TokenCodes)
	assert.True(t, decimal.NewFromInt(30).Equal(stored.TotalAmount))

	owned, err := f.tokens.ListByOrder(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Len(t, owned, 3)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, res.Order.Reference, req.Reference)
	assert.Equal(t, "https://raffle.example.com/payment-webhook", req.CallbackURL)
	assert.Equal(t, "Sorteio", req.Title)
	assert.True(t, decimal.NewFromInt(30).Equal(req.Amount()))
}

func TestReserveOutOfStockLeavesPoolUntouched(t *testing.T) {
	f := newFixture(t, 5)

	_, err := f.manager.Reserve(context.Background(), validRequest(10))
	require.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, errorbank.KindConflict, errorbank.From(err).Kind())

	assert.Equal(t, 5, f.available(t))
	orders, err := f.orders.ListByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.gateway.requests)
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t, 5)

	tests := []struct {
		name  string
		mut   func(*Request)
		field string
	}{
		{name: "zero quantity", mut: func(r *Request) { r.Quantity = 0 }, field: "quantity"},
		{name: "above max", mut: func(r *Request) { r.Quantity = 11 }, field: "quantity"},
		{name: "missing name", mut: func(r *Request) { r.Customer.Name = "  " }, field: "name"},
		{name: "bad email", mut: func(r *Request) { r.Customer.Email = "not-an-email" }, field: "email"},
		{name: "missing phone", mut: func(r *Request) { r.Customer.Phone = "" }, field: "phone"},
		{name: "missing national id", mut: func(r *Request) { r.Customer.NationalID = "" }, field: "national_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(2)
			tt.mut(&req)

			_, err := f.manager.Reserve(context.Background(), req)
			require.ErrorIs(t, err, ErrValidation)
			appErr := errorbank.From(err)
			assert.Equal(t, errorbank.KindBadRequest, appErr.Kind())
			assert.Contains(t, appErr.Details(), tt.field)
		})
	}

	assert.Equal(t, 5, f.available(t))
}

func TestReserveCompensatesGatewayFailure(t *testing.T) {
	f := newFixture(t, 5)
	f.gateway.err = fmt.Errorf("create preference: %w", gateway.ErrUnavailable)

	_, err := f.manager.Reserve(context.Background(), validRequest(4))
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	appErr := errorbank.From(err)
	assert.Equal(t, errorbank.KindUnavailable, appErr.Kind())
	assert.Equal(t, true, appErr.Details()["retryable"])

	assert.Equal(t, 5, f.available(t))

	failed, err := f.orders.ListByStatus(context.Background(), entity.OrderStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	owned, err := f.tokens.ListByOrder(context.Background(), failed[0].Reference)
	require.NoError(t, err)
	assert.Empty(t, owned)

	f.gateway.err = nil
	res, err := f.manager.Reserve(context.Background(), validRequest(5))
	require.NoError(t, err)
	assert.Len(t, res.Order.TokenCodes, 5)
	assert.Zero(t, f.available(t))
}

var firstPickedCode = regexp.MustCompile(`code IN \('([^']+)'`)

// stealOnePicked lets another writer take one of the picked tokens right before the guarded update.
func (f *fixture) stealOnePicked(t *testing.T, times int) *testutil.Interceptor {
	return testutil.Intercept(t, f.conns, times,
		func(q string) bool {
			return strings.HasPrefix(q, `UPDATE "tokens"`) && !strings.Contains(q, "order_reference = NULL")
		},
		func(ctx context.Context, tx *sql.Tx, q string) error {
			m := firstPickedCode.FindStringSubmatch(q)
			if m == nil {
				return fmt.Errorf("no token code in %q", q)
			}
			_, err := tx.ExecContext(ctx, "UPDATE tokens SET available = 0, order_reference = 'ORD-OTHER' WHERE code = ?", m[1])
			return err
		})
}

func TestReserveRetriesAfterLostRace(t *testing.T) {
	f := newFixture(t, 5)
	hook := f.stealOnePicked(t, 1)

	res, err := f.manager.Reserve(context.Background(), validRequest(3))
	require.NoError(t, err)
	assert.Equal(t, 2, hook.Hits())

	assert.Equal(t, 2, f.available(t))
	owned, err := f.tokens.ListByOrder(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Len(t, owned, 3)
	stolen, err := f.tokens.ListByOrder(context.Background(), "ORD-OTHER")
	require.NoError(t, err)
	assert.Empty(t, stolen)
}

func TestReserveGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t, 5)
	hook := f.stealOnePicked(t, -1)

	_, err := f.manager.Reserve(context.Background(), validRequest(3))
	require.ErrorIs(t, err, tokenrepo.ErrReservationConflict)
	assert.Equal(t, errorbank.KindUnavailable, errorbank.From(err).Kind())
	assert.Equal(t, maxReserveAttempts, hook.Hits())

	assert.Equal(t, 5, f.available(t))
	orders, err := f.orders.ListByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.gateway.requests)
}

func TestConcurrentReservesDoNotOversell(t *testing.T) {
	f := newFixture(t, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		owners  = map[string]string{}
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.manager.Reserve(context.Background(), validRequest(2))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrOutOfStock)
				return
			}
			success++
			for _, code := range res.Order.TokenCodes {
				_, dup := owners[code]
				assert.False(t, dup, "token %s sold twice", code)
				owners[code] = res.Order.Reference
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, success)
	assert.Len(t, owners, 10)
	assert.Zero(t, f.available(t))
}
