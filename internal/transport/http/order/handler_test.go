package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/raffle/internal/dto"
	"github.com/Additional-Code/raffle/internal/entity"
	"github.com/Additional-Code/raffle/internal/service/reservation"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

type stubReserver struct {
	got    reservation.Request
	result *reservation.Result
	err    error
}

func (s *stubReserver) Reserve(_ context.Context, req reservation.Request) (*reservation.Result, error) {
	s.got = req
	return s.result, s.err
}

type stubStatus struct {
	orders map[string]*entity.Order
}

func (s stubStatus) Status(_ context.Context, reference string) (*dto.OrderStatusResponse, error) {
	order, ok := s.orders[reference]
	if !ok {
		return nil, errorbank.NotFound("order not found")
	}
	view := dto.NewOrderStatusResponse(order)
	return &view, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string         `json:"kind"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func serve(t *testing.T, h *Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	e := echo.New()
	Register(e, h)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestCreateOrder(t *testing.T) {
	reserver := &stubReserver{result: &reservation.Result{
		Order:       &entity.Order{Reference: "01J9ZREF"},
		PaymentLink: "https://pay.example.com/checkout/1",
	}}
	h := NewHandler(reserver, stubStatus{})

	rec, env := serve(t, h, http.MethodPost, "/orders",
		`{"name":"Ana","email":"ana@example.com","national_id":"12345678909","phone":"11999990000","quantity":3}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"payment_link":"https://pay.example.com/checkout/1","order_reference":"01J9ZREF"}`, string(env.Data))
	assert.Equal(t, reservation.Request{
		Customer: reservation.Customer{Name: "Ana", Email: "ana@example.com", NationalID: "12345678909", Phone: "11999990000"},
		Quantity: 3,
	}, reserver.got)
}

func TestCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		kind   string
	}{
		{name: "malformed json", body: `{"quantity":`, status: http.StatusBadRequest, kind: "bad_request"},
		{name: "out of stock", body: `{"quantity":2}`, err: errorbank.Conflict("not enough tokens available", errorbank.WithDetail("code", "out_of_stock")), status: http.StatusConflict, kind: "conflict"},
		{name: "gateway down", body: `{"quantity":2}`, err: errorbank.Unavailable("payment gateway unavailable"), status: http.StatusServiceUnavailable, kind: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubReserver{err: tt.err}, stubStatus{})

			rec, env := serve(t, h, http.MethodPost, "/orders", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.kind, env.Error.Kind)
		})
	}
}

func TestGetStatus(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHandler(&stubReserver{}, stubStatus{orders: map[string]*entity.Order{
		"approved": {
			Reference: "approved", Quantity: 2, TotalAmount: decimal.RequireFromString("20"),
			TokenCodes: entity.TokenCodes{"00017", "04711"}, Status: entity.OrderStatusApproved,
			PaymentLink: "https://pay.example.com/1", CreatedAt: created, UpdatedAt: created,
		},
		"pending": {
			Reference: "pending", Quantity: 1, TotalAmount: decimal.RequireFromString("10"),
			TokenCodes: entity.TokenCodes{"00018"}, Status: entity.OrderStatusPending,
			PaymentLink: "https://pay.example.com/2", CreatedAt: created, UpdatedAt: created,
		},
	}})

	t.Run("approved lists tokens", func(t *testing.T) {
		rec, env := serve(t, h, http.MethodGet, "/orders/approved/status", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &body))
		assert.Equal(t, "approved", body["status"])
		assert.Equal(t, "20.00", body["total_amount"])
		assert.Equal(t, []any{"00017", "04711"}, body["tokens"])
		assert.NotContains(t, body, "payment_link")
	})

	t.Run("pending hides tokens", func(t *testing.T) {
		rec, env := serve(t, h, http.MethodGet, "/orders/pending/status", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &body))
		assert.Equal(t, "pending", body["status"])
		assert.NotContains(t, body, "tokens")
		assert.Equal(t, "https://pay.example.com/2", body["payment_link"])
	})

	t.Run("unknown reference", func(t *testing.T) {
		rec, env := serve(t, h, http.MethodGet, "/orders/missing/status", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "not_found", env.Error.Kind)
	})
}
