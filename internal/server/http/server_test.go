package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
)

type stubPinger struct{ err error }

func (s stubPinger) PingContext(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		pinger Pinger
		status int
	}{
		{name: "no database", pinger: nil, status: http.StatusOK},
		{name: "database up", pinger: stubPinger{}, status: http.StatusOK},
		{name: "database down", pinger: stubPinger{err: errors.New("refused")}, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.GET("/health", healthHandler(tt.pinger))

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	e := NewEcho(config.Config{}, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
		Meta map[string]any `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "not_found", body.Error.Kind)
	assert.Equal(t, "Not Found", body.Error.Message)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), body.Meta["request_id"])
}
