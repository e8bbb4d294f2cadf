package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/raffle/pkg/errorbank"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestBuildSuccessEnvelope(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, New(c).WithStatus(http.StatusCreated).WithData(map[string]string{"k": "v"}).WithMeta("page", 1).Build())

	assert.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"k": "v"}, body["data"])
	assert.Equal(t, map[string]any{"page": float64(1)}, body["meta"])
}

func TestBuildErrorEnvelope(t *testing.T) {
	c, rec := newContext()

	err := errorbank.Conflict("not enough tokens available", errorbank.WithDetail("code", "out_of_stock"))
	require.NoError(t, New(c).WithError(err).Build())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Kind    string         `json:"kind"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "conflict", body.Error.Kind)
	assert.Equal(t, "out_of_stock", body.Error.Details["code"])
}

func TestBuildUnavailableSetsRetryAfter(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, New(c).WithError(errorbank.Unavailable("payment gateway unavailable")).Build())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestBuildWrapsUnknownErrors(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, New(c).WithError(errors.New("boom")).Build())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"internal"`)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestBuildEchoesRequestID(t *testing.T) {
	c, rec := newContext()
	c.Response().Header().Set(echo.HeaderXRequestID, "req-42")

	require.NoError(t, New(c).WithError(errorbank.NotFound("order not found")).Build())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t,
		`{"success":false,"error":{"kind":"not_found","message":"order not found"},"meta":{"request_id":"req-42"}}`,
		rec.Body.String())
}
