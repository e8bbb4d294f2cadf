package order

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/raffle/internal/dto"
	"github.com/Additional-Code/raffle/internal/presentation/http/response"
	"github.com/Additional-Code/raffle/internal/service/reservation"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/raffle/transport/http/order")

// Reserver runs the purchase flow.
type Reserver interface {
	Reserve(ctx context.Context, req reservation.Request) (*reservation.Result, error)
}

// StatusReader looks orders up by reference.
type StatusReader interface {
	Status(ctx context.Context, reference string) (*dto.OrderStatusResponse, error)
}

// Handler exposes order endpoints over HTTP.
type Handler struct {
	reserver Reserver
	status   StatusReader
}

// NewHandler constructs an order Handler.
func NewHandler(reserver Reserver, status StatusReader) *Handler {
	return &Handler{reserver: reserver, status: status}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:reference/status", h.getStatus)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(attribute.Int("order.quantity", payload.Quantity)))
	defer span.End()

	result, err := h.reserver.Reserve(ctx, reservation.Request{
		Customer: reservation.Customer{
			Name:       payload.Name,
			Email:      payload.Email,
			NationalID: payload.NationalID,
			Phone:      payload.Phone,
		},
		Quantity: payload.Quantity,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	span.SetAttributes(attribute.String("order.reference", result.Order.Reference))

	return b.WithStatus(http.StatusCreated).WithData(dto.CreateOrderResponse{
		PaymentLink:    result.PaymentLink,
		OrderReference: result.Order.Reference,
	}).Build()
}

func (h *Handler) getStatus(c echo.Context) error {
	b := response.New(c)

	reference := c.Param("reference")
	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getStatus", trace.WithAttributes(attribute.String("order.reference", reference)))
	defer span.End()

	view, err := h.status.Status(ctx, reference)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(view).Build()
}
