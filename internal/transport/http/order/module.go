package order

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	orderservice "github.com/Additional-Code/raffle/internal/service/order"
	"github.com/Additional-Code/raffle/internal/service/reservation"
)

// Module wires HTTP order handlers.
var Module = fx.Options(
	fx.Provide(func(m *reservation.Manager, s *orderservice.Service) *Handler {
		return NewHandler(m, s)
	}),
	fx.Invoke(func(e *echo.Echo, h *Handler) {
		Register(e, h)
	}),
)
