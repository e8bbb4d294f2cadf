package payment

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/service/payment"
)

// Module wires the payment webhook endpoint.
var Module = fx.Options(
	fx.Provide(func(r *payment.Reconciler, cfg config.Config, logger *zap.Logger) *Handler {
		return NewHandler(r, cfg.Gateway.WebhookSecret, logger)
	}),
	fx.Invoke(func(e *echo.Echo, h *Handler) {
		Register(e, h)
	}),
)
