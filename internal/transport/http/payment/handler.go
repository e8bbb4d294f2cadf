package payment

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/dto"
	"github.com/Additional-Code/raffle/internal/gateway"
	"github.com/Additional-Code/raffle/internal/presentation/http/response"
	"github.com/Additional-Code/raffle/internal/service/payment"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/raffle/transport/http/payment")

const maxWebhookBody = 1 << 20

const (
	headerSignature = "x-signature"
	headerRequestID = "x-request-id"
)

// NotificationHandler applies a parsed payment notification.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n gateway.PaymentNotification) (payment.Result, error)
}

// Handler receives gateway webhooks.
type Handler struct {
	reconciler NotificationHandler
	secret     string
	logger     *zap.Logger
}

// NewHandler constructs a webhook Handler. An empty secret disables signature checks.
func NewHandler(reconciler NotificationHandler, secret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reconciler: reconciler, secret: secret, logger: logger}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/payment-webhook", h.notify)
}

func (h *Handler) notify(c echo.Context) error {
	b := response.New(c)
	req := c.Request()

	ctx, span := httpTracer.Start(req.Context(), "payments.webhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		return b.WithError(errorbank.BadRequest("unreadable body", errorbank.WithCause(err))).Build()
	}

	query := req.URL.Query()
	n, err := gateway.ParseNotification(body, query)
	switch {
	case errors.Is(err, gateway.ErrIgnoredTopic):
		return b.WithData(dto.WebhookResponse{Outcome: "ignored"}).Build()
	case err != nil:
		h.logger.Warn("malformed payment notification", zap.Error(err))
		return b.WithError(errorbank.BadRequest("malformed notification", errorbank.WithCause(err))).Build()
	}

	span.SetAttributes(
		attribute.String("payment.id", n.PaymentID),
		attribute.String("order.reference", n.CorrelationRef),
	)

	if h.secret != "" {
		dataID := query.Get("data.id")
		if dataID == "" {
			dataID = n.PaymentID
		}
		if err := gateway.VerifySignature(h.secret, req.Header.Get(headerSignature), req.Header.Get(headerRequestID), dataID); err != nil {
			h.logger.Warn("rejected payment notification", zap.String("payment.id", n.PaymentID), zap.Error(err))
			return b.WithError(errorbank.Unauthorized("invalid signature", errorbank.WithCause(err))).Build()
		}
	}

	result, err := h.reconciler.HandleNotification(ctx, n)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusOK).WithData(dto.WebhookResponse{
		Outcome:   string(result.Outcome),
		Reference: result.Reference,
	}).Build()
}
