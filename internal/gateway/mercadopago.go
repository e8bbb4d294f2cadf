package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
)

var gatewayTracer = otel.Tracer("github.com/Additional-Code/raffle/gateway")

// MercadoPago talks to the Mercado Pago REST API.
type MercadoPago struct {
	http     *resty.Client
	excluded []string
	logger   *zap.Logger
}

// NewMercadoPago builds the REST client from gateway configuration.
func NewMercadoPago(cfg config.Config, logger *zap.Logger) *MercadoPago {
	if cfg.Gateway.AccessToken == "" {
		logger.Warn("mercado pago access token is empty; gateway calls will be rejected")
	}

	client := resty.New().
		SetBaseURL(cfg.Gateway.BaseURL).
		SetTimeout(cfg.Gateway.Timeout).
		SetAuthToken(cfg.Gateway.AccessToken).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &MercadoPago{
		http:     client,
		excluded: cfg.Gateway.ExcludedPaymentTypes,
		logger:   logger,
	}
}

type preferenceItem struct {
	ID         string      `json:"id,omitempty"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id,omitempty"`
}

type identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type phone struct {
	Number string `json:"number"`
}

type preferencePayer struct {
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Identification *identification `json:"identification,omitempty"`
	Phone          *phone          `json:"phone,omitempty"`
}

type paymentTypeRef struct {
	ID string `json:"id"`
}

type paymentMethods struct {
	ExcludedPaymentTypes []paymentTypeRef `json:"excluded_payment_types,omitempty"`
}

type backURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	Payer             preferencePayer  `json:"payer"`
	PaymentMethods    paymentMethods   `json:"payment_methods"`
	BackURLs          *backURLs        `json:"back_urls,omitempty"`
	AutoReturn        string           `json:"auto_return,omitempty"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	ExternalReference string           `json:"external_reference"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount json.Number `json:"transaction_amount"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

// CreatePayment creates a checkout preference and returns its payment link.
// The order reference doubles as the idempotency key so retries never create two preferences.
func (m *MercadoPago) CreatePayment(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	ctx, span := gatewayTracer.Start(ctx, "MercadoPago.CreatePayment", trace.WithAttributes(
		attribute.String("order.reference", req.Reference),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	body := preferenceRequest{
		Items: []preferenceItem{{
			ID:         req.Reference,
			Title:      req.Title,
			Quantity:   req.Quantity,
			UnitPrice:  json.Number(req.UnitPrice.StringFixed(2)),
			CurrencyID: req.Currency,
		}},
		Payer: preferencePayer{
			Name:  req.Payer.Name,
			Email: req.Payer.Email,
		},
		NotificationURL:   req.CallbackURL,
		ExternalReference: req.Reference,
	}
	if req.Payer.NationalID != "" {
		body.Payer.Identification = &identification{Type: "CPF", Number: req.Payer.NationalID}
	}
	if req.Payer.Phone != "" {
		body.Payer.Phone = &phone{Number: req.Payer.Phone}
	}
	for _, id := range m.excluded {
		body.PaymentMethods.ExcludedPaymentTypes = append(body.PaymentMethods.ExcludedPaymentTypes, paymentTypeRef{ID: id})
	}
	if req.ReturnURL != "" {
		body.BackURLs = &backURLs{Success: req.ReturnURL, Failure: req.ReturnURL, Pending: req.ReturnURL}
		body.AutoReturn = "approved"
	}

	var out preferenceResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Idempotency-Key", req.Reference).
		SetBody(body).
		SetResult(&out).
		Post("/checkout/preferences")
	if err := classifyResponse(resp, err); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create preference failed")
		return Checkout{}, fmt.Errorf("create preference: %w", err)
	}

	link := out.InitPoint
	if link == "" {
		link = out.SandboxInitPoint
	}
	if link == "" {
		span.SetStatus(codes.Error, "empty payment link")
		return Checkout{}, fmt.Errorf("create preference: %w: response had no init_point", ErrUnavailable)
	}

	m.logger.Debug("payment preference created",
		zap.String("order.reference", req.Reference),
		zap.String("preference.id", out.ID),
	)
	return Checkout{ID: out.ID, Link: link}, nil
}

// GetPayment looks a payment up by id.
func (m *MercadoPago) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	ctx, span := gatewayTracer.Start(ctx, "MercadoPago.GetPayment", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer span.End()

	var out paymentResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		SetResult(&out).
		Get("/v1/payments/{id}")
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		span.SetStatus(codes.Error, "not found")
		return Payment{}, ErrPaymentNotFound
	}
	if err := classifyResponse(resp, err); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get payment failed")
		return Payment{}, fmt.Errorf("get payment %s: %w", paymentID, err)
	}

	payment := Payment{
		ID:             out.ID.String(),
		Status:         out.Status,
		StatusDetail:   out.StatusDetail,
		CorrelationRef: out.ExternalReference,
		PayerEmail:     out.Payer.Email,
	}
	if payment.ID == "" {
		payment.ID = paymentID
	}
	if out.TransactionAmount != "" {
		if amount, err := decimal.NewFromString(out.TransactionAmount.String()); err == nil {
			payment.Amount = amount
		}
	}
	span.SetAttributes(attribute.String("payment.status", payment.Status))
	return payment, nil
}

func classifyResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	case resp.IsError():
		return fmt.Errorf("gateway rejected request: status %d: %s", status, truncate(resp.String(), 256))
	default:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
