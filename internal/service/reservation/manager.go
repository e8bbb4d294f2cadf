package reservation

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/entity"
	"github.com/Additional-Code/raffle/internal/gateway"
	"github.com/Additional-Code/raffle/internal/observability"
	orderrepo "github.com/Additional-Code/raffle/internal/repository/order"
	tokenrepo "github.com/Additional-Code/raffle/internal/repository/token"
	"github.com/Additional-Code/raffle/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/raffle/service/reservation")

const maxReserveAttempts = 3

var (
	// ErrValidation marks requests rejected before any mutation.
	ErrValidation = errors.New("invalid reservation request")
	// ErrOutOfStock means the pool cannot cover the requested quantity.
	ErrOutOfStock = errors.New("not enough tokens available")
	// ErrGatewayUnavailable means the payment link could not be created and the reservation was undone.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Customer holds the buyer's identity fields.
type Customer struct {
	Name       string
	Email      string
	NationalID string
	Phone      string
}

// Request is a purchase attempt.
type Request struct {
	Customer Customer
	Quantity int
}

// Result is returned once the order is pending payment.
type Result struct {
	Order       *entity.Order
	PaymentLink string
}

// Manager reserves tokens, records the order and obtains a payment link.
type Manager struct {
	db       *database.Connections
	tokens   *tokenrepo.Repository
	orders   *orderrepo.Repository
	gateway  gateway.Client
	raffle   config.Raffle
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	newRefFn func() string
}

// Params defines dependencies for constructing Manager.
type Params struct {
	fx.In

	DB      *database.Connections
	Tokens  *tokenrepo.Repository
	Orders  *orderrepo.Repository
	Gateway gateway.Client
	Config  config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// NewManager wires a new Manager instance.
func NewManager(p Params) *Manager {
	return &Manager{
		db:       p.DB,
		tokens:   p.Tokens,
		orders:   p.Orders,
		gateway:  p.Gateway,
		raffle:   p.Config.Raffle,
		timeout:  p.Config.Gateway.Timeout,
		logger:   p.Logger,
		metrics:  p.Metrics,
		newRefFn: func() string { return ulid.Make().String() },
	}
}

// Reserve runs the purchase flow: validate, reserve and record the order in one transaction,
// then ask the gateway for a payment link. A gateway failure is compensated by failing the order
// and returning its tokens to the pool.
func (m *Manager) Reserve(ctx context.Context, req Request) (*Result, error) {
	ctx, span := serviceTracer.Start(ctx, "ReservationManager.Reserve", trace.WithAttributes(attribute.Int("quantity", req.Quantity)))
	defer span.End()

	customer, err := m.validate(req)
	if err != nil {
		m.metrics.Reservation(ctx, "invalid")
		return nil, err
	}

	order := &entity.Order{
		Reference:     m.newRefFn(),
		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		NationalID:    customer.NationalID,
		Phone:         customer.Phone,
		Quantity:      req.Quantity,
		TotalAmount:   m.raffle.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Status:        entity.OrderStatusPending,
	}
	span.SetAttributes(attribute.String("order.reference", order.Reference))

	if err := m.reserveAndRecord(ctx, order); err != nil {
		span.RecordError(err)
		if errors.Is(err, tokenrepo.ErrInsufficientInventory) {
			span.SetStatus(codes.Error, "out of stock")
			m.metrics.Reservation(ctx, "out_of_stock")
			m.logger.Info("reservation rejected: out of stock", zap.Int("quantity", req.Quantity))
			return nil, errorbank.Conflict("not enough tokens available",
				errorbank.WithCause(ErrOutOfStock),
				errorbank.WithDetail("code", "out_of_stock"),
				errorbank.WithDetail("requested", req.Quantity),
			)
		}
		span.SetStatus(codes.Error, "reservation failed")
		m.metrics.Reservation(ctx, "error")
		m.logger.Error("reservation failed", zap.Error(err))
		return nil, errorbank.Unavailable("could not reserve tokens, try again",
			errorbank.WithCause(err),
			errorbank.WithDetail("retryable", true),
		)
	}

	link, err := m.requestPaymentLink(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway failed")
		m.metrics.Reservation(ctx, "gateway_unavailable")
		m.logger.Warn("payment link creation failed; releasing reservation",
			zap.String("order.reference", order.Reference),
			zap.Error(err),
		)
		m.compensate(context.WithoutCancel(ctx), order)
		return nil, errorbank.Unavailable("payment gateway unavailable, try again",
			errorbank.WithCause(fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)),
			errorbank.WithDetail("code", "gateway_unavailable"),
			errorbank.WithDetail("retryable", true),
		)
	}

	if err := m.orders.SetPaymentLink(ctx, order.Reference, link); err != nil {
		m.logger.Warn("storing payment link failed", zap.String("order.reference", order.Reference), zap.Error(err))
	}
	order.PaymentLink = link

	m.metrics.Reservation(ctx, "reserved")
	m.logger.Info("order reserved",
		zap.String("order.reference", order.Reference),
		zap.Int("quantity", order.Quantity),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	return &Result{Order: order, PaymentLink: link}, nil
}

// reserveAndRecord retries when a concurrent reservation claimed some of the chosen tokens first.
func (m *Manager) reserveAndRecord(ctx context.Context, order *entity.Order) error {
	var err error
	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		err = m.db.WithTx(ctx, func(ctx context.Context) error {
			reserved, err := m.tokens.Reserve(ctx, order.Reference, order.Quantity)
			if err != nil {
				return err
			}
			order.TokenCodes = reserved
			return m.orders.Create(ctx, order)
		})
		if !errors.Is(err, tokenrepo.ErrReservationConflict) {
			return err
		}
		order.TokenCodes = nil
		m.logger.Debug("reservation conflict; retrying", zap.Int("attempt", attempt))
	}
	return err
}

func (m *Manager) requestPaymentLink(ctx context.Context, order *entity.Order) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	checkout, err := m.gateway.CreatePayment(ctx, gateway.CheckoutRequest{
		Reference: order.Reference,
		Title:     m.raffle.Title,
		Quantity:  order.Quantity,
		UnitPrice: m.raffle.UnitPrice,
		Currency:  m.raffle.Currency,
		Payer: gateway.Payer{
			Name:       order.CustomerName,
			Email:      order.CustomerEmail,
			NationalID: order.NationalID,
			Phone:      order.Phone,
		},
		CallbackURL: m.raffle.PublicBaseURL + "/payment-webhook",
		ReturnURL:   m.raffle.PublicBaseURL + "/orders/" + order.Reference + "/status",
	})
	if err != nil {
		return "", err
	}
	if checkout.Link == "" {
		return "", errors.New("gateway returned an empty payment link")
	}
	return checkout.Link, nil
}

// compensate fails the order and returns its tokens. Both happen in one transaction.
func (m *Manager) compensate(ctx context.Context, order *entity.Order) {
	err := m.db.WithTx(ctx, func(ctx context.Context) error {
		_, changed, err := m.orders.Transition(ctx, order.Reference, entity.OrderStatusFailed, "", "")
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		_, err = m.tokens.Release(ctx, order.Reference, order.TokenCodes)
		return err
	})
	if err != nil {
		m.logger.Error("compensation failed; tokens may remain reserved",
			zap.String("order.reference", order.Reference),
			zap.Strings("tokens", order.TokenCodes),
			zap.Error(err),
		)
		return
	}
	order.Status = entity.OrderStatusFailed
}

func (m *Manager) validate(req Request) (Customer, error) {
	c := Customer{
		Name:       strings.TrimSpace(req.Customer.Name),
		Email:      strings.TrimSpace(req.Customer.Email),
		NationalID: strings.TrimSpace(req.Customer.NationalID),
		Phone:      strings.TrimSpace(req.Customer.Phone),
	}

	problems := map[string]any{}
	if c.Name == "" {
		problems["name"] = "is required"
	}
	if c.Email == "" {
		problems["email"] = "is required"
	} else if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
		problems["email"] = "is not a valid address"
	}
	if c.NationalID == "" {
		problems["national_id"] = "is required"
	}
	if c.Phone == "" {
		problems["phone"] = "is required"
	}
	if req.Quantity < 1 || req.Quantity > m.raffle.MaxQuantity {
		problems["quantity"] = fmt.Sprintf("must be between 1 and %d", m.raffle.MaxQuantity)
	}

	if len(problems) > 0 {
		return Customer{}, errorbank.BadRequest("invalid order request",
			errorbank.WithCause(ErrValidation),
			errorbank.WithDetails(problems),
		)
	}
	return c, nil
}
