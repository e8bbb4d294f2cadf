package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// Module provides the Mercado Pago client as the payment gateway.
var Module = fx.Provide(
	NewMercadoPago,
	func(mp *MercadoPago) Client { return mp },
)

var (
	// ErrUnavailable marks transport failures and 5xx/429 answers; callers may retry.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentNotFound is returned when the gateway has no payment with the given id.
	ErrPaymentNotFound = errors.New("payment not found")
)

// Payer identifies the customer to the gateway.
type Payer struct {
	Name       string
	Email      string
	NationalID string
	Phone      string
}

// CheckoutRequest describes one payment link to create.
type CheckoutRequest struct {
	Reference   string
	Title       string
	Quantity    int
	UnitPrice   decimal.Decimal
	Currency    string
	Payer       Payer
	CallbackURL string
	ReturnURL   string
}

// Amount is the total charged for the request.
func (r CheckoutRequest) Amount() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// Checkout is the gateway's answer to a checkout request.
type Checkout struct {
	ID   string
	Link string
}

// Payment is the gateway's view of a payment.
type Payment struct {
	ID             string
	Status         string
	StatusDetail   string
	CorrelationRef string
	PayerEmail     string
	Amount         decimal.Decimal
}

// Client is the payment gateway contract used by reservations and reconciliation.
type Client interface {
	CreatePayment(ctx context.Context, req CheckoutRequest) (Checkout, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}

// Outcome classifies a gateway payment status.
type Outcome int

const (
	OutcomeUnrecognized Outcome = iota
	OutcomePending
	OutcomeApproved
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unrecognized"
	}
}

// Classify maps a Mercado Pago payment status onto an outcome.
func Classify(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return OutcomeApproved
	case "rejected", "cancelled", "canceled", "refunded", "charged_back":
		return OutcomeRejected
	case "pending", "in_process", "in_mediation", "authorized":
		return OutcomePending
	default:
		return OutcomeUnrecognized
	}
}
