package dto

import (
	"time"

	"github.com/Additional-Code/raffle/internal/entity"
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Quantity   int    `json:"quantity"`
}

// CreateOrderResponse is returned once the order is reserved and awaiting payment.
type CreateOrderResponse struct {
	PaymentLink    string `json:"payment_link"`
	OrderReference string `json:"order_reference"`
}

// OrderStatusResponse represents an order as exposed via transport layers.
// Tokens are only listed for approved orders.
type OrderStatusResponse struct {
	Reference   string    `json:"order_reference"`
	Status      string    `json:"status"`
	Quantity    int       `json:"quantity"`
	TotalAmount string    `json:"total_amount"`
	Tokens      []string  `json:"tokens,omitempty"`
	PaymentLink string    `json:"payment_link,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewOrderStatusResponse projects order onto the public status view. Customer contact data is dropped.
func NewOrderStatusResponse(order *entity.Order) OrderStatusResponse {
	out := OrderStatusResponse{
		Reference:   order.Reference,
		Status:      string(order.Status),
		Quantity:    order.Quantity,
		TotalAmount: order.TotalAmount.StringFixed(2),
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	switch order.Status {
	case entity.OrderStatusApproved:
		out.Tokens = append([]string(nil), order.TokenCodes...)
	case entity.OrderStatusPending:
		out.PaymentLink = order.PaymentLink
	}
	return out
}

// WebhookResponse acknowledges a payment notification.
type WebhookResponse struct {
	Outcome   string `json:"outcome"`
	Reference string `json:"order_reference,omitempty"`
}
