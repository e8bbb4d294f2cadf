package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderStatus is the payment lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusFailed   OrderStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusApproved, OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// HoldsTokens reports whether orders in this status keep their tokens out of the pool.
func (s OrderStatus) HoldsTokens() bool {
	return s == OrderStatusPending || s == OrderStatusApproved
}

// CanTransition encodes the order state machine. Only pending orders move; terminal states are sticky.
func CanTransition(from, to OrderStatus) bool {
	if from != OrderStatusPending {
		return false
	}
	switch to {
	case OrderStatusPending, OrderStatusApproved, OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// TokenCodes is the snapshot of token codes reserved for an order, stored as a JSON array.
type TokenCodes []string

// Value implements driver.Valuer.
func (c TokenCodes) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *TokenCodes) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("token codes: unsupported type %T", src)
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return fmt.Errorf("token codes: %w", err)
	}
	*c = codes
	return nil
}

// Order is one purchase attempt linking a customer to reserved tokens and a payment outcome.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	Reference     string          `bun:"reference,pk" json:"reference"`
	CustomerName  string          `bun:"customer_name,notnull" json:"customer_name"`
	CustomerEmail string          `bun:"customer_email,notnull" json:"customer_email"`
	NationalID    string          `bun:"national_id,notnull" json:"national_id"`
	Phone         string          `bun:"phone,notnull" json:"phone"`
	Quantity      int             `bun:"quantity,notnull" json:"quantity"`
	TotalAmount   decimal.Decimal `bun:"total_amount,notnull" json:"total_amount"`
	TokenCodes    TokenCodes      `bun:"token_codes,notnull" json:"token_codes"`
	Status        OrderStatus     `bun:"status,notnull" json:"status"`
	PaymentID     string          `bun:"payment_id,nullzero" json:"payment_id,omitempty"`
	PaymentStatus string          `bun:"payment_status,nullzero" json:"payment_status,omitempty"`
	PaymentLink   string          `bun:"payment_link,nullzero" json:"payment_link,omitempty"`
	NotifiedAt    bun.NullTime    `bun:"notified_at" json:"notified_at"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
}
