package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Token is a unique raffle entry code. OrderReference is a back-reference to the owning order.
type Token struct {
	bun.BaseModel `bun:"table:tokens"`

	Code           string    `bun:"code,pk"`
	Available      bool      `bun:"available,notnull"`
	OrderReference string    `bun:"order_reference,nullzero"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero"`
}
