package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventOrderApproved is the type of the event published after an order is approved.
const EventOrderApproved = "order.approved"

// OrderApprovedEvent asks the worker to deliver the approval notifications for an order.
type OrderApprovedEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Reference  string    `json:"reference"`
	PaymentID  string    `json:"payment_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewOrderApprovedEvent stamps a new event for reference.
func NewOrderApprovedEvent(reference, paymentID string, at time.Time) OrderApprovedEvent {
	return OrderApprovedEvent{
		EventID:    uuid.NewString(),
		Type:       EventOrderApproved,
		Reference:  reference,
		PaymentID:  paymentID,
		OccurredAt: at.UTC(),
	}
}

// DecodeOrderApprovedEvent parses a message value and checks its type.
func DecodeOrderApprovedEvent(payload []byte) (OrderApprovedEvent, error) {
	var event OrderApprovedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return OrderApprovedEvent{}, fmt.Errorf("decode order approved event: %w", err)
	}
	if event.Type != EventOrderApproved {
		return OrderApprovedEvent{}, fmt.Errorf("unexpected event type %q", event.Type)
	}
	if event.Reference == "" {
		return OrderApprovedEvent{}, fmt.Errorf("order approved event %s has no reference", event.EventID)
	}
	return event, nil
}
