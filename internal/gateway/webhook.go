package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var (
	// ErrMalformedNotification is returned for payloads that carry neither a payment id nor a reference.
	ErrMalformedNotification = errors.New("malformed payment notification")
	// ErrIgnoredTopic is returned for notifications about resources other than payments.
	ErrIgnoredTopic = errors.New("notification topic is not a payment")
)

// PaymentNotification is the normalized content of a gateway callback.
type PaymentNotification struct {
	PaymentID      string
	CorrelationRef string
	Status         string
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type webhookPayload struct {
	Type              string     `json:"type"`
	Topic             string     `json:"topic"`
	Action            string     `json:"action"`
	ID                flexString `json:"id"`
	Resource          string     `json:"resource"`
	ExternalReference string     `json:"external_reference"`
	Status            string     `json:"status"`
	Data              struct {
		ID flexString `json:"id"`
	} `json:"data"`
}

// ParseNotification normalizes a webhook delivery. Mercado Pago sends either the JSON form
// ({"type":"payment","data":{"id":..}}) or the legacy query form (?topic=payment&id=..).
func ParseNotification(body []byte, query url.Values) (PaymentNotification, error) {
	var payload webhookPayload
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
	}

	topic := firstNonEmpty(payload.Type, payload.Topic, query.Get("type"), query.Get("topic"))
	if topic == "" && strings.HasPrefix(payload.Action, "payment.") {
		topic = "payment"
	}

	// A topic-less delivery is accepted when it names a payment or reference directly.
	if topic != "" && topic != "payment" {
		return PaymentNotification{}, ErrIgnoredTopic
	}

	n := PaymentNotification{
		PaymentID: firstNonEmpty(
			string(payload.Data.ID),
			query.Get("data.id"),
			string(payload.ID),
			resourceID(payload.Resource),
			query.Get("id"),
		),
		CorrelationRef: firstNonEmpty(payload.ExternalReference, query.Get("external_reference")),
		Status:         firstNonEmpty(payload.Status, query.Get("status")),
	}
	if n.PaymentID == "" && n.CorrelationRef == "" {
		return PaymentNotification{}, ErrMalformedNotification
	}
	return n, nil
}

// resourceID accepts either a bare id or a resource URL ending in the id.
func resourceID(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return ""
	}
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return resource
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
