package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/messaging"
	"github.com/Additional-Code/raffle/internal/service/payment"
)

type recordingDeliverer struct {
	references []string
	err        error
}

func (r *recordingDeliverer) DeliverNotifications(_ context.Context, reference string) error {
	r.references = append(r.references, reference)
	return r.err
}

func eventMessage(t *testing.T, reference string) messaging.Message {
	t.Helper()
	payload, err := json.Marshal(payment.NewOrderApprovedEvent(reference, "pay-1", time.Now()))
	require.NoError(t, err)
	return messaging.Message{
		Topic:   "raffle.orders",
		Key:     []byte(reference),
		Value:   payload,
		Headers: map[string]string{messaging.HeaderEventType: payment.EventOrderApproved},
	}
}

func TestOrderApprovedHandlerDelivers(t *testing.T) {
	d := &recordingDeliverer{}
	reg := NewOrderApprovedHandler(d, zap.NewNop())

	assert.Equal(t, payment.EventOrderApproved, reg.Event)
	require.NoError(t, reg.Handler(context.Background(), eventMessage(t, "REF1")))
	assert.Equal(t, []string{"REF1"}, d.references)
}

func TestOrderApprovedHandlerReturnsDeliveryErrors(t *testing.T) {
	d := &recordingDeliverer{err: errors.New("db gone")}
	reg := NewOrderApprovedHandler(d, zap.NewNop())

	require.Error(t, reg.Handler(context.Background(), eventMessage(t, "REF1")))
}

func TestOrderApprovedHandlerAcknowledgesGarbage(t *testing.T) {
	d := &recordingDeliverer{}
	reg := NewOrderApprovedHandler(d, zap.NewNop())

	require.NoError(t, reg.Handler(context.Background(), messaging.Message{Value: []byte("not json")}))
	assert.Empty(t, d.references)
}
