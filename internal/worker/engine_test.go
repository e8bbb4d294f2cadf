package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/messaging"
)

func TestDispatchRoutesByEventType(t *testing.T) {
	var got []string
	e := NewEngine(Params{
		Logger: zap.NewNop(),
		Registrations: []HandlerRegistration{
			{Event: "order.approved", Handler: func(_ context.Context, msg messaging.Message) error {
				got = append(got, string(msg.Key))
				return nil
			}},
			{Event: "", Handler: func(context.Context, messaging.Message) error { return nil }},
		},
	})

	require.NoError(t, e.dispatch(context.Background(), 0, messaging.Message{
		Topic:   "raffle.orders",
		Key:     []byte("REF1"),
		Headers: map[string]string{messaging.HeaderEventType: "order.approved"},
	}))
	require.NoError(t, e.dispatch(context.Background(), 0, messaging.Message{
		Topic:   "raffle.orders",
		Key:     []byte("REF2"),
		Headers: map[string]string{messaging.HeaderEventType: "order.created"},
	}))

	assert.Equal(t, []string{"REF1"}, got)
	assert.Len(t, e.handlers, 1)
}

type flakyClient struct {
	calls chan struct{}
	fails int
}

func (c *flakyClient) Publish(context.Context, messaging.Message) error { return nil }
func (c *flakyClient) Topic() string                                    { return "raffle.orders" }

func (c *flakyClient) Consume(ctx context.Context, handler messaging.Handler) error {
	c.calls <- struct{}{}
	if c.fails > 0 {
		c.fails--
		return errors.New("broker unavailable")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestEngineRestartsConsumerAndStops(t *testing.T) {
	client := &flakyClient{calls: make(chan struct{}, 4), fails: 1}
	cfg := config.Config{Messaging: config.Messaging{
		Enabled: true,
		Workers: config.Worker{Enabled: true, Concurrency: 1},
	}}
	e := NewEngine(Params{
		Client: client,
		Logger: zap.NewNop(),
		Config: cfg,
		Registrations: []HandlerRegistration{
			{Event: "order.approved", Handler: func(context.Context, messaging.Message) error { return nil }},
		},
	})

	require.NoError(t, e.Start(context.Background()))
	for range 2 {
		select {
		case <-client.calls:
		case <-time.After(5 * time.Second):
			t.Fatal("consumer was not restarted")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
}

func TestEngineDisabledDoesNotConsume(t *testing.T) {
	client := &flakyClient{calls: make(chan struct{}, 1)}
	e := NewEngine(Params{Client: client, Logger: zap.NewNop()})

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop(context.Background()))
	assert.Empty(t, client.calls)
	assert.Equal(t, 1, e.workers)
}
