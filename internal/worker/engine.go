package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/messaging"
)

const maxRestartDelay = 30 * time.Second

// HandlerRegistration binds an event type to its handler.
type HandlerRegistration struct {
	Event   string
	Handler messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine runs a fixed pool of consumers over the order event stream and
// routes each message by its event type.
type Engine struct {
	client   messaging.Client
	logger   *zap.Logger
	enabled  bool
	workers  int
	handlers map[string]messaging.Handler

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEngine indexes the registered handlers; blank registrations are ignored.
func NewEngine(p Params) *Engine {
	handlers := make(map[string]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Event != "" && r.Handler != nil {
			handlers[r.Event] = r.Handler
		}
	}

	return &Engine{
		client:   p.Client,
		logger:   p.Logger,
		enabled:  p.Config.Messaging.Enabled && p.Config.Messaging.Workers.Enabled,
		workers:  max(p.Config.Messaging.Workers.Concurrency, 1),
		handlers: handlers,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.StartStopHook(engine.Start, engine.Stop))
	}),
)

// Start launches the consumers. It returns immediately.
func (e *Engine) Start(context.Context) error {
	switch {
	case !e.enabled:
		e.logger.Info("worker engine disabled")
		return nil
	case len(e.handlers) == 0:
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, ctx = errgroup.WithContext(ctx)
	for id := range e.workers {
		e.group.Go(func() error {
			e.consume(ctx, id)
			return nil
		})
	}

	e.logger.Info("worker engine started", zap.Int("workers", e.workers), zap.Int("handlers", len(e.handlers)))
	return nil
}

// Stop cancels the consumers and waits for in-flight messages, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		e.logger.Info("worker engine stopped")
		return err
	}
}

func (e *Engine) dispatch(ctx context.Context, workerID int, msg messaging.Message) error {
	event := msg.EventType()
	handler, ok := e.handlers[event]
	if !ok {
		e.logger.Warn("no handler for event", zap.String("event.type", event), zap.String("topic", msg.Topic))
		return nil
	}

	e.logger.Debug("processing message",
		zap.String("event.type", event),
		zap.ByteString("key", msg.Key),
		zap.Int("worker", workerID),
	)
	return handler(ctx, msg)
}

// consume keeps one consumer attached, restarting it with exponential
// backoff when the broker connection fails.
func (e *Engine) consume(ctx context.Context, workerID int) {
	delay := backoff.NewExponentialBackOff()
	delay.MaxInterval = maxRestartDelay

	for ctx.Err() == nil {
		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			return e.dispatch(msgCtx, workerID, msg)
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		wait := delay.NextBackOff()
		e.logger.Error("consumer stopped; restarting",
			zap.Int("worker", workerID),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
