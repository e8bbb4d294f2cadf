package notify

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/entity"
	"github.com/Additional-Code/raffle/internal/observability"
)

var notifyTracer = otel.Tracer("github.com/Additional-Code/raffle/notify")

// Module provides the notification dispatcher.
var Module = fx.Provide(
	New,
	func(d *Dispatcher) Notifier { return d },
)

// Notifier delivers order notifications to the customer and to the operator.
type Notifier interface {
	NotifyCustomer(ctx context.Context, order entity.Order) error
	NotifyOperator(ctx context.Context, order entity.Order) error
}

// EmailSender sends one plain-text e-mail.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ChatSender posts one message to the operator chat.
type ChatSender interface {
	Post(ctx context.Context, message string) error
}

// Settings carries the text used in messages and the operator address.
type Settings struct {
	Title         string
	Currency      string
	OperatorEmail string
}

// Dispatcher fans notifications out to e-mail and chat.
type Dispatcher struct {
	email    EmailSender
	chat     ChatSender
	settings Settings
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New builds a dispatcher from configuration. Channels without settings log instead of sending.
func New(cfg config.Config, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	var email EmailSender = logSender{logger: logger}
	if cfg.Notify.SMTP.Host != "" && cfg.Notify.SMTP.From != "" {
		email = NewSMTPSender(cfg.Notify.SMTP, cfg.Notify.Timeout)
	} else {
		logger.Info("smtp not configured; e-mail notifications will be logged only")
	}

	var chat ChatSender = logSender{logger: logger}
	if cfg.Notify.DiscordWebhookURL != "" {
		chat = NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.Timeout)
	} else {
		logger.Info("discord webhook not configured; operator chat messages will be logged only")
	}

	return NewDispatcher(email, chat, Settings{
		Title:         cfg.Raffle.Title,
		Currency:      cfg.Raffle.Currency,
		OperatorEmail: cfg.Notify.OperatorEmail,
	}, logger, metrics)
}

// NewDispatcher wires a dispatcher over explicit senders.
func NewDispatcher(email EmailSender, chat ChatSender, settings Settings, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{email: email, chat: chat, settings: settings, logger: logger, metrics: metrics}
}

// NotifyCustomer e-mails the customer their token codes.
func (d *Dispatcher) NotifyCustomer(ctx context.Context, order entity.Order) error {
	ctx, span := notifyTracer.Start(ctx, "Dispatcher.NotifyCustomer", trace.WithAttributes(attribute.String("order.reference", order.Reference)))
	defer span.End()

	if order.CustomerEmail == "" {
		return errors.New("notify customer: order has no e-mail")
	}

	subject, body := customerMessage(d.settings, order)
	err := d.email.Send(ctx, order.CustomerEmail, subject, body)
	d.record(ctx, "customer_email", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return fmt.Errorf("notify customer: %w", err)
	}
	return nil
}

// NotifyOperator posts the sale to the operator chat and, when configured, the operator mailbox.
// Both channels are attempted; failures are joined.
func (d *Dispatcher) NotifyOperator(ctx context.Context, order entity.Order) error {
	ctx, span := notifyTracer.Start(ctx, "Dispatcher.NotifyOperator", trace.WithAttributes(attribute.String("order.reference", order.Reference)))
	defer span.End()

	msg := operatorMessage(d.settings, order)

	chatErr := d.chat.Post(ctx, msg)
	d.record(ctx, "operator_chat", chatErr)
	if chatErr != nil {
		chatErr = fmt.Errorf("operator chat: %w", chatErr)
	}

	var mailErr error
	if d.settings.OperatorEmail != "" {
		subject := fmt.Sprintf("%s: new sale %s", d.settings.Title, order.Reference)
		mailErr = d.email.Send(ctx, d.settings.OperatorEmail, subject, msg)
		d.record(ctx, "operator_email", mailErr)
		if mailErr != nil {
			mailErr = fmt.Errorf("operator e-mail: %w", mailErr)
		}
	}

	if err := errors.Join(chatErr, mailErr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return fmt.Errorf("notify operator: %w", err)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, channel string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	d.metrics.Notification(ctx, channel, outcome)
}
