package notify

import (
	"context"

	"go.uber.org/zap"
)

// logSender stands in for an unconfigured channel.
type logSender struct {
	logger *zap.Logger
}

func (l logSender) Send(_ context.Context, to, subject, _ string) error {
	l.logger.Info("e-mail not sent; smtp disabled", zap.String("to", to), zap.String("subject", subject))
	return nil
}

func (l logSender) Post(_ context.Context, message string) error {
	l.logger.Info("chat message not sent; discord disabled", zap.Int("length", len(message)))
	return nil
}
