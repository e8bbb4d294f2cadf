package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// discordContentLimit is the maximum length Discord accepts for message content.
const discordContentLimit = 2000

// DiscordSender posts operator messages to a Discord webhook.
type DiscordSender struct {
	http *resty.Client
	url  string
}

// NewDiscordSender builds a sender for the given webhook URL.
func NewDiscordSender(webhookURL string, timeout time.Duration) *DiscordSender {
	return &DiscordSender{
		http: resty.New().SetTimeout(timeout),
		url:  webhookURL,
	}
}

func (d *DiscordSender) Post(ctx context.Context, message string) error {
	if len(message) > discordContentLimit {
		message = message[:discordContentLimit]
	}

	resp, err := d.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"content": message}).
		Post(d.url)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord webhook: status %d", resp.StatusCode())
	}
	return nil
}
