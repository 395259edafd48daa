package notifier

import (
	"context"
	"time"

	"etf-trend-bot/internal/transport"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier delivers a short operator message. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Discord posts messages to a webhook.
type Discord struct {
	client  *resty.Client
	webhook string
	logger  *zap.Logger
}

// New returns a Discord notifier, or Nop when no webhook is configured.
func New(webhook string, logger *zap.Logger) Notifier {
	if webhook == "" {
		return Nop{}
	}
	return &Discord{
		client:  transport.NewClient(transport.Options{Timeout: 5 * time.Second}),
		webhook: webhook,
		logger:  logger,
	}
}

// Notify posts msg as the webhook content. Failures are logged and dropped.
func (d *Discord) Notify(ctx context.Context, msg string) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": msg}).
		Post(d.webhook)
	if err != nil {
		d.logger.Warn("Discord notification failed", zap.Error(err))
		return
	}
	if resp.IsError() {
		d.logger.Warn("Discord notification rejected", zap.Int("status", resp.StatusCode()))
	}
}
