package fanout

import (
	"context"
	"log/slog"

	"github.com/relayhook/relayhook/internal/model"
)

// AlertSender delivers the out-of-band operator notification sent when a
// subscription's delivery times out. The actual transactional-email system
// is an external collaborator; this interface is the seam for it.
type AlertSender interface {
	SendTimeoutAlert(ctx context.Context, sub *model.WebhookSubscription, email *model.InboundEmail) error
}

// LoggingAlerter is the default AlertSender: it records the alert at warn
// level instead of sending mail, for deployments that have not wired a
// transactional-email collaborator yet.
type LoggingAlerter struct {
	Logger *slog.Logger
	To     string
}

func (a *LoggingAlerter) SendTimeoutAlert(_ context.Context, sub *model.WebhookSubscription, email *model.InboundEmail) error {
	if a.Logger == nil {
		return nil
	}
	a.Logger.Warn("webhook delivery timeout alert",
		"alert_to", a.To,
		"subscription_id", sub.ID,
		"webhook_url", sub.WebhookURL,
		"inbound_email_id", email.ID,
		"delivery_timeout_ms", sub.DeliveryTimeoutMs,
	)
	return nil
}
