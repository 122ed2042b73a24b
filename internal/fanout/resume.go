package fanout

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/relayhook/relayhook/internal/model"
)

// RunAutoResume runs the hourly auto-resume sweep until ctx is cancelled. It
// is intended to be launched as its own goroutine from the process wiring,
// alongside the HTTP server and the catch-up scheduler.
func (e *Engine) RunAutoResume(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.sweepSuspended(ctx)
		}
	}
}

func (e *Engine) sweepSuspended(ctx context.Context) {
	subs, err := e.store.ListSuspendedSubscriptions(ctx)
	if err != nil {
		e.logger.Error("listing suspended subscriptions for auto-resume", "error", err)
		return
	}

	now := time.Now().UTC()
	for i := range subs {
		sub := subs[i]
		if sub.LastErrorAt == nil || now.Sub(*sub.LastErrorAt) < autoResumeGrace {
			continue
		}
		e.tryResume(ctx, &sub)
	}
}

func (e *Engine) tryResume(ctx context.Context, sub *model.WebhookSubscription) {
	reqCtx, cancel := context.WithTimeout(ctx, autoResumeTimeout)
	defer cancel()

	body := strings.NewReader(`{"event":"health.check"}`)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.WebhookURL, body)
	if err != nil {
		e.logger.Error("building auto-resume request", "subscription_id", sub.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Service", "notifications-microservice")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Info("auto-resume probe failed, leaving subscription suspended", "subscription_id", sub.ID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Info("auto-resume probe returned non-2xx, leaving subscription suspended", "subscription_id", sub.ID, "status", resp.StatusCode)
		return
	}

	sub.Status = model.SubscriptionStatusActive
	sub.RetryCount = 0
	sub.LastError = ""
	sub.LastErrorAt = nil
	if err := e.store.SaveSubscription(ctx, sub); err != nil {
		e.logger.Error("reactivating subscription after auto-resume", "subscription_id", sub.ID, "error", err)
		return
	}
	e.logger.Info("subscription auto-resumed", "subscription_id", sub.ID)
}
