// Package fanout delivers a freshly-ingested InboundEmail to every active
// WebhookSubscription whose filters match it, with per-subscription retry
// bookkeeping, adaptive backoff and timeout widening, and a health probe
// that can skip an attempt without penalizing the subscription.
package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/relayhook/relayhook/internal/engine"
	"github.com/relayhook/relayhook/internal/model"
	"github.com/relayhook/relayhook/internal/observability"
)

// Store is the subset of the persistence gateway the engine depends on.
type Store interface {
	ListActiveSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error)
	ListSuspendedSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error)
	SaveSubscription(ctx context.Context, sub *model.WebhookSubscription) error
	InsertDelivery(ctx context.Context, d *model.WebhookDelivery) error
}

const (
	defaultAttemptTimeout = 120 * time.Second
	maxDeliveryTimeoutMs  = 30 * 60 * 1000
	minSSLMaxRetries      = 10
	autoResumeGrace       = time.Hour
	autoResumeTimeout     = 10 * time.Second
)

// Engine implements Subscription Fan-Out & Delivery.
type Engine struct {
	store   Store
	breaker *engine.CircuitBreaker
	alerter AlertSender
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New builds an Engine. breaker, alerter and metrics may be nil.
func New(st Store, breaker *engine.CircuitBreaker, alerter AlertSender, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   st,
		breaker: breaker,
		alerter: alerter,
		client:  &http.Client{},
		logger:  logger,
		metrics: metrics,
	}
}

// DeliverToSubscriptions implements ingest.FanOut. It loads every active
// subscription, evaluates filters, and runs one delivery attempt per match
// concurrently, returning once every attempt has finished. Individual
// attempt outcomes are not reported back to the caller.
func (e *Engine) DeliverToSubscriptions(ctx context.Context, email *model.InboundEmail) {
	subs, err := e.store.ListActiveSubscriptions(ctx)
	if err != nil {
		e.logger.Error("listing active subscriptions for fan-out", "inbound_email_id", email.ID, "error", err)
		return
	}

	var g errgroup.Group
	for i := range subs {
		sub := subs[i]
		if !matches(email, sub.Filters) {
			continue
		}
		g.Go(func() error {
			e.attempt(ctx, &sub, email)
			return nil
		})
	}
	_ = g.Wait()
}

// attempt runs the health probe, backoff, and POST for one subscription,
// then persists the resulting counters/timeout/delivery row.
func (e *Engine) attempt(ctx context.Context, sub *model.WebhookSubscription, email *model.InboundEmail) {
	ctx, span := otel.Tracer("relayhook/fanout").Start(ctx, "fanout.deliver")
	span.SetAttributes(
		attribute.String("subscription.id", sub.ID.String()),
		attribute.String("inbound_email.id", email.ID.String()),
	)
	defer span.End()

	if e.metrics != nil {
		e.metrics.DeliveriesInFlight.Inc()
		defer e.metrics.DeliveriesInFlight.Dec()
	}

	host := hostOf(sub.WebhookURL)

	if shouldProbe, healthy := probeHealthy(ctx, e.client, sub.WebhookURL); shouldProbe && !healthy {
		e.logger.Info("health probe failed, skipping attempt without penalty", "subscription_id", sub.ID)
		return
	}

	if e.breaker != nil && !e.breaker.Allow(host) {
		e.logger.Warn("circuit open, skipping delivery attempt", "subscription_id", sub.ID, "host", host)
		return
	}

	if sub.RetryCount > 0 {
		backoff := time.Duration(math.Min(1000*math.Pow(2, float64(sub.RetryCount-1)), 30_000)) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}

	payload := buildPayload(email, sub.ID)
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshalling webhook payload", "subscription_id", sub.ID, "error", err)
		return
	}

	timeout := time.Duration(sub.DeliveryTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		e.logger.Error("building webhook request", "subscription_id", sub.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Service", "notifications-microservice")
	req.Header.Set("X-Subscription-Id", sub.ID.String())

	start := time.Now()
	resp, postErr := e.client.Do(req)
	duration := time.Since(start)

	if postErr != nil {
		e.recordFailure(ctx, sub, email, postErr, duration)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		e.recordSuccess(ctx, sub, email, resp.StatusCode, duration)
		return
	}

	e.recordFailure(ctx, sub, email, fmt.Errorf("webhook returned status %d", resp.StatusCode), duration)
}

func (e *Engine) recordSuccess(ctx context.Context, sub *model.WebhookSubscription, email *model.InboundEmail, httpStatus int, duration time.Duration) {
	now := time.Now().UTC()
	sub.TotalDeliveries++
	sub.LastDeliveryAt = &now
	sub.RetryCount = 0
	sub.LastError = ""
	sub.LastErrorAt = nil

	if err := e.store.SaveSubscription(ctx, sub); err != nil {
		e.logger.Error("saving subscription after successful delivery", "subscription_id", sub.ID, "error", err)
	}

	delivery := &model.WebhookDelivery{
		InboundEmailID: email.ID,
		SubscriptionID: sub.ID,
		Status:         model.DeliveryStatusSent,
		HTTPStatus:     httpStatus,
	}
	if err := e.store.InsertDelivery(ctx, delivery); err != nil {
		e.logger.Error("recording delivery row", "subscription_id", sub.ID, "error", err)
	}

	if e.breaker != nil {
		e.breaker.RecordSuccess(hostOf(sub.WebhookURL))
	}
	if e.metrics != nil {
		e.metrics.DeliveryAttemptsTotal.WithLabelValues("success").Inc()
		e.metrics.DeliveryDuration.WithLabelValues("success").Observe(duration.Seconds())
	}
}

func (e *Engine) recordFailure(ctx context.Context, sub *model.WebhookSubscription, email *model.InboundEmail, deliveryErr error, duration time.Duration) {
	now := time.Now().UTC()
	sub.TotalFailures++
	sub.RetryCount++
	sub.LastError = deliveryErr.Error()
	sub.LastErrorAt = &now

	outcome := "failure"
	if isTimeoutError(deliveryErr) {
		outcome = "timeout"
		sub.DeliveryTimeoutMs = minInt(sub.DeliveryTimeoutMs*2, maxDeliveryTimeoutMs)
		if e.alerter != nil {
			if err := e.alerter.SendTimeoutAlert(ctx, sub, email); err != nil {
				e.logger.Error("sending delivery timeout alert", "subscription_id", sub.ID, "error", err)
			}
		}
	} else if isSSLError(deliveryErr) {
		if sub.MaxRetries < minSSLMaxRetries {
			sub.MaxRetries = minSSLMaxRetries
		}
	}

	if err := e.store.SaveSubscription(ctx, sub); err != nil {
		e.logger.Error("saving subscription after failed delivery", "subscription_id", sub.ID, "error", err)
	}

	if e.breaker != nil {
		e.breaker.RecordFailure(hostOf(sub.WebhookURL), outcome == "timeout")
	}
	if e.metrics != nil {
		e.metrics.DeliveryAttemptsTotal.WithLabelValues(outcome).Inc()
		e.metrics.DeliveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}

	e.logger.Warn("webhook delivery failed", "subscription_id", sub.ID, "outcome", outcome, "error", deliveryErr)
}

func isTimeoutError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") || strings.Contains(s, "etimedout") || strings.Contains(s, "timed out")
}

func isSSLError(err error) bool {
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"x509", "tls", "certificate", "ssl"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
