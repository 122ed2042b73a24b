package model

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of a WebhookSubscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

const (
	defaultDeliveryTimeoutMs = 120_000
	maxDeliveryTimeoutMs     = 30 * 60 * 1000
)

// SubscriptionFilters holds the recognized filter keys evaluated during
// fan-out. To/From entries may be literal addresses or "*@domain"
// wildcards; SubjectPattern is a case-insensitive regular expression.
type SubscriptionFilters struct {
	To             []string `json:"to,omitempty"`
	From           []string `json:"from,omitempty"`
	SubjectPattern string   `json:"subjectPattern,omitempty"`
	// Role is a free-form operator tag (e.g. "helpdesk"), consulted only by
	// the undelivered-view endpoint.
	Role string `json:"role,omitempty"`
}

// WebhookSubscription is one registered downstream HTTP endpoint.
type WebhookSubscription struct {
	ID          uuid.UUID           `json:"id" db:"id"`
	ServiceName string              `json:"serviceName" db:"service_name"`
	WebhookURL  string              `json:"webhookUrl" db:"webhook_url"`
	Secret      string              `json:"-" db:"secret"`
	Filters     SubscriptionFilters `json:"filters" db:"filters"`
	Status      SubscriptionStatus  `json:"status" db:"status"`

	MaxRetries        int `json:"maxRetries" db:"max_retries"`
	DeliveryTimeoutMs int `json:"deliveryTimeoutMs" db:"delivery_timeout_ms"`

	TotalDeliveries int        `json:"totalDeliveries" db:"total_deliveries"`
	TotalFailures   int        `json:"totalFailures" db:"total_failures"`
	RetryCount      int        `json:"retryCount" db:"retry_count"`
	LastDeliveryAt  *time.Time `json:"lastDeliveryAt,omitempty" db:"last_delivery_at"`
	LastError       string     `json:"lastError,omitempty" db:"last_error"`
	LastErrorAt     *time.Time `json:"lastErrorAt,omitempty" db:"last_error_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// NewWebhookSubscription builds an active subscription with the default
// delivery timeout.
func NewWebhookSubscription(serviceName, webhookURL string, filters SubscriptionFilters) *WebhookSubscription {
	return &WebhookSubscription{
		ID:                uuid.New(),
		ServiceName:       serviceName,
		WebhookURL:        webhookURL,
		Filters:           filters,
		Status:            SubscriptionStatusActive,
		DeliveryTimeoutMs: defaultDeliveryTimeoutMs,
	}
}

// DeliveryStatus is the lifecycle state of a WebhookDelivery row.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is one attempted delivery of one InboundEmail to one
// WebhookSubscription. A row exists only once the first HTTP POST returns a
// 2xx response; per-attempt failures live on the subscription row instead.
type WebhookDelivery struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	InboundEmailID uuid.UUID      `json:"inboundEmailId" db:"inbound_email_id"`
	SubscriptionID uuid.UUID      `json:"subscriptionId" db:"subscription_id"`
	Status         DeliveryStatus `json:"status" db:"status"`
	HTTPStatus     int            `json:"httpStatus" db:"http_status"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty" db:"delivered_at"`
	TicketID       string         `json:"ticketId,omitempty" db:"ticket_id"`
	CommentID      string         `json:"commentId,omitempty" db:"comment_id"`
	Error          string         `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
}

// CanTransitionTo reports whether the delivery may move from its current
// status to next. sent -> delivered and sent -> failed are the only
// transitions; delivered is terminal and never downgrades.
func (d *WebhookDelivery) CanTransitionTo(next DeliveryStatus) bool {
	if d.Status == next {
		return true // idempotent re-application
	}
	return d.Status == DeliveryStatusSent && (next == DeliveryStatusDelivered || next == DeliveryStatusFailed)
}
