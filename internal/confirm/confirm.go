// Package confirm implements the delivery confirmation API:
// a downstream subscriber or a polling consumer calls back once it has
// durably processed a delivery, flipping a WebhookDelivery row from "sent"
// to its terminal status.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayhook/relayhook/internal/model"
)

// ErrNoDelivery is returned when no delivery row exists for the requested
// (inboundEmailId, subscriptionId) pair.
var ErrNoDelivery = errors.New("no delivery row for this inbound email/subscription pair")

// ErrDowngrade is returned when a confirmation would move a delivery row
// backwards, e.g. "delivered" -> "failed". This is rejected rather than
// silently applied.
var ErrDowngrade = errors.New("delivery status cannot be downgraded")

// Store is the subset of the persistence gateway the confirmer depends on.
type Store interface {
	FindDelivery(ctx context.Context, inboundID, subID uuid.UUID) (*model.WebhookDelivery, error)
	FindLatestDeliveryForInbound(ctx context.Context, inboundID uuid.UUID) (*model.WebhookDelivery, error)
	UpdateDeliveryStatus(ctx context.Context, d *model.WebhookDelivery) error
}

// Confirmer implements the two confirmation operations.
type Confirmer struct {
	store Store
}

// New builds a Confirmer.
func New(st Store) *Confirmer {
	return &Confirmer{store: st}
}

// Request carries the fields a confirmation callback may supply, shared by
// both entry points.
type Request struct {
	InboundEmailID uuid.UUID
	SubscriptionID uuid.UUID // zero for ConfirmByInboundIdOnly
	Status         model.DeliveryStatus
	TicketID       string
	CommentID      string
	Error          string
}

// ConfirmByIds locates the most recent WebhookDelivery row for
// (inboundEmailId, subscriptionId) and applies the requested status
// transition. Reapplying the same final status is a no-op; downgrading
// from "delivered" is rejected.
func (c *Confirmer) ConfirmByIds(ctx context.Context, req Request) (*model.WebhookDelivery, error) {
	if req.Status != model.DeliveryStatusDelivered && req.Status != model.DeliveryStatusFailed {
		return nil, fmt.Errorf("unsupported confirmation status %q", req.Status)
	}

	d, err := c.store.FindDelivery(ctx, req.InboundEmailID, req.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("finding delivery row: %w", err)
	}
	if d == nil {
		return nil, ErrNoDelivery
	}

	return c.apply(ctx, d, req)
}

// ConfirmByInboundIdOnly is used by a polling subscriber that independently
// discovered it had already processed this logical message (e.g. by
// message-id match) without ever receiving the webhook. Only "delivered" is
// accepted here; there is no subscriber-reported failure without a
// subscription id to blame.
func (c *Confirmer) ConfirmByInboundIdOnly(ctx context.Context, req Request) (*model.WebhookDelivery, error) {
	if req.Status != model.DeliveryStatusDelivered {
		return nil, fmt.Errorf("ConfirmByInboundIdOnly only accepts status=delivered, got %q", req.Status)
	}

	d, err := c.store.FindLatestDeliveryForInbound(ctx, req.InboundEmailID)
	if err != nil {
		return nil, fmt.Errorf("finding delivery row: %w", err)
	}
	if d == nil {
		return nil, ErrNoDelivery
	}

	return c.apply(ctx, d, req)
}

func (c *Confirmer) apply(ctx context.Context, d *model.WebhookDelivery, req Request) (*model.WebhookDelivery, error) {
	if d.Status == req.Status {
		return d, nil // idempotent re-application
	}
	if !d.CanTransitionTo(req.Status) {
		return nil, ErrDowngrade
	}

	d.Status = req.Status
	d.TicketID = req.TicketID
	d.CommentID = req.CommentID
	d.Error = req.Error
	if req.Status == model.DeliveryStatusDelivered {
		now := time.Now().UTC()
		d.DeliveredAt = &now
	}

	if err := c.store.UpdateDeliveryStatus(ctx, d); err != nil {
		return nil, fmt.Errorf("persisting delivery confirmation: %w", err)
	}
	return d, nil
}
