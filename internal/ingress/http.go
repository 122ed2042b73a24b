// Package ingress is the HTTP adapter in front of the ingestion coordinator:
// it recognizes the handful of wire shapes a push-notification provider or
// an operator can send to POST /email/inbound/s3, and serves the
// read-side admin surface (list, get, undelivered, s3-unprocessed, reparse).
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relayhook/relayhook/internal/ingest"
	"github.com/relayhook/relayhook/internal/model"
	"github.com/relayhook/relayhook/internal/objectstore"
	"github.com/relayhook/relayhook/internal/pkg"
	"github.com/relayhook/relayhook/internal/store"
)

// Ingestor is the subset of ingest.Coordinator the handler depends on.
type Ingestor interface {
	AcceptPushNotification(ctx context.Context, n ingest.Notification) (*model.InboundEmail, error)
	AcceptObjectCreatedEvent(ctx context.Context, records []ingest.ObjectRecord) error
	ReprocessInbound(ctx context.Context, id uuid.UUID) (*model.InboundEmail, error)
}

// Store is the subset of the persistence gateway the read-side admin
// endpoints depend on.
type Store interface {
	GetInbound(ctx context.Context, id uuid.UUID) (*model.InboundEmail, error)
	ListInbound(ctx context.Context, opts store.ListInboundOptions) ([]model.InboundEmail, int, error)
	ListActiveSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error)
	ListInboundNotConfirmedForSubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]model.WebhookDelivery, error)
	ProcessedObjectKeys(ctx context.Context) (map[string]struct{}, error)
}

// ObjectLister enumerates the object store for the s3-unprocessed diff view.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string, maxKeys int, sinceHours int) ([]objectstore.Object, error)
}

// Handler implements the inbound-email HTTP surface.
type Handler struct {
	ingest     Ingestor
	store      Store
	objects    ObjectLister
	logger     *slog.Logger
	httpClient *http.Client
}

// New builds a Handler.
func New(ingestor Ingestor, st Store, objects ObjectLister, logger *slog.Logger) *Handler {
	return &Handler{
		ingest:     ingestor,
		store:      st,
		objects:    objects,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// LegacyInbound handles POST /email/inbound: the pre-S3 direct-delivery
// webhook this system no longer accepts mail through. Always 200, never
// processed, so an upstream still pointed at the old URL does not retry
// forever.
func (h *Handler) LegacyInbound(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": "ignored"})
}

// Inbound handles POST /email/inbound/s3, the real ingestion entry point.
// It recognizes every known notification shape and answers 200, with
// success:false when the notification could not be used. It answers 400
// when the body cannot be read or is not JSON, and for a subscription
// confirmation with a missing or invalid SubscribeURL; it answers 502
// when the confirmation GET fails or returns a non-2xx status.
func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "reading request body")
		return
	}
	rawDelivery := strings.EqualFold(r.Header.Get("X-Amz-Sns-Rawdelivery"), "true")

	env, err := ParseEnvelope(body, rawDelivery)
	if err != nil {
		if json.Valid(body) {
			// The body is JSON but a nested field (a wrapped Message) is not:
			// acknowledge it so the upstream does not keep re-sending it.
			pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "malformed notification message"})
			return
		}
		pkg.Error(w, http.StatusBadRequest, "malformed notification body")
		return
	}

	switch env.Kind {
	case KindSubscriptionConfirmation:
		h.confirmSubscription(w, r.Context(), env.SubscribeURL)
	case KindPushNotification:
		h.dispatchNotification(w, r.Context(), env.Notification)
	case KindObjectCreatedEvent, KindManualReplay:
		if err := h.ingest.AcceptObjectCreatedEvent(r.Context(), env.ObjectRecords); err != nil {
			h.logger.Error("accepting object-created event", "error", err)
		}
		pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "accepted"})
	default:
		pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "unrecognized notification shape"})
	}
}

func (h *Handler) confirmSubscription(w http.ResponseWriter, ctx context.Context, subscribeURL string) {
	if subscribeURL == "" {
		pkg.Error(w, http.StatusBadRequest, "subscription confirmation missing SubscribeURL")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid SubscribeURL")
		return
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Error("confirming subscription", "url", subscribeURL, "error", err)
		pkg.Error(w, http.StatusBadGateway, "confirming subscription")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		pkg.Error(w, http.StatusBadGateway, fmt.Sprintf("subscription confirmation returned %d", resp.StatusCode))
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "subscription confirmed"})
}

func (h *Handler) dispatchNotification(w http.ResponseWriter, ctx context.Context, n ingest.Notification) {
	email, err := h.ingest.AcceptPushNotification(ctx, n)
	if err != nil {
		h.logger.Error("accepting push notification", "message_id", n.MessageID, "error", err)
		pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "ingestion failed"})
		return
	}
	if email == nil {
		pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "duplicate, ignored"})
		return
	}

	resp := map[string]interface{}{"success": true, "message": "accepted", "id": email.ID}
	if len(email.Attachments) > 0 {
		resp["attachments"] = email.AttachmentsJSON()
	}
	pkg.JSON(w, http.StatusOK, resp)
}

// List handles GET /email/inbound.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listOnly := q.Get("listOnly")
	opts := store.ListInboundOptions{
		ToFilter: q.Get("toFilter"),
		Status:   model.InboundStatus(q.Get("status")),
		Limit:    intQuery(q.Get("limit"), 50),
		Offset:   intQuery(q.Get("offset"), 0),
		ListOnly: listOnly == "1" || strings.EqualFold(listOnly, "true"),
	}
	if exclude := q.Get("excludeTo"); exclude != "" {
		opts.ExcludeTo = strings.Split(exclude, ",")
	}

	emails, total, err := h.store.ListInbound(r.Context(), opts)
	if err != nil {
		pkg.HandleError(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    listPayload(emails, opts.ListOnly),
		"count":   total,
	})
}

// Get handles GET /email/inbound/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid id")
		return
	}
	email, err := h.store.GetInbound(r.Context(), id)
	if err != nil {
		pkg.HandleError(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": newInboundEmailResponse(email)})
}

// Undelivered handles GET /email/inbound/undelivered: the "sent but not yet
// confirmed" backlog for operator-facing subscriptions. Filters to
// subscriptions tagged filters.role=="helpdesk"; falls back to every active
// subscription if none carry that tag.
func (h *Handler) Undelivered(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r.URL.Query().Get("limit"), 50)

	subs, err := h.store.ListActiveSubscriptions(r.Context())
	if err != nil {
		pkg.HandleError(w, err)
		return
	}

	targets := make([]model.WebhookSubscription, 0, len(subs))
	for _, s := range subs {
		if s.Filters.Role == "helpdesk" {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		targets = subs
	}

	out := make([]model.WebhookDelivery, 0, limit)
	for _, s := range targets {
		deliveries, err := h.store.ListInboundNotConfirmedForSubscription(r.Context(), s.ID, limit)
		if err != nil {
			h.logger.Error("listing undelivered for subscription", "subscription_id", s.ID, "error", err)
			continue
		}
		out = append(out, deliveries...)
	}
	pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": out, "count": len(out)})
}

// S3Unprocessed handles GET /email/inbound/s3-unprocessed: objects present
// in the bucket with no corresponding inbound_emails row, the same diff the
// catch-up scheduler runs, surfaced for manual inspection.
func (h *Handler) S3Unprocessed(w http.ResponseWriter, r *http.Request) {
	maxKeys := intQuery(r.URL.Query().Get("maxKeys"), 50)

	objs, err := h.objects.ListObjects(r.Context(), "", maxKeys, 0)
	if err != nil {
		pkg.HandleError(w, err)
		return
	}
	processed, err := h.store.ProcessedObjectKeys(r.Context())
	if err != nil {
		pkg.HandleError(w, err)
		return
	}

	unprocessed := make([]string, 0, len(objs))
	for _, o := range objs {
		if _, ok := processed[o.Key]; !ok {
			unprocessed = append(unprocessed, o.Key)
		}
	}
	pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": unprocessed, "count": len(unprocessed)})
}

// Reparse handles POST /email/inbound/{id}/reparse.
func (h *Handler) Reparse(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid id")
		return
	}
	email, err := h.ingest.ReprocessInbound(r.Context(), id)
	if err != nil {
		pkg.HandleError(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": newInboundEmailResponse(email)})
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
