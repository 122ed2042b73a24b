// Package ingest is the ingestion coordinator: it turns a push notification,
// an object-created event, or a manual reprocess request into exactly one
// InboundEmail row and exactly one fan-out, no matter how many ingress paths
// race each other over the same logical message.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relayhook/relayhook/internal/mime"
	"github.com/relayhook/relayhook/internal/model"
	"github.com/relayhook/relayhook/internal/observability"
	"github.com/relayhook/relayhook/internal/store"
)

// Store is the subset of the persistence gateway the coordinator depends on.
type Store interface {
	FindInboundByMessageId(ctx context.Context, messageID string) (*model.InboundEmail, error)
	FindInboundByObjectKey(ctx context.Context, objectKey string) (*model.InboundEmail, error)
	GetInbound(ctx context.Context, id uuid.UUID) (*model.InboundEmail, error)
	InsertInboundEmail(ctx context.Context, email *model.InboundEmail) error
	UpdateInboundBody(ctx context.Context, email *model.InboundEmail) error
	UpdateInboundStatus(ctx context.Context, id uuid.UUID, status model.InboundStatus, processedAt *time.Time, errMsg string) error
}

// ObjectStore is the subset of the object-store gateway the coordinator
// depends on.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// Locker is a short-lived, best-effort ingestion lock keyed by normalized
// message-id, used to avoid redundant object-store fetches and parses when
// two ingress paths race over the same message. The unique constraint on
// message_id is the actual dedup guarantee; this is an optimization.
type Locker interface {
	TryLock(ctx context.Context, messageID string) (bool, error)
	Unlock(ctx context.Context, messageID string) error
}

// FanOut dispatches a freshly-ingested message to registered subscribers.
type FanOut interface {
	DeliverToSubscriptions(ctx context.Context, email *model.InboundEmail)
}

// Coordinator implements the ingest operations.
type Coordinator struct {
	store   Store
	objects ObjectStore
	locker  Locker
	fanout  FanOut
	logger  *slog.Logger
	metrics *observability.Metrics

	defaultBucket string
	defaultPrefix string
}

// New builds a Coordinator. defaultBucket/defaultPrefix are used to
// reconstruct an object-store key as {prefix}{messageId} when a push
// notification carries a message-id but no explicit object reference.
// locker and metrics may be nil.
func New(st Store, objects ObjectStore, locker Locker, fanout FanOut, logger *slog.Logger, metrics *observability.Metrics, defaultBucket, defaultPrefix string) *Coordinator {
	return &Coordinator{
		store:         st,
		objects:       objects,
		locker:        locker,
		fanout:        fanout,
		logger:        logger,
		metrics:       metrics,
		defaultBucket: defaultBucket,
		defaultPrefix: defaultPrefix,
	}
}

// AcceptPushNotification ingests one already-decoded upstream notification.
// Returns the existing row without reparsing or fanning out again if this
// message-id has already been ingested by any ingress path.
func (c *Coordinator) AcceptPushNotification(ctx context.Context, n Notification) (*model.InboundEmail, error) {
	messageID := normalizeMessageID(n.MessageID)

	if messageID != "" {
		existing, err := c.store.FindInboundByMessageId(ctx, messageID)
		if err != nil {
			return nil, fmt.Errorf("checking existing message: %w", err)
		}
		if existing != nil {
			c.recordAccepted("duplicate")
			return existing, nil
		}
	}

	release, acquired := c.acquireLock(ctx, messageID)
	if !acquired {
		// Another in-flight ingestion holds the lock; it will persist the
		// row momentarily. Treat this call as a duplicate, not an error.
		c.recordAccepted("duplicate")
		return nil, nil
	}
	if release != nil {
		defer release()
	}

	raw, err := c.fetchRaw(ctx, n)
	if err != nil {
		c.recordAccepted("malformed")
		return nil, fmt.Errorf("fetching message content: %w", err)
	}

	email, err := c.parseAndPersist(ctx, raw, messageID, n.Bucket, n.ObjectKey, n.Subject, n.Raw)
	if err != nil {
		return nil, err
	}
	c.recordAccepted("new")
	return email, nil
}

// AcceptObjectCreatedEvent ingests a batch of object-created records. Each
// record is handled independently; a failure on one does not abort the
// others (mirrored by the catch-up scheduler's per-key error handling).
func (c *Coordinator) AcceptObjectCreatedEvent(ctx context.Context, records []ObjectRecord) error {
	var firstErr error
	for _, rec := range records {
		if err := c.acceptOneObject(ctx, rec); err != nil {
			c.logger.Error("ingesting object-created record", "bucket", rec.Bucket, "key", rec.Key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Coordinator) acceptOneObject(ctx context.Context, rec ObjectRecord) error {
	bucket := rec.Bucket
	if bucket == "" {
		bucket = c.defaultBucket
	}

	if existing, err := c.store.FindInboundByObjectKey(ctx, rec.Key); err != nil {
		return fmt.Errorf("checking existing object key: %w", err)
	} else if existing != nil {
		return c.refresh(ctx, existing, bucket, rec.Key)
	}

	raw, err := c.objects.GetObject(ctx, bucket, rec.Key)
	if err != nil {
		c.recordAccepted("malformed")
		return fmt.Errorf("fetching object %s/%s: %w", bucket, rec.Key, err)
	}

	result, parseErr := mime.Parse(raw)
	var headerMessageID string
	if parseErr == nil {
		headerMessageID = normalizeMessageID(headerValue(result.RawHeaders, "Message-Id"))
	}

	if headerMessageID != "" {
		if existing, err := c.store.FindInboundByMessageId(ctx, headerMessageID); err != nil {
			return fmt.Errorf("checking existing message id: %w", err)
		} else if existing != nil {
			return c.refresh(ctx, existing, bucket, rec.Key)
		}
	}

	release, acquired := c.acquireLock(ctx, headerMessageID)
	if !acquired {
		c.recordAccepted("duplicate")
		return nil
	}
	if release != nil {
		defer release()
	}

	_, err = c.parseAndPersist(ctx, raw, headerMessageID, bucket, rec.Key, "", nil)
	if err != nil {
		return err
	}
	c.recordAccepted("new")
	return nil
}

// refresh re-parses an already-ingested message and updates its body and
// attachments in place, without touching its status or triggering fan-out.
func (c *Coordinator) refresh(ctx context.Context, existing *model.InboundEmail, bucket, key string) error {
	raw, err := c.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("re-fetching object %s/%s: %w", bucket, key, err)
	}
	result, err := mime.Parse(raw)
	if err != nil {
		c.recordAccepted("malformed")
		return fmt.Errorf("re-parsing object %s/%s: %w", bucket, key, err)
	}

	applyParseResult(existing, result)
	existing.SetRawContent(base64.StdEncoding.EncodeToString(raw))
	if err := c.store.UpdateInboundBody(ctx, existing); err != nil {
		return fmt.Errorf("updating refreshed body: %w", err)
	}
	c.recordAccepted("duplicate")
	return nil
}

// ReprocessInbound re-runs the parser against the stored raw MIME content
// (rawData.content) and updates bodyText/bodyHtml/attachments in place.
// Fan-out is never re-invoked.
func (c *Coordinator) ReprocessInbound(ctx context.Context, id uuid.UUID) (*model.InboundEmail, error) {
	email, err := c.store.GetInbound(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading inbound email: %w", err)
	}

	b64, ok := email.RawContent()
	if !ok {
		return nil, errors.New("inbound email has no stored raw content to reparse")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding stored raw content: %w", err)
	}

	result, err := mime.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("reparsing message: %w", err)
	}

	applyParseResult(email, result)
	if err := c.store.UpdateInboundBody(ctx, email); err != nil {
		return nil, fmt.Errorf("persisting reparsed body: %w", err)
	}
	return email, nil
}

func applyParseResult(email *model.InboundEmail, result *mime.Result) {
	email.BodyText = result.BodyText
	email.BodyHTML = result.BodyHTML
	email.Attachments = result.Attachments
}

func (c *Coordinator) parseAndPersist(ctx context.Context, raw []byte, messageID, bucket, objectKey, upstreamSubject string, rawNotification model.JSONMap) (*model.InboundEmail, error) {
	ctx, span := otel.Tracer("relayhook/ingest").Start(ctx, "ingest.parse")
	span.SetAttributes(attribute.Int("message.bytes", len(raw)))
	defer span.End()

	start := time.Now()
	result, parseErr := mime.Parse(raw)
	if c.metrics != nil {
		c.metrics.ParseDuration.Observe(time.Since(start).Seconds())
	}

	email := &model.InboundEmail{
		MessageID: messageID,
		ObjectKey: objectKey,
		RawData:   rawNotification,
	}
	if email.RawData == nil {
		email.RawData = model.JSONMap{}
	}
	email.SetRawContent(base64.StdEncoding.EncodeToString(raw))

	if parseErr != nil {
		email.Status = model.InboundStatusFailed
		email.Error = parseErr.Error()
		if c.metrics != nil {
			c.metrics.ParseFailuresTotal.WithLabelValues("ingest").Inc()
		}
		if _, err := c.insertOrFindExisting(ctx, email); err != nil {
			return nil, err
		}
		return email, nil
	}

	if result.Suspicious {
		c.logger.Warn("parsed body looks corrupted, skipped HTML synthesis; subscribers can fall back to rawContentBase64",
			"message_id", messageID, "object_key", objectKey)
	}

	email.Status = model.InboundStatusPending
	email.From = result.From
	email.To = result.To
	email.Subject = result.Subject
	email.BodyText = result.BodyText
	email.BodyHTML = result.BodyHTML
	email.Attachments = result.Attachments

	// Subject precedence: trust the upstream's own pre-decoded subject over
	// the locally parsed one when they disagree, to defend against charset
	// mismatches on the object-store path.
	if upstreamSubject != "" && upstreamSubject != email.Subject {
		email.Subject = upstreamSubject
	}

	lostRace, err := c.insertOrFindExisting(ctx, email)
	if err != nil {
		return nil, err
	}
	if lostRace {
		// A concurrent ingestion already won the insert race and presumably
		// already fanned out; nothing further to do.
		return email, nil
	}

	now := time.Now().UTC()
	if err := c.store.UpdateInboundStatus(ctx, email.ID, model.InboundStatusProcessed, &now, ""); err != nil {
		c.logger.Error("marking inbound processed", "id", email.ID, "error", err)
	} else {
		email.Status = model.InboundStatusProcessed
		email.ProcessedAt = &now
	}

	if c.fanout != nil {
		c.fanout.DeliverToSubscriptions(ctx, email)
	}
	return email, nil
}

// insertOrFindExisting inserts email, or on a unique-constraint loss (a
// concurrent ingestion won the race for the same message-id), replaces
// *email with the row the winner persisted and reports lostRace=true.
func (c *Coordinator) insertOrFindExisting(ctx context.Context, email *model.InboundEmail) (lostRace bool, err error) {
	insErr := c.store.InsertInboundEmail(ctx, email)
	if insErr == nil {
		return false, nil
	}
	if !errors.Is(insErr, store.ErrDuplicateMessageID) {
		return false, fmt.Errorf("persisting inbound email: %w", insErr)
	}
	existing, findErr := c.store.FindInboundByMessageId(ctx, email.MessageID)
	if findErr != nil || existing == nil {
		return false, fmt.Errorf("persisting inbound email: %w", insErr)
	}
	*email = *existing
	return true, nil
}

func (c *Coordinator) fetchRaw(ctx context.Context, n Notification) ([]byte, error) {
	if n.ContentBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(n.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("decoding inline message content: %w", err)
		}
		return raw, nil
	}

	bucket := n.Bucket
	if bucket == "" {
		bucket = c.defaultBucket
	}
	key := n.ObjectKey
	if key == "" {
		messageID := normalizeMessageID(n.MessageID)
		if messageID == "" {
			return nil, errors.New("notification carries no inline content, object reference, or message id")
		}
		key = c.defaultPrefix + messageID
	}
	return c.objects.GetObject(ctx, bucket, key)
}

// acquireLock acquires the ingestion lock for messageID, if a locker is
// configured and messageID is non-empty. It returns acquired=true whenever
// the caller should proceed (no locker, empty message-id, or lock granted).
func (c *Coordinator) acquireLock(ctx context.Context, messageID string) (release func(), acquired bool) {
	if c.locker == nil || messageID == "" {
		return nil, true
	}
	ok, err := c.locker.TryLock(ctx, messageID)
	if err != nil {
		c.logger.Warn("ingestion lock unavailable, proceeding without it", "message_id", messageID, "error", err)
		return nil, true
	}
	if !ok {
		return nil, false
	}
	return func() { _ = c.locker.Unlock(context.WithoutCancel(ctx), messageID) }, true
}

func (c *Coordinator) recordAccepted(outcome string) {
	if c.metrics != nil {
		c.metrics.IngestAcceptedTotal.WithLabelValues(outcome).Inc()
	}
}

func headerValue(headers []mime.HeaderField, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
