package ingest

import (
	"strings"

	"github.com/relayhook/relayhook/internal/model"
)

// Notification is the canonical, already-decoded form of an upstream
// SES-style notification. The ingress adapter is responsible for resolving
// whichever of the raw wire shapes it received (wrapped, raw-delivery, or a
// bare push) into this single typed variant before handing it to Accept,
// so the coordinator never touches untyped JSON.
type Notification struct {
	// MessageID is the upstream mail.messageId, not yet normalized.
	MessageID string
	// Subject is the upstream's own pre-decoded subject
	// (mail.commonHeaders.subject), if it supplied one.
	Subject string
	// Bucket/ObjectKey reference the raw MIME blob in object storage. Either
	// may be empty if the notification carried the message inline instead.
	Bucket    string
	ObjectKey string
	// ContentBase64 is the raw MIME message, base64-encoded, when the
	// upstream delivered it inline rather than by object-store reference.
	ContentBase64 string
	// Raw is the verbatim decoded notification body, stored into
	// InboundEmail.RawData so operators can inspect exactly what arrived.
	Raw model.JSONMap
}

// ObjectRecord references one object-store entry, the unit AcceptObjectCreatedEvent
// and the catch-up scheduler both operate on.
type ObjectRecord struct {
	Bucket string
	Key    string
}

// normalizeMessageID strips angle brackets and surrounding whitespace, the
// canonical form used for dedup lookups and the outgoing payload.
func normalizeMessageID(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}
