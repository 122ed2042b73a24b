package fanout

import (
	"time"

	"github.com/google/uuid"

	"github.com/relayhook/relayhook/internal/model"
)

// maxRawContentBytes is the base64 length above which rawContentBase64 is
// dropped from the outgoing payload to keep the whole body under ~4 MiB.
const maxRawContentBytes = 3 * 1024 * 1024

// buildPayload assembles the envelope POSTed to subscriptionID. Attachments
// are always included in full; only the optional full-MIME blob is capped.
func buildPayload(email *model.InboundEmail, subscriptionID uuid.UUID) map[string]any {
	data := map[string]any{
		"id":             email.ID.String(),
		"subscriptionId": subscriptionID.String(),
		"from":           email.From,
		"to":             email.To,
		"subject":        email.Subject,
		"bodyText":       email.BodyText,
		"bodyHtml":       nullableString(email.BodyHTML),
		"attachments":    email.AttachmentsJSON(),
		"receivedAt":     email.ReceivedAt.Format(time.RFC3339),
		"messageId":      email.MessageID,
	}

	if raw, ok := email.RawContent(); ok && len(raw) <= maxRawContentBytes {
		data["rawContentBase64"] = raw
	}

	return map[string]any{
		"event":     "email.received",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
