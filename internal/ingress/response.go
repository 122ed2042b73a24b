package ingress

import (
	"time"

	"github.com/google/uuid"

	"github.com/relayhook/relayhook/internal/model"
)

// InboundEmailResponse is the API-facing view of one InboundEmail. It omits
// rawData deliberately: that field carries the full embedded MIME blob and
// upstream envelope, which is storage detail, not API surface.
type InboundEmailResponse struct {
	ID          uuid.UUID              `json:"id"`
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	Subject     string                 `json:"subject"`
	BodyText    string                 `json:"bodyText,omitempty"`
	BodyHTML    string                 `json:"bodyHtml,omitempty"`
	Attachments []model.AttachmentJSON `json:"attachments,omitempty"`
	ReceivedAt  time.Time              `json:"receivedAt"`
	Status      model.InboundStatus    `json:"status"`
	ProcessedAt *time.Time             `json:"processedAt,omitempty"`
	Error       string                 `json:"error,omitempty"`
	MessageID   string                 `json:"messageId,omitempty"`
	ObjectKey   string                 `json:"objectKey,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

func newInboundEmailResponse(e *model.InboundEmail) InboundEmailResponse {
	return InboundEmailResponse{
		ID:          e.ID,
		From:        e.From,
		To:          e.To,
		Subject:     e.Subject,
		BodyText:    e.BodyText,
		BodyHTML:    e.BodyHTML,
		Attachments: e.AttachmentsJSON(),
		ReceivedAt:  e.ReceivedAt,
		Status:      e.Status,
		ProcessedAt: e.ProcessedAt,
		Error:       e.Error,
		MessageID:   e.MessageID,
		ObjectKey:   e.ObjectKey,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// inboundEmailListItem is the trimmed view returned when listOnly is set:
// identity, subject, and delivery status without bodies or attachments.
type inboundEmailListItem struct {
	ID         uuid.UUID           `json:"id"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Subject    string              `json:"subject"`
	MessageID  string              `json:"messageId,omitempty"`
	Status     model.InboundStatus `json:"status"`
	ReceivedAt time.Time           `json:"receivedAt"`
}

func newInboundEmailListItem(e *model.InboundEmail) inboundEmailListItem {
	return inboundEmailListItem{
		ID:         e.ID,
		From:       e.From,
		To:         e.To,
		Subject:    e.Subject,
		MessageID:  e.MessageID,
		Status:     e.Status,
		ReceivedAt: e.ReceivedAt,
	}
}

func listPayload(emails []model.InboundEmail, listOnly bool) []interface{} {
	out := make([]interface{}, 0, len(emails))
	for i := range emails {
		if listOnly {
			out = append(out, newInboundEmailListItem(&emails[i]))
		} else {
			out = append(out, newInboundEmailResponse(&emails[i]))
		}
	}
	return out
}
