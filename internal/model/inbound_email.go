package model

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// InboundStatus is the lifecycle state of an InboundEmail.
type InboundStatus string

const (
	InboundStatusPending   InboundStatus = "pending"
	InboundStatusProcessed InboundStatus = "processed"
	InboundStatusFailed    InboundStatus = "failed"
)

// Attachment is one extracted MIME part flagged as an attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	// Content is either the verbatim on-wire base64 text (when RawBase64 is
	// true) or raw decoded bytes captured via a byte-preserving transfer
	// encoding (when RawBase64 is false).
	Content   []byte
	RawBase64 bool
}

// ContentBase64 renders Content ready for JSON embedding: verbatim if it is
// already base64 text on the wire, base64-encoded otherwise.
func (a Attachment) ContentBase64() string {
	if a.RawBase64 {
		return string(a.Content)
	}
	return base64.StdEncoding.EncodeToString(a.Content)
}

// AttachmentJSON is the wire-friendly view of an Attachment.
type AttachmentJSON struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Content     string `json:"content"`
}

// InboundEmail is one logical received message.
type InboundEmail struct {
	ID uuid.UUID `json:"id" db:"id"`

	From        string       `json:"from" db:"from_address"`
	To          string       `json:"to" db:"to_address"`
	Subject     string       `json:"subject" db:"subject"`
	BodyText    string       `json:"bodyText" db:"body_text"`
	BodyHTML    string       `json:"bodyHtml" db:"body_html"`
	Attachments []Attachment `json:"-" db:"-"`

	ReceivedAt  time.Time     `json:"receivedAt" db:"received_at"`
	Status      InboundStatus `json:"status" db:"status"`
	ProcessedAt *time.Time    `json:"processedAt,omitempty" db:"processed_at"`
	Error       string        `json:"error,omitempty" db:"error"`

	// RawData is the upstream notification/envelope exactly as received,
	// including an optional base64-encoded full MIME blob under "content".
	RawData JSONMap `json:"rawData" db:"raw_data"`

	// MessageID is the normalized (angle brackets stripped, trimmed)
	// message-id extracted from RawData.mail.messageId. Empty when the
	// upstream notification carried none.
	MessageID string `json:"messageId" db:"message_id"`

	// ObjectKey is the object-store key this message was sourced from, if
	// any. Empty for inline/push-notification-only ingestion.
	ObjectKey string `json:"objectKey,omitempty" db:"object_key"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// RawContent returns the base64 full-MIME blob embedded in RawData, if any.
func (e *InboundEmail) RawContent() (string, bool) {
	if e.RawData == nil {
		return "", false
	}
	v, ok := e.RawData["content"].(string)
	return v, ok && v != ""
}

// SetRawContent stores the base64 full-MIME blob on RawData.
func (e *InboundEmail) SetRawContent(b64 string) {
	if e.RawData == nil {
		e.RawData = JSONMap{}
	}
	e.RawData["content"] = b64
}

func (e *InboundEmail) AttachmentsJSON() []AttachmentJSON {
	out := make([]AttachmentJSON, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		out = append(out, AttachmentJSON{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			Content:     a.ContentBase64(),
		})
	}
	return out
}
