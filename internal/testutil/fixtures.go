package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/relayhook/relayhook/internal/model"
)

var (
	FixedTime = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
)

// NewTestInboundEmail builds a processed InboundEmail with a single
// attachment, ready to insert into a fake store or assert against.
func NewTestInboundEmail() *model.InboundEmail {
	return &model.InboundEmail{
		ID:          uuid.New(),
		From:        "sender@example.com",
		To:          "support@example.com",
		Subject:     "Test Subject",
		BodyText:    "Hello there",
		BodyHTML:    "<p>Hello there</p>",
		Attachments: []model.Attachment{NewTestAttachment()},
		ReceivedAt:  FixedTime,
		Status:      model.InboundStatusProcessed,
		RawData:     model.JSONMap{"mail": map[string]interface{}{"messageId": "test-message-id"}},
		MessageID:   "test-message-id",
		CreatedAt:   FixedTime,
		UpdatedAt:   FixedTime,
	}
}

// NewTestAttachment builds one decoded-bytes attachment.
func NewTestAttachment() model.Attachment {
	return model.Attachment{
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.4 test content"),
		Size:        21,
	}
}

// NewTestWebhookSubscription builds an active subscription matching the
// given recipient address.
func NewTestWebhookSubscription(webhookURL string) *model.WebhookSubscription {
	sub := model.NewWebhookSubscription("ticketing-service", webhookURL, model.SubscriptionFilters{
		To: []string{"support@example.com"},
	})
	sub.CreatedAt, sub.UpdatedAt = FixedTime, FixedTime
	return sub
}

// NewTestWebhookDelivery builds a "sent" delivery row for (inboundID, subID).
func NewTestWebhookDelivery(inboundID, subID uuid.UUID) *model.WebhookDelivery {
	return &model.WebhookDelivery{
		ID:             uuid.New(),
		InboundEmailID: inboundID,
		SubscriptionID: subID,
		Status:         model.DeliveryStatusSent,
		HTTPStatus:     200,
		CreatedAt:      FixedTime,
	}
}

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int { return &i }
