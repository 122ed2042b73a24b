package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test structs matching the request DTO validate tags used across the
// ingress and confirmation handlers.

type testConfirmationRequest struct {
	InboundEmailID string `validate:"required,uuid"`
	Status         string `validate:"required,oneof=delivered failed"`
}

type testManualReplayRequest struct {
	Bucket string `validate:"required"`
	Key    string `validate:"required"`
}

type testSubscriptionRequest struct {
	ServiceName string   `validate:"required"`
	WebhookURL  string   `validate:"required,url"`
	ToFilters   []string `validate:"omitempty,min=1"`
}

func TestValidate(t *testing.T) {
	t.Run("valid confirmation passes", func(t *testing.T) {
		req := testConfirmationRequest{
			InboundEmailID: "0d7fdbcd-6f70-4b35-a600-1c9ad6d18c92",
			Status:         "delivered",
		}
		err := Validate(req)
		assert.NoError(t, err)
	})

	t.Run("missing required fields", func(t *testing.T) {
		req := testConfirmationRequest{}
		err := Validate(req)
		assert.Error(t, err)
	})

	t.Run("non-uuid inbound id", func(t *testing.T) {
		req := testConfirmationRequest{
			InboundEmailID: "not-a-uuid",
			Status:         "delivered",
		}
		err := Validate(req)
		assert.Error(t, err)
	})

	t.Run("status outside the allowed set", func(t *testing.T) {
		req := testConfirmationRequest{
			InboundEmailID: "0d7fdbcd-6f70-4b35-a600-1c9ad6d18c92",
			Status:         "sent",
		}
		err := Validate(req)
		assert.Error(t, err)
	})

	t.Run("valid manual replay", func(t *testing.T) {
		req := testManualReplayRequest{Bucket: "inbound-mail", Key: "inbox/abc"}
		err := Validate(req)
		assert.NoError(t, err)
	})

	t.Run("manual replay without key", func(t *testing.T) {
		req := testManualReplayRequest{Bucket: "inbound-mail"}
		err := Validate(req)
		assert.Error(t, err)
	})

	t.Run("valid subscription", func(t *testing.T) {
		req := testSubscriptionRequest{
			ServiceName: "ticketing",
			WebhookURL:  "https://hooks.example.com/api/email/webhook",
			ToFilters:   []string{"*@example.com"},
		}
		err := Validate(req)
		assert.NoError(t, err)
	})

	t.Run("subscription with invalid URL", func(t *testing.T) {
		req := testSubscriptionRequest{
			ServiceName: "ticketing",
			WebhookURL:  "not-a-url",
		}
		err := Validate(req)
		assert.Error(t, err)
	})

	t.Run("multiple validation errors", func(t *testing.T) {
		req := testConfirmationRequest{
			InboundEmailID: "bad-id",
			Status:         "bogus",
		}
		err := Validate(req)
		require.Error(t, err)

		errors := ValidationErrors(err)
		assert.NotEmpty(t, errors)
		assert.Contains(t, errors, "InboundEmailID")
		assert.Contains(t, errors, "Status")
	})
}

func TestValidationErrors(t *testing.T) {
	t.Run("extracts field to tag mapping", func(t *testing.T) {
		req := testConfirmationRequest{}
		err := Validate(req)
		require.Error(t, err)

		errors := ValidationErrors(err)
		assert.Equal(t, "required", errors["InboundEmailID"])
		assert.Equal(t, "required", errors["Status"])
	})

	t.Run("returns empty map for non-validation errors", func(t *testing.T) {
		errors := ValidationErrors(assert.AnError)
		assert.Empty(t, errors)
	})

	t.Run("oneof tag appears for unsupported status", func(t *testing.T) {
		req := testConfirmationRequest{
			InboundEmailID: "0d7fdbcd-6f70-4b35-a600-1c9ad6d18c92",
			Status:         "queued",
		}
		err := Validate(req)
		require.Error(t, err)

		errors := ValidationErrors(err)
		assert.Equal(t, "oneof", errors["Status"])
	})

	t.Run("nil error returns empty map", func(t *testing.T) {
		errors := ValidationErrors(nil)
		assert.Empty(t, errors)
	})
}
