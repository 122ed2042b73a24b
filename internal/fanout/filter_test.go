package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relayhook/relayhook/internal/model"
)

func TestMatches_ToWildcard(t *testing.T) {
	email := &model.InboundEmail{To: "support@acme.com", From: "client@other.com", Subject: "Hello"}

	assert.True(t, matches(email, model.SubscriptionFilters{To: []string{"*@acme.com"}}))
	assert.False(t, matches(email, model.SubscriptionFilters{To: []string{"*@other.com"}}))
}

func TestMatches_FromLiteral(t *testing.T) {
	email := &model.InboundEmail{To: "support@acme.com", From: "client@other.com"}

	assert.True(t, matches(email, model.SubscriptionFilters{From: []string{"client@other.com"}}))
	assert.False(t, matches(email, model.SubscriptionFilters{From: []string{"someone@other.com"}}))
}

func TestMatches_SubjectPattern(t *testing.T) {
	email := &model.InboundEmail{Subject: "Re: Invoice #42"}

	assert.True(t, matches(email, model.SubscriptionFilters{SubjectPattern: "invoice"}))
	assert.False(t, matches(email, model.SubscriptionFilters{SubjectPattern: "refund"}))
}

func TestMatches_InvalidSubjectPatternIsNonMatch(t *testing.T) {
	email := &model.InboundEmail{Subject: "anything"}
	assert.False(t, matches(email, model.SubscriptionFilters{SubjectPattern: "(unclosed"}))
}

func TestMatches_EmptyFiltersMatchEverything(t *testing.T) {
	email := &model.InboundEmail{To: "a@b.com", From: "c@d.com", Subject: "x"}
	assert.True(t, matches(email, model.SubscriptionFilters{}))
}

func TestDeriveHealthURL(t *testing.T) {
	cases := []struct {
		in      string
		wantURL string
		wantOK  bool
	}{
		{"https://example.com/api/email/webhook", "https://example.com/health", true},
		{"https://example.com/helpdesk/api/email/inbound", "https://example.com/helpdesk/health", true},
		{"https://example.com/hooks/custom", "", false},
	}
	for _, tc := range cases {
		got, ok := deriveHealthURL(tc.in)
		assert.Equal(t, tc.wantOK, ok, tc.in)
		if tc.wantOK {
			assert.Equal(t, tc.wantURL, got, tc.in)
		}
	}
}
