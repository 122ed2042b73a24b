package fanout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhook/relayhook/internal/model"
)

func TestSweepSuspended_ResumesAfterGraceAndHealthyProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lastErrorAt := time.Now().Add(-2 * time.Hour)
	sub := model.NewWebhookSubscription("acme", srv.URL, model.SubscriptionFilters{})
	sub.Status = model.SubscriptionStatusSuspended
	sub.RetryCount = 3
	sub.LastError = "boom"
	sub.LastErrorAt = &lastErrorAt

	st := &fakeSubStore{suspended: []model.WebhookSubscription{*sub}}
	e := New(st, nil, nil, testLogger(), nil)
	e.sweepSuspended(context.Background())

	require.Len(t, st.saved, 1)
	assert.Equal(t, model.SubscriptionStatusActive, st.saved[0].Status)
}

func TestSweepSuspended_SkipsWithinGrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lastErrorAt := time.Now().Add(-5 * time.Minute)
	sub := model.NewWebhookSubscription("acme", srv.URL, model.SubscriptionFilters{})
	sub.Status = model.SubscriptionStatusSuspended
	sub.LastErrorAt = &lastErrorAt

	st := &fakeSubStore{suspended: []model.WebhookSubscription{*sub}}
	e := New(st, nil, nil, testLogger(), nil)
	e.sweepSuspended(context.Background())

	assert.Empty(t, st.saved, "a subscription within the grace period must not be probed yet")
}

func TestTryResume_StaysSuspendedOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sub := model.NewWebhookSubscription("acme", srv.URL, model.SubscriptionFilters{})
	sub.Status = model.SubscriptionStatusSuspended

	st := &fakeSubStore{}
	e := New(st, nil, nil, testLogger(), nil)
	e.tryResume(context.Background(), sub)

	assert.Empty(t, st.saved)
	assert.Equal(t, model.SubscriptionStatusSuspended, sub.Status)
}

func TestTryResume_ReactivatesOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := model.NewWebhookSubscription("acme", srv.URL, model.SubscriptionFilters{})
	sub.Status = model.SubscriptionStatusSuspended
	sub.RetryCount = 4

	st := &fakeSubStore{}
	e := New(st, nil, nil, testLogger(), nil)
	e.tryResume(context.Background(), sub)

	require.Len(t, st.saved, 1)
	assert.Equal(t, model.SubscriptionStatusActive, st.saved[0].Status)
	assert.Equal(t, 0, st.saved[0].RetryCount)
}
