//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhook/relayhook/internal/model"
	"github.com/relayhook/relayhook/internal/testutil"
)

func TestSaveSubscription_InsertsThenUpdatesInPlace(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	st := New(testPool)

	sub := testutil.NewTestWebhookSubscription("https://hooks.example.com/api/email/webhook")
	require.NoError(t, st.SaveSubscription(ctx, sub))
	assert.NotEqual(t, uuid.Nil, sub.ID)

	sub.TotalDeliveries++
	sub.RetryCount = 2
	require.NoError(t, st.SaveSubscription(ctx, sub))

	got, err := st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalDeliveries)
	assert.Equal(t, 2, got.RetryCount)
}

func TestListActiveSubscriptions_ExcludesSuspended(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	st := New(testPool)

	active := testutil.NewTestWebhookSubscription("https://a.example.com/api/email/webhook")
	require.NoError(t, st.SaveSubscription(ctx, active))

	suspended := testutil.NewTestWebhookSubscription("https://b.example.com/api/email/webhook")
	suspended.Status = model.SubscriptionStatusSuspended
	require.NoError(t, st.SaveSubscription(ctx, suspended))

	actives, err := st.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, active.ID, actives[0].ID)

	suspendeds, err := st.ListSuspendedSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, suspendeds, 1)
	assert.Equal(t, suspended.ID, suspendeds[0].ID)
}

func TestInsertDelivery_ThenFindAndConfirm(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	st := New(testPool)

	email := testutil.NewTestInboundEmail()
	email.ID = uuid.Nil
	require.NoError(t, st.InsertInboundEmail(ctx, email))

	sub := testutil.NewTestWebhookSubscription("https://hooks.example.com/api/email/webhook")
	require.NoError(t, st.SaveSubscription(ctx, sub))

	delivery := testutil.NewTestWebhookDelivery(email.ID, sub.ID)
	delivery.ID = uuid.Nil
	require.NoError(t, st.InsertDelivery(ctx, delivery))

	found, err := st.FindDelivery(ctx, email.ID, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, model.DeliveryStatusSent, found.Status)

	latest, err := st.FindLatestDeliveryForInbound(ctx, email.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, found.ID, latest.ID)

	now := fixedTime
	found.Status = model.DeliveryStatusDelivered
	found.DeliveredAt = &now
	require.NoError(t, st.UpdateDeliveryStatus(ctx, found))

	confirmed, err := st.FindDelivery(ctx, email.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, confirmed.Status)
}

func TestListInboundNotConfirmedForSubscription_OnlyReturnsSentRows(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	st := New(testPool)

	email := testutil.NewTestInboundEmail()
	email.ID = uuid.Nil
	require.NoError(t, st.InsertInboundEmail(ctx, email))

	sub := testutil.NewTestWebhookSubscription("https://hooks.example.com/api/email/webhook")
	require.NoError(t, st.SaveSubscription(ctx, sub))

	sent := testutil.NewTestWebhookDelivery(email.ID, sub.ID)
	sent.ID = uuid.Nil
	require.NoError(t, st.InsertDelivery(ctx, sent))

	unconfirmed, err := st.ListInboundNotConfirmedForSubscription(ctx, sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, unconfirmed, 1)
	assert.Equal(t, sent.ID, unconfirmed[0].ID)
}
