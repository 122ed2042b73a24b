package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope_SubscriptionConfirmation(t *testing.T) {
	body := []byte(`{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.example/confirm?token=abc","Token":"abc"}`)
	env, err := ParseEnvelope(body, false)
	require.NoError(t, err)
	assert.Equal(t, KindSubscriptionConfirmation, env.Kind)
	assert.Equal(t, "https://sns.example/confirm?token=abc", env.SubscribeURL)
}

func TestParseEnvelope_WrappedNotification(t *testing.T) {
	inner := `{"mail":{"messageId":"<abc-123@mail>","commonHeaders":{"subject":"Hello"}},"receipt":{"action":{"bucketName":"bkt","objectKey":"inbox/abc"}}}`
	body := []byte(`{"Type":"Notification","Message":` + quoted(inner) + `}`)
	env, err := ParseEnvelope(body, false)
	require.NoError(t, err)
	assert.Equal(t, KindPushNotification, env.Kind)
	assert.Equal(t, "<abc-123@mail>", env.Notification.MessageID)
	assert.Equal(t, "Hello", env.Notification.Subject)
	assert.Equal(t, "bkt", env.Notification.Bucket)
	assert.Equal(t, "inbox/abc", env.Notification.ObjectKey)
}

func TestParseEnvelope_RawDelivery(t *testing.T) {
	body := []byte(`{"mail":{"messageId":"abc-123"},"receipt":{"action":{"objectKey":"inbox/abc"}}}`)
	env, err := ParseEnvelope(body, true)
	require.NoError(t, err)
	assert.Equal(t, KindPushNotification, env.Kind)
	assert.Equal(t, "abc-123", env.Notification.MessageID)
}

func TestParseEnvelope_RawDeliveryFallbackWithoutHeader(t *testing.T) {
	body := []byte(`{"mail":{"messageId":"abc-123"}}`)
	env, err := ParseEnvelope(body, false)
	require.NoError(t, err)
	assert.Equal(t, KindPushNotification, env.Kind)
}

func TestParseEnvelope_ObjectCreatedEvent(t *testing.T) {
	body := []byte(`{"Records":[{"s3":{"bucket":{"name":"bkt"},"object":{"key":"inbox%2Fabc"}}}]}`)
	env, err := ParseEnvelope(body, false)
	require.NoError(t, err)
	assert.Equal(t, KindObjectCreatedEvent, env.Kind)
	require.Len(t, env.ObjectRecords, 1)
	assert.Equal(t, "bkt", env.ObjectRecords[0].Bucket)
	assert.Equal(t, "inbox/abc", env.ObjectRecords[0].Key)
}

func TestParseEnvelope_ManualReplay(t *testing.T) {
	body := []byte(`{"bucket":"bkt","key":"inbox/abc"}`)
	env, err := ParseEnvelope(body, false)
	require.NoError(t, err)
	assert.Equal(t, KindManualReplay, env.Kind)
	require.Len(t, env.ObjectRecords, 1)
	assert.Equal(t, "bkt", env.ObjectRecords[0].Bucket)
	assert.Equal(t, "inbox/abc", env.ObjectRecords[0].Key)
}

func TestParseEnvelope_Unrecognized(t *testing.T) {
	body := []byte(`{"foo":"bar"}`)
	env, err := ParseEnvelope(body, false)
	require.NoError(t, err)
	assert.Equal(t, KindUnrecognized, env.Kind)
}

func TestParseEnvelope_MalformedJSON(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`), false)
	assert.Error(t, err)
}

// quoted renders s as a JSON string literal, for embedding a nested JSON
// document as the "Message" field of an SNS-style envelope in a test fixture.
func quoted(s string) string {
	b := []byte{'"'}
	for _, r := range s {
		if r == '"' {
			b = append(b, '\\', '"')
		} else {
			b = append(b, byte(r))
		}
	}
	b = append(b, '"')
	return string(b)
}
