package ingress

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhook/relayhook/internal/ingest"
	"github.com/relayhook/relayhook/internal/model"
	"github.com/relayhook/relayhook/internal/objectstore"
	"github.com/relayhook/relayhook/internal/store"
	"github.com/relayhook/relayhook/internal/testutil"
)

type fakeIngestor struct {
	acceptedNotification ingest.Notification
	returnEmail          *model.InboundEmail
	returnErr            error
	acceptedRecords      []ingest.ObjectRecord
	reprocessEmail       *model.InboundEmail
	reprocessErr         error
}

func (f *fakeIngestor) AcceptPushNotification(_ context.Context, n ingest.Notification) (*model.InboundEmail, error) {
	f.acceptedNotification = n
	return f.returnEmail, f.returnErr
}

func (f *fakeIngestor) AcceptObjectCreatedEvent(_ context.Context, records []ingest.ObjectRecord) error {
	f.acceptedRecords = records
	return nil
}

func (f *fakeIngestor) ReprocessInbound(_ context.Context, _ uuid.UUID) (*model.InboundEmail, error) {
	return f.reprocessEmail, f.reprocessErr
}

type fakeStore struct {
	email         *model.InboundEmail
	getErr        error
	listEmails    []model.InboundEmail
	listTotal     int
	listErr       error
	subscriptions []model.WebhookSubscription
	undelivered   map[uuid.UUID][]model.WebhookDelivery
	processedKeys map[string]struct{}
}

func (f *fakeStore) GetInbound(_ context.Context, _ uuid.UUID) (*model.InboundEmail, error) {
	return f.email, f.getErr
}

func (f *fakeStore) ListInbound(_ context.Context, _ store.ListInboundOptions) ([]model.InboundEmail, int, error) {
	return f.listEmails, f.listTotal, f.listErr
}

func (f *fakeStore) ListActiveSubscriptions(_ context.Context) ([]model.WebhookSubscription, error) {
	return f.subscriptions, nil
}

func (f *fakeStore) ListInboundNotConfirmedForSubscription(_ context.Context, subID uuid.UUID, _ int) ([]model.WebhookDelivery, error) {
	return f.undelivered[subID], nil
}

func (f *fakeStore) ProcessedObjectKeys(_ context.Context) (map[string]struct{}, error) {
	return f.processedKeys, nil
}

type fakeObjectLister struct {
	objects []objectstore.Object
}

func (f *fakeObjectLister) ListObjects(_ context.Context, _ string, _ int, _ int) ([]objectstore.Object, error) {
	return f.objects, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLegacyInbound_AlwaysIgnored(t *testing.T) {
	h := New(&fakeIngestor{}, &fakeStore{}, &fakeObjectLister{}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/email/inbound", nil)
	rec := httptest.NewRecorder()
	h.LegacyInbound(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored"`)
}

func TestInbound_MalformedBodyReturns400(t *testing.T) {
	h := New(&fakeIngestor{}, &fakeStore{}, &fakeObjectLister{}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/s3", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.Inbound(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInbound_UnrecognizedShapeReturns200(t *testing.T) {
	h := New(&fakeIngestor{}, &fakeStore{}, &fakeObjectLister{}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/s3", strings.NewReader(`{"foo":"bar"}`))
	rec := httptest.NewRecorder()
	h.Inbound(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestInbound_PushNotificationDispatches(t *testing.T) {
	email := &model.InboundEmail{ID: uuid.New()}
	ingestor := &fakeIngestor{returnEmail: email}
	h := New(ingestor, &fakeStore{}, &fakeObjectLister{}, testLogger())

	body := `{"mail":{"messageId":"abc"},"receipt":{"action":{"objectKey":"inbox/abc"}}}`
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/s3", strings.NewReader(body))
	req.Header.Set("X-Amz-Sns-Rawdelivery", "true")
	rec := httptest.NewRecorder()
	h.Inbound(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", ingestor.acceptedNotification.MessageID)
	assert.Contains(t, rec.Body.String(), email.ID.String())
}

func TestInbound_ObjectCreatedEventDispatches(t *testing.T) {
	ingestor := &fakeIngestor{}
	h := New(ingestor, &fakeStore{}, &fakeObjectLister{}, testLogger())

	body := `{"Records":[{"s3":{"bucket":{"name":"bkt"},"object":{"key":"inbox/abc"}}}]}`
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/s3", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Inbound(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ingestor.acceptedRecords, 1)
	assert.Equal(t, "inbox/abc", ingestor.acceptedRecords[0].Key)
}

func TestGet_NotFoundMapsTo404(t *testing.T) {
	h := New(&fakeIngestor{}, &fakeStore{getErr: store.ErrNotFound}, &fakeObjectLister{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/email/inbound/"+uuid.New().String(), nil)
	req = testutil.WithURLParam(req, "id", uuid.New().String())
	rec := httptest.NewRecorder()

	h.Get(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGet_InvalidIDReturns400(t *testing.T) {
	h := New(&fakeIngestor{}, &fakeStore{}, &fakeObjectLister{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/email/inbound/not-a-uuid", nil)
	req = testutil.WithURLParam(req, "id", "not-a-uuid")
	rec := httptest.NewRecorder()

	h.Get(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUndelivered_FiltersToHelpdeskRole(t *testing.T) {
	helpdeskSub := model.WebhookSubscription{ID: uuid.New(), Filters: model.SubscriptionFilters{Role: "helpdesk"}}
	otherSub := model.WebhookSubscription{ID: uuid.New()}
	delivery := model.WebhookDelivery{ID: uuid.New(), SubscriptionID: helpdeskSub.ID}

	st := &fakeStore{
		subscriptions: []model.WebhookSubscription{helpdeskSub, otherSub},
		undelivered: map[uuid.UUID][]model.WebhookDelivery{
			helpdeskSub.ID: {delivery},
			otherSub.ID:    {{ID: uuid.New()}},
		},
	}
	h := New(&fakeIngestor{}, st, &fakeObjectLister{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/email/inbound/undelivered", nil)
	rec := httptest.NewRecorder()
	h.Undelivered(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), delivery.ID.String())
}

func TestUndelivered_FallsBackToAllActiveWhenNoHelpdeskTag(t *testing.T) {
	sub := model.WebhookSubscription{ID: uuid.New()}
	delivery := model.WebhookDelivery{ID: uuid.New(), SubscriptionID: sub.ID}
	st := &fakeStore{
		subscriptions: []model.WebhookSubscription{sub},
		undelivered:   map[uuid.UUID][]model.WebhookDelivery{sub.ID: {delivery}},
	}
	h := New(&fakeIngestor{}, st, &fakeObjectLister{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/email/inbound/undelivered", nil)
	rec := httptest.NewRecorder()
	h.Undelivered(rec, req)

	assert.Contains(t, rec.Body.String(), delivery.ID.String())
}

func TestS3Unprocessed_DiffsAgainstProcessedKeys(t *testing.T) {
	st := &fakeStore{processedKeys: map[string]struct{}{"inbox/b": {}}}
	objects := &fakeObjectLister{objects: []objectstore.Object{{Key: "inbox/a"}, {Key: "inbox/b"}}}
	h := New(&fakeIngestor{}, st, objects, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/email/inbound/s3-unprocessed", nil)
	rec := httptest.NewRecorder()
	h.S3Unprocessed(rec, req)

	assert.Contains(t, rec.Body.String(), "inbox/a")
	assert.NotContains(t, rec.Body.String(), "inbox/b")
}

func TestReparse_DelegatesToIngestor(t *testing.T) {
	email := &model.InboundEmail{ID: uuid.New()}
	ingestor := &fakeIngestor{reprocessEmail: email}
	h := New(ingestor, &fakeStore{}, &fakeObjectLister{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/email/inbound/"+email.ID.String()+"/reparse", nil)
	req = testutil.WithURLParam(req, "id", email.ID.String())
	rec := httptest.NewRecorder()

	h.Reparse(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), email.ID.String())
}
