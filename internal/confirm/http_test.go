package confirm

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHandlerConfirm_ByIdsSuccess(t *testing.T) {
	st := newFakeDeliveryStore()
	inboundID, subID := uuid.New(), uuid.New()
	st.byPair[[2]uuid.UUID{inboundID, subID}] = sentDelivery(inboundID, subID)

	h := NewHandler(New(st))
	body := `{"inboundEmailId":"` + inboundID.String() + `","subscriptionId":"` + subID.String() + `","status":"delivered","ticketId":"T-1"}`
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/delivery-confirmation", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "T-1")
}

func TestHandlerConfirm_ByInboundIdOnly(t *testing.T) {
	st := newFakeDeliveryStore()
	inboundID := uuid.New()
	st.byInbound[inboundID] = sentDelivery(inboundID, uuid.New())

	h := NewHandler(New(st))
	body := `{"inboundEmailId":"` + inboundID.String() + `","status":"delivered"}`
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/delivery-confirmation", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerConfirm_NoDeliveryReturns404(t *testing.T) {
	st := newFakeDeliveryStore()
	h := NewHandler(New(st))
	body := `{"inboundEmailId":"` + uuid.New().String() + `","status":"delivered"}`
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/delivery-confirmation", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerConfirm_MalformedBodyReturns400(t *testing.T) {
	st := newFakeDeliveryStore()
	h := NewHandler(New(st))
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/delivery-confirmation", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerConfirm_InvalidSubscriptionIDReturns400(t *testing.T) {
	st := newFakeDeliveryStore()
	h := NewHandler(New(st))
	body := `{"inboundEmailId":"` + uuid.New().String() + `","subscriptionId":"not-a-uuid","status":"delivered"}`
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/delivery-confirmation", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerConfirm_DowngradeReturns409(t *testing.T) {
	st := newFakeDeliveryStore()
	inboundID, subID := uuid.New(), uuid.New()
	d := sentDelivery(inboundID, subID)
	d.Status = "delivered"
	st.byPair[[2]uuid.UUID{inboundID, subID}] = d

	h := NewHandler(New(st))
	body := `{"inboundEmailId":"` + inboundID.String() + `","subscriptionId":"` + subID.String() + `","status":"failed"}`
	req := httptest.NewRequest(http.MethodPost, "/email/inbound/delivery-confirmation", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Confirm(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
