package confirm

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/relayhook/relayhook/internal/model"
	"github.com/relayhook/relayhook/internal/pkg"
)

// confirmationRequest is the body accepted at POST
// /email/inbound/delivery-confirmation. subscriptionId is optional: when
// omitted, the most recent delivery row for inboundEmailId is confirmed
// regardless of which subscription it belongs to.
type confirmationRequest struct {
	InboundEmailID string `json:"inboundEmailId" validate:"required"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Status         string `json:"status" validate:"required"`
	TicketID       string `json:"ticketId,omitempty"`
	CommentID      string `json:"commentId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Handler serves the delivery confirmation HTTP endpoint.
type Handler struct {
	confirmer *Confirmer
}

// NewHandler builds a Handler.
func NewHandler(c *Confirmer) *Handler {
	return &Handler{confirmer: c}
}

// Confirm handles POST /email/inbound/delivery-confirmation.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body confirmationRequest
	if err := pkg.DecodeJSON(r, &body); err != nil {
		pkg.Error(w, http.StatusBadRequest, "malformed confirmation body")
		return
	}
	if err := pkg.Validate(body); err != nil {
		pkg.Error(w, http.StatusBadRequest, "missing required fields")
		return
	}

	inboundID, err := uuid.Parse(body.InboundEmailID)
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid inboundEmailId")
		return
	}

	req := Request{
		InboundEmailID: inboundID,
		Status:         model.DeliveryStatus(body.Status),
		TicketID:       body.TicketID,
		CommentID:      body.CommentID,
		Error:          body.Error,
	}

	var delivery *model.WebhookDelivery
	if body.SubscriptionID != "" {
		subID, err := uuid.Parse(body.SubscriptionID)
		if err != nil {
			pkg.Error(w, http.StatusBadRequest, "invalid subscriptionId")
			return
		}
		req.SubscriptionID = subID
		delivery, err = h.confirmer.ConfirmByIds(r.Context(), req)
		if err != nil {
			h.respondError(w, err)
			return
		}
	} else {
		delivery, err = h.confirmer.ConfirmByInboundIdOnly(r.Context(), req)
		if err != nil {
			h.respondError(w, err)
			return
		}
	}

	pkg.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": delivery})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoDelivery):
		pkg.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDowngrade):
		pkg.Error(w, http.StatusConflict, err.Error())
	default:
		pkg.Error(w, http.StatusBadRequest, err.Error())
	}
}
