package httphandler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpjson"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// maxWebhookBodyBytes caps how much of a notification body we buffer. Real
// marketplace notifications are a few hundred bytes.
const maxWebhookBodyBytes = 64 * 1024

// MarketplaceNotification is the body the marketplace POSTs when a subscribed
// resource changes. user_id arrives as a JSON number.
type MarketplaceNotification struct {
	Topic    string      `json:"topic"`
	Resource string      `json:"resource"`
	UserID   json.Number `json:"user_id"`
}

// WebhookHandler acknowledges marketplace notifications. The contract with
// the marketplace is a 2xx within 500ms, so the handler only persists the
// event; the scheduler drains webhook_events and resyncs the referenced
// payments out of band.
type WebhookHandler struct {
	Models *data.Models
}

func (h WebhookHandler) PostMarketplaceEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		httperror.BadRequest("Unable to read the request body.", err, nil).Render(w)
		return
	}

	var notification MarketplaceNotification
	if err = json.Unmarshal(body, &notification); err != nil {
		httperror.BadRequest("The request body is not valid JSON.", err, nil).Render(w)
		return
	}

	insert := data.WebhookEventInsert{
		Topic:             notification.Topic,
		Resource:          notification.Resource,
		MarketplaceUserID: notification.UserID.String(),
		Payload:           body,
	}
	if err = insert.Validate(); err != nil {
		httperror.BadRequest(err.Error(), err, nil).Render(w)
		return
	}

	event, err := h.Models.WebhookEvents.Insert(ctx, h.Models.DBConnectionPool, insert)
	if err != nil {
		httperror.InternalError(ctx, "Cannot store the webhook event", err, nil).Render(w)
		return
	}

	log.Ctx(ctx).Debugf("stored webhook event %s (topic=%s resource=%s)", event.ID, event.Topic, event.Resource)
	httpjson.RenderStatus(w, http.StatusOK, map[string]string{"message": "ok"}, httpjson.JSON)
}
