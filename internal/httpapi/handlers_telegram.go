package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/cedros-basket/checkout/internal/errors"
)

// telegramWebhook accepts a Telegram update payload and hands it off to the
// bot's routing layer. Routing itself lives elsewhere; this handler only
// validates the secret path segment and the JSON shape.
func (h *handlers) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "botToken")
	if token == "" || token != h.cfg.Messenger.BotToken {
		h.metrics.ObserveWebhookRequest("unauthorized")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var raw json.RawMessage
	if err := decodeJSON(r.Body, &raw); err != nil {
		h.metrics.ObserveWebhookRequest("malformed")
		apierrors.WriteError(w, apierrors.ErrCodeInvalidRequest, "malformed update payload", nil)
		return
	}

	if h.sink == nil {
		h.metrics.ObserveWebhookRequest("not_ready")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "bot not ready"})
		return
	}

	h.sink.HandleUpdate(r.Context(), raw)
	h.metrics.ObserveWebhookRequest("accepted")
	w.WriteHeader(http.StatusOK)
}

// webhookStub answers the documented /webhook stub. Payment observation is
// driven entirely by the Solana scan job, never by an inbound webhook.
func (h *handlers) webhookStub(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
