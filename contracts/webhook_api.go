package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/signing"
)

const webhookSignatureHeader = "X-Provider-Signature"

// registerWebhooks wires the signing provider's callback endpoint. The
// route is excluded from bearer auth; authenticity comes from the HMAC
// signature over the raw body.
func (api *contractsAPI) registerWebhooks(mux *http.ServeMux, webhookSecret string) {
	mux.HandleFunc("POST /webhooks/signature", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "unreadable_body")
			return
		}

		if err := signing.VerifyWebhookSignature(webhookSecret, body, r.Header.Get(webhookSignatureHeader)); err != nil {
			if errors.Is(err, signing.ErrBadSignature) {
				api.writeError(w, r, http.StatusUnauthorized, "bad_signature")
				return
			}
			api.logger.Error("webhook verification unavailable", "error", err)
			api.writeError(w, r, http.StatusServiceUnavailable, "verification_unavailable")
			return
		}

		var event signing.Event
		if err := json.Unmarshal(body, &event); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if err := event.Validate(); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_event")
			return
		}

		if err := api.svc.HandleSignatureEvent(r.Context(), event); err != nil {
			api.logger.Error("signature event failed",
				"envelope_id", event.EnvelopeID, "event", event.Kind, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
