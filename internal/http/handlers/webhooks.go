package handlers

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"mkopaji/internal/provider/mpesa"
)

const maxCallbackBytes = 1 << 20

// MpesaSTKCallback receives the result Daraja posts to CallBackURL. Once the
// body parses it is always acknowledged so Daraja stops retrying.
func MpesaSTKCallback(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		cb, err := mpesa.ParseCallback(body)
		if err != nil {
			log.Warn().Err(err).Msg("rejecting STK callback")
			writeError(w, http.StatusBadRequest, "bad payload")
			return
		}

		if err := svc.HandleCallback(r.Context(), *cb); err != nil {
			log.Error().Err(err).Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback handling failed")
		}

		writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
	}
}
