package handlers

import (
	"encoding/json"
	"net/http"
)

type toggleReq struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetMockMode switches mock mode on or off and returns the new service status.
func SetMockMode(svc PaymentService) http.HandlerFunc {
	return toggle(svc, svc.SetMockMode)
}

// SetAutoFallback stores the auto-fallback flag and returns the new service status.
func SetAutoFallback(svc PaymentService) http.HandlerFunc {
	return toggle(svc, svc.SetAutoFallback)
}

func toggle(svc PaymentService, set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in toggleReq
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := validate.Struct(in); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		set(*in.Enabled)
		writeJSON(w, http.StatusOK, svc.Status(r.Context()))
	}
}
