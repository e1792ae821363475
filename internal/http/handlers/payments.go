package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"mkopaji/internal/domain/payment"
	"mkopaji/internal/provider"
	paysvc "mkopaji/internal/services/payment"
)

// PaymentService is the facade the handlers drive; *payment.Service in production.
type PaymentService interface {
	InitiateSTKPush(ctx context.Context, phone string, amount int64, accountReference, description string) paysvc.InitiateResult
	CheckTransactionStatus(ctx context.Context, checkoutRequestID string) paysvc.StatusResult
	HandleCallback(ctx context.Context, cb provider.CallbackResult) error
	History(ctx context.Context, limit, offset int) ([]*payment.Request, error)
	Status(ctx context.Context) paysvc.ServiceStatus
	SetMockMode(enabled bool)
	SetAutoFallback(enabled bool)
	MpesaConfigured() bool
	HistoryEnabled() bool
}

// providerTimeout bounds a single request's trip to Daraja.
const providerTimeout = 25 * time.Second

var validate = validator.New()

type stkReq struct {
	PhoneNumber      string `json:"phoneNumber" validate:"required"`
	Amount           int64  `json:"amount" validate:"required,gt=0"`
	AccountReference string `json:"accountReference" validate:"required,max=64"`
	TransactionDesc  string `json:"transactionDesc" validate:"max=64"`
}

// STKPush starts a customer prompt.
func STKPush(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in stkReq
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := validate.Struct(in); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), providerTimeout)
		defer cancel()

		res := svc.InitiateSTKPush(ctx, in.PhoneNumber, in.Amount, in.AccountReference, in.TransactionDesc)
		writeJSON(w, initiateStatus(res), res)
	}
}

func initiateStatus(res paysvc.InitiateResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorCode {
	case provider.ErrInvalidPhone, provider.ErrInvalidAmount, provider.ErrInvalidReference:
		return http.StatusBadRequest
	case provider.ErrNotConfigured:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// TransactionStatus reports the outcome of a push by checkout request ID.
func TransactionStatus(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "checkoutRequestId")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing checkoutRequestId")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), providerTimeout)
		defer cancel()

		res := svc.CheckTransactionStatus(ctx, id)
		code := http.StatusOK
		if !res.Success {
			code = http.StatusBadGateway
		}
		writeJSON(w, code, res)
	}
}

func ServiceStatus(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status(r.Context()))
	}
}

type historyItem struct {
	CheckoutRequestID  string    `json:"checkoutRequestId"`
	MerchantRequestID  string    `json:"merchantRequestId,omitempty"`
	Amount             int64     `json:"amount"`
	Currency           string    `json:"currency"`
	AccountReference   string    `json:"accountReference,omitempty"`
	Provider           string    `json:"provider"`
	Status             string    `json:"status"`
	ResultDesc         string    `json:"resultDesc,omitempty"`
	MpesaReceiptNumber string    `json:"mpesaReceiptNumber,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// ListHistory pages through stored payment requests.
func ListHistory(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := parsePage(r)

		rows, err := svc.History(r.Context(), limit, offset)
		if errors.Is(err, paysvc.ErrHistoryDisabled) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("list history failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		items := make([]historyItem, 0, len(rows))
		for _, p := range rows {
			items = append(items, historyItem{
				CheckoutRequestID:  p.CheckoutRequestID,
				MerchantRequestID:  p.MerchantRequestID,
				Amount:             int64(p.Amount),
				Currency:           string(p.Currency),
				AccountReference:   p.AccountReference,
				Provider:           p.Provider,
				Status:             string(p.Status),
				ResultDesc:         p.ResultDesc,
				MpesaReceiptNumber: p.MpesaReceiptNumber,
				CreatedAt:          p.CreatedAt,
				UpdatedAt:          p.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":  items,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// parsePage reads limit/offset; the service clamps them.
func parsePage(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "invalid field " + fe.Field() + ": failed " + fe.Tag()
	}
	return err.Error()
}
