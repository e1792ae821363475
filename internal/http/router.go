package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mkopaji/internal/config"
	"mkopaji/internal/http/handlers"
	middlewarex "mkopaji/internal/http/middleware"
	"mkopaji/internal/monitoring"
)

// RouterDependencies holds all dependencies for the HTTP router
type RouterDependencies struct {
	Config   config.Cfg
	Payments handlers.PaymentService
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"service":         "mkopaji",
			"mpesaConfigured": deps.Payments.MpesaConfigured(),
		})
	})
	r.Handle("/metrics", monitoring.Handler())

	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/stk-push", handlers.STKPush(deps.Payments))
		r.Get("/status/{checkoutRequestId}", handlers.TransactionStatus(deps.Payments))
		r.Get("/service-status", handlers.ServiceStatus(deps.Payments))
		if deps.Payments.HistoryEnabled() {
			r.Get("/history", handlers.ListHistory(deps.Payments))
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewarex.AdminAuth(deps.Config.Sec.AdminToken))
			r.Post("/mock-mode", handlers.SetMockMode(deps.Payments))
			r.Post("/auto-fallback", handlers.SetAutoFallback(deps.Payments))
		})
	})

	// Daraja posts STK results here; the URL is what MPESA_CALLBACK_URL points at.
	r.Post("/hooks/mpesa/stk", handlers.MpesaSTKCallback(deps.Payments))

	return r
}
