package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter assembles the chi router. auth, when non-nil, wraps the
// whole /api subtree.
func NewRouter(h *Handlers, auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Operator-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		r.Post("/scan", h.StartScan)
		r.Get("/scan/{scanID}", h.GetScan)
		r.Post("/accounts/sync", h.SyncAccounts)
		r.Patch("/accounts/{email}/notes", h.UpdateNotes)

		r.Get("/dashboard/stats", h.DashboardStats)
		r.Get("/dashboard/accounts", h.DashboardAccounts)
		r.Get("/dashboard/accounts/{email}", h.DashboardAccount)

		r.Get("/analysis/stats", h.AnalysisStats)
		r.Get("/analysis/review-queue", h.ReviewQueue)
		r.Get("/analysis/account/{accountID}", h.AccountAnalyses)
		r.Patch("/analysis/review/{analysisID}", h.ReviewAnalysis)

		r.Get("/alerts", h.ListAlerts)
		r.Post("/alerts/{alertID}/read", h.MarkAlertRead)
		r.Post("/alerts/read-all", h.MarkAllAlertsRead)

		r.Route("/mail/accounts/{email}", func(r chi.Router) {
			r.Get("/mailboxes", h.MailMailboxes)
			r.Get("/mailboxes/{mailboxID}/messages", h.MailMessages)
			r.Get("/mailboxes/{mailboxID}/messages/{messageID}", h.MailMessage)
			r.Get("/mailboxes/{mailboxID}/messages/{messageID}/attachments/{attachmentID}", h.MailAttachment)
		})

		r.Get("/events", h.AdminEvents)
		r.Get("/portal/events", h.PortalEvents)
	})

	return r
}
