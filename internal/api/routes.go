package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth + viewer identity required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Use(MemberMiddleware(h.couple))

			r.Get("/needs", h.ListNeeds)
			r.Get("/needs/{id}", h.OpenNeed)
			r.Delete("/needs/{id}", h.CancelNeed)
			r.Post("/needs/{id}/respond", h.Respond)
			r.Post("/needs/{id}/plans/{planID}/toggle", h.ToggleAction)
			r.Put("/needs/{id}/plans/{planID}/reminder", h.SetReminder)
			r.Delete("/needs/{id}/plans/{planID}/reminder", h.ClearReminder)
			r.Delete("/needs/{id}/plans/{planID}", h.RemoveAction)

			r.Get("/dashboard", h.Dashboard)
			r.Get("/dashboard/activity", h.Activity)

			r.Get("/wizard", h.WizardState)
			r.Put("/wizard/annoyance", h.WizardAnnoyance)
			r.Post("/wizard/introspection", h.WizardIntrospect)
			r.Post("/wizard/next", h.WizardNext)
			r.Post("/wizard/back", h.WizardBack)
			r.Post("/wizard/share", h.WizardShare)
			r.Post("/wizard/reset", h.WizardReset)

			r.Get("/changes", h.Changes)
			r.Get("/changes/watch", h.Watch)

			r.Get("/reminders/due", h.RemindersDue)
			r.Get("/snapshot/url", h.SnapshotURL)
		})
	})

	return r
}
