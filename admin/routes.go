package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopwise/listsync/telemetry"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(chiAuthMiddleware)

	r.Get("/subscriptions", handlers.handleSubscriptions)

	r.Route("/lists/{listID}", func(r chi.Router) {
		r.Post("/watch", handlers.handleWatchList)
		r.Delete("/watch", handlers.handleUnwatchList)
	})

	r.Put("/foreground/{state}", handlers.handleForeground)

	r.Route("/permission", func(r chi.Router) {
		r.Get("/", handlers.handlePermission)
		r.Post("/request", handlers.handleRequestPermission)
		r.Post("/respond/{status}", handlers.handleRespondPermission)
	})

	r.Post("/preferences/dismissal", handlers.handleDismiss)
	r.Delete("/preferences/dismissal", handlers.handleResetDismissal)

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

// chiAuthMiddleware adapts AuthMiddleware for chi
func chiAuthMiddleware(next http.Handler) http.Handler {
	return AuthMiddleware(next)
}
