package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/cmoptin/internal/handler"
	"github.com/cmoptin/internal/middleware"
	"github.com/cmoptin/internal/web"
)

func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if app.config.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(app.metrics.Instrument)
	r.Use(middleware.SecurityHeaders(app.config.SecureCookies))

	base := handler.BaseHandler{Logger: app.logger, Templates: web.Templates}

	// Static files
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(web.StaticFS)))

	// Health check and metrics
	r.Get("/api/health", handler.Health(app.siteStore, Version))
	r.Handle("/metrics", app.metrics.Handler())

	// Host registration
	addonHandler := handler.NewAddonHandler(base)
	r.Post("/api/addon/register", addonHandler.Register)

	siteMW := middleware.Site(app.siteStore)

	// Admin settings screen
	r.Route("/admin/sites/{site}", func(r chi.Router) {
		r.Use(middleware.AdminAuth(app.admin))
		r.Use(siteMW)

		settingsHandler := handler.NewSettingsHandler(base, app.settingsStore, app.licenseStore, app.directory, app.nonces, app.controller, app.config.OutboundTimeout)
		r.Get("/settings", settingsHandler.Page)
		r.Post("/settings", settingsHandler.Save)

		directoryHandler := handler.NewDirectoryHandler(base, app.directory, app.settingsStore, app.nonces)
		r.Post("/ajax/update-clients", directoryHandler.UpdateClients)
		r.Post("/ajax/update-lists", directoryHandler.UpdateLists)
	})

	// Checkout hooks called by the host
	r.Route("/hooks/sites/{site}", func(r chi.Router) {
		r.Use(middleware.RateLimit(rate.Limit(app.config.HookRateLimit), app.config.HookBurst))
		r.Use(siteMW)

		hooksHandler := handler.NewHooksHandler(base, app.settingsStore, app.injector)
		r.Get("/optin-field", hooksHandler.OptinField)
		r.Get("/guest-optin-field", hooksHandler.GuestOptinField)
		r.Post("/register-user", hooksHandler.RegisterUser)
		r.Post("/guest-checkout", hooksHandler.GuestCheckout)
	})
	return r
}
