package handler

import (
	"context"
	"html/template"
	"net/http"
	"net/url"

	appmw "github.com/cmoptin/internal/middleware"
	"github.com/cmoptin/internal/model"
	"github.com/cmoptin/internal/optin"
)

type injector interface {
	Field(s *model.Settings) template.HTML
	Registration(ctx context.Context, s *model.Settings, form url.Values) optin.Decision
	Guest(ctx context.Context, s *model.Settings, email string) optin.Decision
}

// HooksHandler serves the checkout integration points the host calls. Hook
// failures are logged and never surfaced to the host.
type HooksHandler struct {
	BaseHandler
	settings settingsLoader
	injector injector
}

func NewHooksHandler(base BaseHandler, s settingsLoader, inj injector) *HooksHandler {
	return &HooksHandler{BaseHandler: base, settings: s, injector: inj}
}

// OptinField renders the checkbox for the registration form, or 204 when the
// opt-in is hidden.
func (h *HooksHandler) OptinField(w http.ResponseWriter, r *http.Request) {
	s, ok := h.load(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	field := h.injector.Field(s)
	if field == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(field))
}

// GuestOptinField renders the checkbox for the guest checkout screen.
func (h *HooksHandler) GuestOptinField(w http.ResponseWriter, r *http.Request) {
	h.OptinField(w, r)
}

// RegisterUser processes a registration submission forwarded by the host.
func (h *HooksHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusNoContent)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.Logger.Warn("hooks: unreadable registration form", "err", err)
		return
	}
	s, ok := h.load(r)
	if !ok {
		return
	}
	d := h.injector.Registration(r.Context(), s, r.PostForm)
	h.Logger.Debug("hooks: registration processed", "site", appmw.SiteFromContext(r.Context()).ID, "decision", d)
}

// GuestCheckout processes the guest checkout email handed over by the host.
func (h *HooksHandler) GuestCheckout(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusNoContent)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.Logger.Warn("hooks: unreadable guest checkout form", "err", err)
		return
	}
	s, ok := h.load(r)
	if !ok {
		return
	}
	d := h.injector.Guest(r.Context(), s, r.PostForm.Get(optin.FieldEmail))
	h.Logger.Debug("hooks: guest checkout processed", "site", appmw.SiteFromContext(r.Context()).ID, "decision", d)
}

func (h *HooksHandler) load(r *http.Request) (*model.Settings, bool) {
	site := appmw.SiteFromContext(r.Context())
	s, err := h.settings.Load(r.Context(), site.ID)
	if err != nil {
		h.Logger.Error("hooks: failed to load settings", "site", site.ID, "err", err)
		return nil, false
	}
	return s, true
}
