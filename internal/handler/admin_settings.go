package handler

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/cmoptin/internal/auth"
	appmw "github.com/cmoptin/internal/middleware"
	"github.com/cmoptin/internal/model"
	"github.com/cmoptin/internal/settings"
)

const maxFormBytes = 64 << 10

type settingsPageData struct {
	Site         *model.Site
	Settings     *model.Settings
	Action       string
	ClientsURL   string
	ListsURL     string
	Token        string
	LicenseToken string

	LicenseActive     bool
	Clients           directorySelect
	Lists             directorySelect
	Errors            []string
	Saved             bool
	ActivationMessage string
}

type licenseReader interface {
	Status(ctx context.Context, siteID string) (model.LicenseStatus, error)
}

type tokenIssuer interface {
	Issue(action, siteID string) string
}

type formController interface {
	Save(ctx context.Context, site *model.Site, posted settings.Posted) (settings.Outcome, error)
}

// SettingsHandler serves the per-site admin settings screen.
type SettingsHandler struct {
	BaseHandler
	settings   settingsLoader
	licenses   licenseReader
	directory  directory
	tokens     tokenIssuer
	controller formController

	// lookupTimeout bounds the client and list lookups of one page together.
	lookupTimeout time.Duration
}

func NewSettingsHandler(base BaseHandler, s settingsLoader, l licenseReader, dir directory, tokens tokenIssuer, ctrl formController, lookupTimeout time.Duration) *SettingsHandler {
	return &SettingsHandler{
		BaseHandler:   base,
		settings:      s,
		licenses:      l,
		directory:     dir,
		tokens:        tokens,
		controller:    ctrl,
		lookupTimeout: lookupTimeout,
	}
}

// Page renders the settings screen.
func (h *SettingsHandler) Page(w http.ResponseWriter, r *http.Request) {
	site := appmw.SiteFromContext(r.Context())
	s, err := h.settings.Load(r.Context(), site.ID)
	if err != nil {
		h.logError(r, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data, err := h.pageData(r.Context(), site, s)
	if err != nil {
		h.logError(r, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	q := r.URL.Query()
	if q.Get("sl_activation") == "false" {
		data.ActivationMessage = q.Get("message")
	}
	h.render(w, r, http.StatusOK, "settings.html", data)
}

// Save handles the settings form, including the license buttons.
func (h *SettingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	site := appmw.SiteFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if !r.PostForm.Has(settings.FieldMarker) {
		h.Page(w, r)
		return
	}

	out, err := h.controller.Save(r.Context(), site, settings.ParsePosted(r.PostForm))
	if err != nil {
		h.logError(r, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if out.Redirect != "" {
		http.Redirect(w, r, out.Redirect, http.StatusSeeOther)
		return
	}

	data, err := h.pageData(r.Context(), site, out.Settings)
	if err != nil {
		h.logError(r, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data.Saved = out.Saved
	for _, e := range out.Errors {
		data.Errors = append(data.Errors, errorText(e))
	}
	status := http.StatusOK
	if !out.Saved {
		status = http.StatusUnprocessableEntity
	}
	h.render(w, r, status, "settings.html", data)
}

func (h *SettingsHandler) pageData(ctx context.Context, site *model.Site, s *model.Settings) (settingsPageData, error) {
	status, err := h.licenses.Status(ctx, site.ID)
	if err != nil {
		return settingsPageData{}, err
	}
	action := settings.Path(site.ID)
	ajax := strings.TrimSuffix(action, "/settings") + "/ajax/"

	lookupCtx := ctx
	if h.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, h.lookupTimeout)
		defer cancel()
	}

	return settingsPageData{
		Site:          site,
		Settings:      s,
		Action:        action,
		ClientsURL:    ajax + "update-clients",
		ListsURL:      ajax + "update-lists",
		Token:         h.tokens.Issue(auth.ActionSettingsForm, site.ID),
		LicenseToken:  h.tokens.Issue(auth.ActionLicense, site.ID),
		LicenseActive: status == model.LicenseValid,
		Clients:       clientsSelect(h.directory.ListClients(lookupCtx, s.APIKey), s.ClientID),
		Lists:         listsSelect(h.directory.ListLists(lookupCtx, s.APIKey, html.UnescapeString(s.ClientID)), s.ListID),
	}, nil
}

func errorText(err error) string {
	if errors.Is(err, settings.ErrInvalidToken) {
		return "Are you sure you want to do this? The form nonces do not match. Please try again."
	}
	return err.Error()
}
