package handler

import (
	"context"
	"html"
	"net/http"

	"github.com/cmoptin/internal/auth"
	"github.com/cmoptin/internal/campaignmonitor"
	appmw "github.com/cmoptin/internal/middleware"
	"github.com/cmoptin/internal/model"
	"github.com/cmoptin/internal/settings"
)

type directory interface {
	ListClients(ctx context.Context, apiKey string) campaignmonitor.ClientsResult
	ListLists(ctx context.Context, apiKey, clientID string) campaignmonitor.ListsResult
}

type settingsLoader interface {
	Load(ctx context.Context, siteID string) (*model.Settings, error)
}

type tokenVerifier interface {
	Verify(token, action, siteID string) bool
}

type selectOption struct {
	Value    string
	Label    string
	Selected bool
}

// directorySelect is the data for the directory_select template.
type directorySelect struct {
	ID          string
	Name        string
	Options     []selectOption
	Disabled    bool
	Error       bool
	Placeholder string
}

const (
	clientsSelectID = "tgm-exchange-campaign-monitor-clients"
	listsSelectID   = "tgm-exchange-campaign-monitor-lists"
)

func clientsSelect(res campaignmonitor.ClientsResult, selected string) directorySelect {
	sel := directorySelect{ID: clientsSelectID, Name: settings.FieldClient}
	if res.Outcome != campaignmonitor.OutcomeOK {
		sel.Disabled = true
		sel.Error, sel.Placeholder = placeholder(res.Outcome, "clients")
		return sel
	}
	selected = html.UnescapeString(selected)
	for _, c := range res.Clients {
		sel.Options = append(sel.Options, selectOption{Value: c.ID, Label: c.Name, Selected: c.ID == selected})
	}
	return sel
}

func listsSelect(res campaignmonitor.ListsResult, selected string) directorySelect {
	sel := directorySelect{ID: listsSelectID, Name: settings.FieldList}
	if res.Outcome != campaignmonitor.OutcomeOK {
		sel.Disabled = true
		sel.Error, sel.Placeholder = placeholder(res.Outcome, "lists")
		return sel
	}
	selected = html.UnescapeString(selected)
	for _, l := range res.Lists {
		sel.Options = append(sel.Options, selectOption{Value: l.ID, Label: l.Name, Selected: l.ID == selected})
	}
	return sel
}

// placeholder picks the disabled option text for a failed lookup and whether
// it is shown as an error.
func placeholder(outcome campaignmonitor.Outcome, kind string) (bool, string) {
	switch outcome {
	case campaignmonitor.OutcomeSkipped:
		return false, "No " + kind + " to select from at this time."
	case campaignmonitor.OutcomeEmpty:
		return true, "No " + kind + " found for this account."
	case campaignmonitor.OutcomeUnavailable:
		return true, "Campaign Monitor could not be reached. Please try again."
	default:
		return true, "Invalid credentials. Please try again."
	}
}

// DirectoryHandler serves the dropdown fragments the settings screen swaps
// in when the API key or client changes.
type DirectoryHandler struct {
	BaseHandler
	directory directory
	settings  settingsLoader
	tokens    tokenVerifier
}

func NewDirectoryHandler(base BaseHandler, dir directory, s settingsLoader, tokens tokenVerifier) *DirectoryHandler {
	return &DirectoryHandler{BaseHandler: base, directory: dir, settings: s, tokens: tokens}
}

// UpdateClients renders the client dropdown for the posted api_key.
func (h *DirectoryHandler) UpdateClients(w http.ResponseWriter, r *http.Request) {
	site, current, ok := h.prepare(w, r)
	if !ok {
		return
	}
	res := h.directory.ListClients(r.Context(), r.PostForm.Get("api_key"))
	h.Logger.Debug("directory: clients fetched", "site", site.ID, "outcome", res.Outcome)
	h.render(w, r, http.StatusOK, "directory_select", clientsSelect(res, current.ClientID))
}

// UpdateLists renders the list dropdown for the posted api_key and client_id.
func (h *DirectoryHandler) UpdateLists(w http.ResponseWriter, r *http.Request) {
	site, current, ok := h.prepare(w, r)
	if !ok {
		return
	}
	res := h.directory.ListLists(r.Context(), r.PostForm.Get("api_key"), r.PostForm.Get("client_id"))
	h.Logger.Debug("directory: lists fetched", "site", site.ID, "outcome", res.Outcome)
	h.render(w, r, http.StatusOK, "directory_select", listsSelect(res, current.ListID))
}

func (h *DirectoryHandler) prepare(w http.ResponseWriter, r *http.Request) (*model.Site, *model.Settings, bool) {
	site := appmw.SiteFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, nil, false
	}
	if !h.tokens.Verify(r.PostForm.Get(settings.FieldToken), auth.ActionSettingsForm, site.ID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, nil, false
	}
	current, err := h.settings.Load(r.Context(), site.ID)
	if err != nil {
		h.logError(r, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, nil, false
	}
	return site, current, true
}
