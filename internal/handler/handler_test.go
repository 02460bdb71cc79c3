package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmoptin/internal/campaignmonitor"
	appmw "github.com/cmoptin/internal/middleware"
	"github.com/cmoptin/internal/model"
	"github.com/cmoptin/internal/optin"
	"github.com/cmoptin/internal/settings"
	"github.com/cmoptin/internal/web"
)

var testSite = &model.Site{ID: "site-1", HomeURL: "https://shop.example.org"}

func testBase() BaseHandler {
	return BaseHandler{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Templates: web.Templates,
	}
}

func withSite(r *http.Request) *http.Request {
	return r.WithContext(appmw.WithSite(r.Context(), testSite))
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return withSite(req)
}

type fixedSettings struct {
	s   *model.Settings
	err error
}

func (f fixedSettings) Load(context.Context, string) (*model.Settings, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.s
	return &cp, nil
}

type fakeDirectory struct {
	clients      campaignmonitor.ClientsResult
	lists        campaignmonitor.ListsResult
	clientsCalls []string
	listsCalls   [][2]string
}

func (f *fakeDirectory) ListClients(_ context.Context, apiKey string) campaignmonitor.ClientsResult {
	f.clientsCalls = append(f.clientsCalls, apiKey)
	if apiKey == "" {
		return campaignmonitor.ClientsResult{Outcome: campaignmonitor.OutcomeSkipped}
	}
	return f.clients
}

func (f *fakeDirectory) ListLists(_ context.Context, apiKey, clientID string) campaignmonitor.ListsResult {
	f.listsCalls = append(f.listsCalls, [2]string{apiKey, clientID})
	if apiKey == "" || clientID == "" {
		return campaignmonitor.ListsResult{Outcome: campaignmonitor.OutcomeSkipped}
	}
	return f.lists
}

type fakeTokens struct{}

func (fakeTokens) Issue(action, siteID string) string { return "tok-" + action + "-" + siteID }
func (fakeTokens) Verify(token, action, siteID string) bool {
	return token == "tok-"+action+"-"+siteID
}

type fakeLicenses model.LicenseStatus

func (f fakeLicenses) Status(context.Context, string) (model.LicenseStatus, error) {
	return model.LicenseStatus(f), nil
}

// Directory fragments

func TestClientsSelect_Placeholders(t *testing.T) {
	tests := []struct {
		outcome campaignmonitor.Outcome
		text    string
		isError bool
	}{
		{campaignmonitor.OutcomeSkipped, "No clients to select from at this time.", false},
		{campaignmonitor.OutcomeUnauthorized, "Invalid credentials. Please try again.", true},
		{campaignmonitor.OutcomeEmpty, "No clients found for this account.", true},
		{campaignmonitor.OutcomeUnavailable, "Campaign Monitor could not be reached. Please try again.", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			sel := clientsSelect(campaignmonitor.ClientsResult{Outcome: tt.outcome}, "")
			assert.True(t, sel.Disabled)
			assert.Equal(t, tt.isError, sel.Error)
			assert.Equal(t, tt.text, sel.Placeholder)
		})
	}
}

func TestUpdateClients(t *testing.T) {
	dir := &fakeDirectory{clients: campaignmonitor.ClientsResult{
		Outcome: campaignmonitor.OutcomeOK,
		Clients: []model.Client{{ID: "C1", Name: "Acme"}, {ID: "C2", Name: "Widgets & Co"}},
	}}
	h := NewDirectoryHandler(testBase(), dir, fixedSettings{s: &model.Settings{ClientID: "C2"}}, fakeTokens{})

	rec := httptest.NewRecorder()
	h.UpdateClients(rec, postForm("/", url.Values{
		"api_key":            {"K1"},
		settings.FieldToken: {"tok-settings-form-site-1"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `id="tgm-exchange-campaign-monitor-clients"`)
	assert.Contains(t, body, `name="_tgm_exchange_campaign_monitor[campaign-monitor-client]"`)
	assert.Contains(t, body, `<option value="C2" selected="selected">Widgets &amp; Co</option>`)
	assert.NotContains(t, body, "disabled")
	assert.Equal(t, []string{"K1"}, dir.clientsCalls)
}

func TestUpdateLists_BlankClientRendersPlaceholder(t *testing.T) {
	dir := &fakeDirectory{}
	h := NewDirectoryHandler(testBase(), dir, fixedSettings{s: model.DefaultSettings()}, fakeTokens{})

	rec := httptest.NewRecorder()
	h.UpdateLists(rec, postForm("/", url.Values{
		"api_key":            {"K1"},
		"client_id":          {""},
		settings.FieldToken: {"tok-settings-form-site-1"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `disabled="disabled"`)
	assert.Contains(t, body, `<option value="none">No lists to select from at this time.</option>`)
}

func TestUpdateClients_RejectsBadToken(t *testing.T) {
	dir := &fakeDirectory{}
	h := NewDirectoryHandler(testBase(), dir, fixedSettings{s: model.DefaultSettings()}, fakeTokens{})

	rec := httptest.NewRecorder()
	h.UpdateClients(rec, postForm("/", url.Values{"api_key": {"K1"}}))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
	}
	if len(dir.clientsCalls) != 0 {
		t.Errorf("expected no directory calls, got %d", len(dir.clientsCalls))
	}
}

// Settings screen

type fakeController struct {
	got settings.Posted
	out settings.Outcome
	err error
}

func (f *fakeController) Save(_ context.Context, _ *model.Site, p settings.Posted) (settings.Outcome, error) {
	f.got = p
	return f.out, f.err
}

func newSettingsHandler(s *model.Settings, status model.LicenseStatus, ctrl *fakeController) *SettingsHandler {
	return NewSettingsHandler(testBase(), fixedSettings{s: s}, fakeLicenses(status), &fakeDirectory{}, fakeTokens{}, ctrl, 0)
}

func TestSettingsPage_SlowDirectorySharesOneBudget(t *testing.T) {
	var hits atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(slow.Close)

	s := model.DefaultSettings()
	s.APIKey = "K1"
	s.ClientID = "C1"
	dir := campaignmonitor.New(slow.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewSettingsHandler(testBase(), fixedSettings{s: s}, fakeLicenses(model.LicenseUnknown), dir, fakeTokens{}, &fakeController{}, 150*time.Millisecond)

	start := time.Now()
	rec := httptest.NewRecorder()
	h.Page(rec, withSite(httptest.NewRequest(http.MethodGet, "/admin/sites/site-1/settings", nil)))
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "Campaign Monitor could not be reached. Please try again."))
	assert.LessOrEqual(t, hits.Load(), int32(2))
}

func TestSettingsPage(t *testing.T) {
	s := model.DefaultSettings()
	s.Label = "News &amp; offers"
	h := newSettingsHandler(s, model.LicenseValid, &fakeController{})

	req := withSite(httptest.NewRequest(http.MethodGet, "/admin/sites/site-1/settings?sl_activation=false&message=Invalid+license.", nil))
	rec := httptest.NewRecorder()
	h.Page(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `value="tok-settings-form-site-1"`)
	assert.Contains(t, body, `value="tok-license-action-site-1"`)
	assert.Contains(t, body, "Deactivate License")
	assert.Contains(t, body, `<div class="error"><p>Invalid license.</p></div>`)
	assert.Contains(t, body, `value="News &amp; offers"`)
	assert.Contains(t, body, "No clients to select from at this time.")
	assert.Contains(t, body, `checked="checked"`)
}

func TestSettingsSave_RedirectsAfterLicenseAction(t *testing.T) {
	ctrl := &fakeController{out: settings.Outcome{Saved: true, Redirect: "/admin/sites/site-1/settings?sl_activation=false&message=x"}}
	h := newSettingsHandler(model.DefaultSettings(), model.LicenseUnknown, ctrl)

	rec := httptest.NewRecorder()
	h.Save(rec, postForm("/", url.Values{
		settings.FieldMarker:   {"1"},
		settings.FieldActivate: {"Activate License"},
	}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, ctrl.out.Redirect, rec.Header().Get("Location"))
	assert.Equal(t, settings.LicenseActivate, ctrl.got.Action)
}

func TestSettingsSave_RendersErrors(t *testing.T) {
	ctrl := &fakeController{out: settings.Outcome{
		Settings: model.DefaultSettings(),
		Errors:   []error{settings.ErrInvalidToken},
	}}
	h := newSettingsHandler(model.DefaultSettings(), model.LicenseUnknown, ctrl)

	rec := httptest.NewRecorder()
	h.Save(rec, postForm("/", url.Values{settings.FieldMarker: {"1"}}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "The form nonces do not match.")
	assert.Contains(t, rec.Body.String(), "Activate License")
}

func TestSettingsSave_Saved(t *testing.T) {
	ctrl := &fakeController{out: settings.Outcome{Settings: model.DefaultSettings(), Saved: true}}
	h := newSettingsHandler(model.DefaultSettings(), model.LicenseUnknown, ctrl)

	rec := httptest.NewRecorder()
	h.Save(rec, postForm("/", url.Values{settings.FieldMarker: {"1"}}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your settings have been saved successfully!")
}

func TestSettingsSave_ControllerError(t *testing.T) {
	ctrl := &fakeController{err: errors.New("db gone")}
	h := newSettingsHandler(model.DefaultSettings(), model.LicenseUnknown, ctrl)

	rec := httptest.NewRecorder()
	h.Save(rec, postForm("/", url.Values{settings.FieldMarker: {"1"}}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// Hooks

type fakeInjector struct {
	field        template.HTML
	registration []url.Values
	guests       []string
}

func (f *fakeInjector) Field(*model.Settings) template.HTML { return f.field }

func (f *fakeInjector) Registration(_ context.Context, _ *model.Settings, form url.Values) optin.Decision {
	f.registration = append(f.registration, form)
	return optin.Subscribed
}

func (f *fakeInjector) Guest(_ context.Context, _ *model.Settings, email string) optin.Decision {
	f.guests = append(f.guests, email)
	return optin.Subscribed
}

func TestOptinField(t *testing.T) {
	inj := &fakeInjector{}
	h := NewHooksHandler(testBase(), fixedSettings{s: model.DefaultSettings()}, inj)

	rec := httptest.NewRecorder()
	h.OptinField(rec, withSite(httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	inj.field = `<div class="tgm-exchange-campaign-monitor-signup"></div>`
	rec = httptest.NewRecorder()
	h.GuestOptinField(rec, withSite(httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(inj.field), rec.Body.String())
}

func TestHookSubmissions(t *testing.T) {
	inj := &fakeInjector{}
	h := NewHooksHandler(testBase(), fixedSettings{s: model.DefaultSettings()}, inj)

	rec := httptest.NewRecorder()
	h.RegisterUser(rec, postForm("/", url.Values{optin.FieldEmail: {"a@b.com"}, optin.FieldSignup: {"1"}}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, inj.registration, 1)
	assert.Equal(t, "a@b.com", inj.registration[0].Get(optin.FieldEmail))

	rec = httptest.NewRecorder()
	h.GuestCheckout(rec, postForm("/", url.Values{optin.FieldEmail: {"g@b.com"}}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"g@b.com"}, inj.guests)
}

func TestHookSubmissions_LoadFailureIsSilent(t *testing.T) {
	inj := &fakeInjector{}
	h := NewHooksHandler(testBase(), fixedSettings{err: errors.New("boom")}, inj)

	rec := httptest.NewRecorder()
	h.GuestCheckout(rec, postForm("/", url.Values{optin.FieldEmail: {"g@b.com"}}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, inj.guests)
}

// Add-on registration

func postRegister(t *testing.T, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	h := NewAddonHandler(testBase())
	req := httptest.NewRequest(http.MethodPost, "/api/addon/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return rec, got
}

func TestRegister(t *testing.T) {
	tests := []struct {
		version    string
		registered bool
	}{
		{"1.0.4", true},
		{"1.2.0", true},
		{"2.0", true},
		{"1.0.3", false},
		{"1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			rec, got := postRegister(t, `{"host_version":"`+tt.version+`"}`)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.registered, got["registered"])
			if tt.registered {
				addon := got["addon"].(map[string]any)
				assert.Equal(t, "campaign-monitor", addon["slug"])
			} else {
				assert.Contains(t, got["nag"], "version 1.0.3 or higher")
			}
		})
	}
}

func TestRegister_BadInput(t *testing.T) {
	rec, got := postRegister(t, `{"host_version":"not-a-version"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, got["error"])

	rec, _ = postRegister(t, `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Health

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(pingFunc(func(context.Context) error { return nil }), "test")(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Health(pingFunc(func(context.Context) error { return errors.New("down") }), "test")(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
