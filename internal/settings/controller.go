package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cmoptin/internal/auth"
	"github.com/cmoptin/internal/license"
	appmw "github.com/cmoptin/internal/middleware"
	"github.com/cmoptin/internal/model"
)

// ErrInvalidToken is reported when a form token does not verify.
var ErrInvalidToken = errors.New("the form tokens do not match, please try again")

type verifier interface {
	Verify(token, action, siteID string) bool
}

type settingsStore interface {
	Load(ctx context.Context, siteID string) (*model.Settings, error)
	Save(ctx context.Context, siteID string, settings *model.Settings) error
}

type licenseStore interface {
	SetStatus(ctx context.Context, siteID string, status model.LicenseStatus) error
	ClearStatus(ctx context.Context, siteID string) error
}

type activator interface {
	Activate(ctx context.Context, key, siteURL string) license.Result
	Deactivate(ctx context.Context, key, siteURL string) license.Result
}

// Controller handles settings screen submissions for one site at a time.
type Controller struct {
	nonces    verifier
	settings  settingsStore
	licenses  licenseStore
	activator activator
	logger    *slog.Logger
}

func NewController(nonces verifier, settings settingsStore, licenses licenseStore, act activator, logger *slog.Logger) *Controller {
	return &Controller{
		nonces:    nonces,
		settings:  settings,
		licenses:  licenses,
		activator: act,
		logger:    logger.With("component", "settings"),
	}
}

// Outcome is the result of a settings form submission.
type Outcome struct {
	Settings *model.Settings
	Errors   []error
	Saved    bool
	// Redirect is set when a license action ran. The caller must redirect
	// instead of rendering the page.
	Redirect string
}

// Submit checks the form token for siteID and merges posted over current.
// A bad token is the only rejection; the unchanged settings are returned
// with it.
func (c *Controller) Submit(siteID string, current *model.Settings, posted Posted) (*model.Settings, []error) {
	if !c.nonces.Verify(posted.Token, auth.ActionSettingsForm, siteID) {
		return current, []error{ErrInvalidToken}
	}
	return Merge(current, posted), nil
}

// Save loads the site's settings, applies the submission, persists it and
// then runs the requested license action, if any.
func (c *Controller) Save(ctx context.Context, site *model.Site, posted Posted) (Outcome, error) {
	current, err := c.settings.Load(ctx, site.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load settings: %w", err)
	}

	next, errs := c.Submit(site.ID, current, posted)
	if len(errs) > 0 {
		return Outcome{Settings: current, Errors: errs}, nil
	}
	if err := c.settings.Save(ctx, site.ID, next); err != nil {
		return Outcome{}, fmt.Errorf("save settings: %w", err)
	}
	c.logger.Info("settings: saved", "site", site.ID, "admin", appmw.AdminFromContext(ctx))

	out := Outcome{Settings: next, Saved: true}
	if posted.Action == LicenseNone {
		return out, nil
	}
	if !c.nonces.Verify(posted.LicenseToken, auth.ActionLicense, site.ID) {
		out.Errors = []error{ErrInvalidToken}
		return out, nil
	}
	out.Redirect, err = c.License(ctx, site, posted.Action, next.LicenseKey)
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// License activates or deactivates key for site and returns where to send
// the browser next. Remote failures are reported through the redirect, not
// the error.
func (c *Controller) License(ctx context.Context, site *model.Site, action LicenseAction, key string) (string, error) {
	base := Path(site.ID)

	switch action {
	case LicenseActivate:
		res := c.activator.Activate(ctx, key, site.HomeURL)
		if res.Failed() {
			c.logger.Warn("settings: license activation failed", "site", site.ID, "status", res.Status)
			return FailureRedirect(base, res.Message), nil
		}
		if err := c.licenses.SetStatus(ctx, site.ID, res.License); err != nil {
			return "", fmt.Errorf("store license status: %w", err)
		}
		c.logger.Info("settings: license activated", "site", site.ID, "status", res.License)
		return base, nil

	case LicenseDeactivate:
		res := c.activator.Deactivate(ctx, key, site.HomeURL)
		if res.Status == license.StatusDeactivated {
			if err := c.licenses.ClearStatus(ctx, site.ID); err != nil {
				return "", fmt.Errorf("clear license status: %w", err)
			}
			c.logger.Info("settings: license deactivated", "site", site.ID)
		}
		return base, nil
	}
	return base, nil
}

// Path is the settings screen for siteID.
func Path(siteID string) string {
	return "/admin/sites/" + url.PathEscape(siteID) + "/settings"
}

// FailureRedirect appends the license failure notice to base.
func FailureRedirect(base, message string) string {
	return base + "?sl_activation=false&message=" + url.QueryEscape(message)
}
