// Package license activates and deactivates the add-on license against the
// vendor's Easy Digital Downloads licensing endpoint.
package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cmoptin/internal/model"
)

const (
	DefaultEndpoint = "https://exchangewp.com"
	DefaultItemName = "campaign-monitor"
	DefaultTimeout  = 15 * time.Second
)

const expiryLayout = "2006-01-02 15:04:05"

// Status is the mapped outcome of a license call.
type Status string

const (
	StatusValid              Status = "valid"
	StatusInvalid            Status = "invalid"
	StatusExpired            Status = "expired"
	StatusRevoked            Status = "revoked"
	StatusMissing            Status = "missing"
	StatusInvalidForSite     Status = "invalid-for-site"
	StatusMismatchedItem     Status = "mismatched-item"
	StatusActivationLimit    Status = "activation-limit-reached"
	StatusUnknownError       Status = "unknown-error"
	StatusDeactivated        Status = "deactivated"
	StatusDeactivationFailed Status = "failed"
)

const genericMessage = "An error occurred, please try again."

// Result is what Activate and Deactivate return. Message is empty on success.
type Result struct {
	Status  Status
	License model.LicenseStatus
	Message string
	Err     error
}

// Failed reports whether the call ended with a message for the admin.
func (r Result) Failed() bool {
	return r.Message != ""
}

// Observer is notified once per license call.
type Observer interface {
	ObserveLicense(action string, status Status)
}

// Activator performs license round trips.
type Activator struct {
	endpoint string
	itemName string
	http     *http.Client
	logger   *slog.Logger
	observer Observer
	location *time.Location
}

type Config struct {
	Endpoint   string
	ItemName   string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
	// Location is used to render expiry dates. Defaults to UTC.
	Location *time.Location
}

func NewActivator(cfg Config) *Activator {
	a := &Activator{
		endpoint: cfg.Endpoint,
		itemName: cfg.ItemName,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		location: cfg.Location,
	}
	if a.endpoint == "" {
		a.endpoint = DefaultEndpoint
	}
	if a.itemName == "" {
		a.itemName = DefaultItemName
	}
	if a.http == nil {
		a.http = &http.Client{Timeout: DefaultTimeout}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.location == nil {
		a.location = time.UTC
	}
	a.logger = a.logger.With("component", "license")
	return a
}

// response is the EDD software licensing payload.
type response struct {
	Success *bool  `json:"success"`
	License string `json:"license"`
	Error   string `json:"error"`
	Expires expiry `json:"expires"`
}

// expiry accepts the date string EDD sends as well as a bare unix timestamp.
type expiry string

func (e *expiry) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = expiry(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expires: %w", err)
	}
	*e = expiry(n.String())
	return nil
}

// Activate registers key for siteURL.
func (a *Activator) Activate(ctx context.Context, key, siteURL string) Result {
	res := a.activate(ctx, strings.TrimSpace(key), siteURL)
	a.observe("activate", res.Status)
	return res
}

func (a *Activator) activate(ctx context.Context, key, siteURL string) Result {
	body, err := a.post(ctx, "activate_license", key, siteURL)
	if err != nil {
		a.logger.Warn("license: activation request failed", "err", err)
		return Result{Status: StatusUnknownError, Message: transportMessage(err), Err: err}
	}

	if body.Success != nil && !*body.Success {
		status, msg := a.activationFailure(body)
		return Result{Status: status, License: model.LicenseInvalid, Message: msg}
	}
	if body.Success == nil && body.License == "" {
		return Result{Status: StatusUnknownError, Message: genericMessage, Err: errors.New("license: response has neither success nor license")}
	}

	if model.ParseLicenseStatus(body.License) == model.LicenseValid {
		return Result{Status: StatusValid, License: model.LicenseValid}
	}
	return Result{Status: StatusInvalid, License: model.LicenseInvalid}
}

func (a *Activator) activationFailure(body *response) (Status, string) {
	switch body.Error {
	case "expired":
		return StatusExpired, fmt.Sprintf("Your license key expired on %s.", a.formatExpiry(body.Expires))
	case "revoked":
		return StatusRevoked, "Your license key has been disabled."
	case "missing":
		return StatusMissing, "Invalid license."
	case "invalid", "site_inactive":
		return StatusInvalidForSite, "Your license is not active for this URL."
	case "item_name_mismatch":
		return StatusMismatchedItem, fmt.Sprintf("This appears to be an invalid license key for %s.", a.itemName)
	case "no_activations_left":
		return StatusActivationLimit, "Your license key has reached its activation limit."
	default:
		return StatusUnknownError, genericMessage
	}
}

// Deactivate releases key from siteURL.
func (a *Activator) Deactivate(ctx context.Context, key, siteURL string) Result {
	res := a.deactivate(ctx, strings.TrimSpace(key), siteURL)
	a.observe("deactivate", res.Status)
	return res
}

func (a *Activator) deactivate(ctx context.Context, key, siteURL string) Result {
	body, err := a.post(ctx, "deactivate_license", key, siteURL)
	if err != nil {
		a.logger.Warn("license: deactivation request failed", "err", err)
		return Result{Status: StatusDeactivationFailed, Message: transportMessage(err), Err: err}
	}
	if body.License == string(StatusDeactivated) {
		return Result{Status: StatusDeactivated, License: model.LicenseUnknown}
	}
	return Result{Status: StatusDeactivationFailed}
}

func (a *Activator) post(ctx context.Context, action, key, siteURL string) (*response, error) {
	form := url.Values{
		"edd_action": {action},
		"license":    {key},
		"item_name":  {a.itemName},
		"url":        {siteURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &body, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("license server returned %d", e.code)
}

// transportMessage is the admin-facing text for a failed round trip. Non-200
// answers get the generic text; transport errors surface their own message.
func transportMessage(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		return genericMessage
	}
	return err.Error()
}

func (a *Activator) formatExpiry(e expiry) string {
	expires := string(e)
	if expires == "" || expires == "lifetime" {
		return "never"
	}
	if secs, err := strconv.ParseInt(expires, 10, 64); err == nil {
		return time.Unix(secs, 0).In(a.location).Format("January 2, 2006")
	}
	t, err := time.ParseInLocation(expiryLayout, expires, a.location)
	if err != nil {
		return expires
	}
	return t.Format("January 2, 2006")
}

func (a *Activator) observe(action string, status Status) {
	if a.observer != nil {
		a.observer.ObserveLicense(action, status)
	}
}
