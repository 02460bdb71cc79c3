// Package settings merges admin form submissions into the stored add-on
// settings and drives the license activation round trip.
package settings

import (
	"html"
	"net/url"
	"strings"

	"github.com/cmoptin/internal/model"
)

// Form field names posted by the settings screen.
const (
	FieldMarker       = "tgm-exchange-campaign-monitor-form"
	FieldToken        = "_wpnonce"
	FieldLicenseToken = "exchange_campaignmonitor_nonce"
	FieldActivate     = "exchange_campaignmonitor_license_activate"
	FieldDeactivate   = "exchange_campaignmonitor_license_deactivate"

	FieldLicenseKey = "_tgm_exchange_campaign_monitor[campaign-monitor-license-key]"
	FieldAPIKey     = "_tgm_exchange_campaign_monitor[campaign-monitor-api-key]"
	FieldClient     = "_tgm_exchange_campaign_monitor[campaign-monitor-client]"
	FieldList       = "_tgm_exchange_campaign_monitor[campaign-monitor-list]"
	FieldLabel      = "_tgm_exchange_campaign_monitor[campaign-monitor-label]"
	FieldChecked    = "_tgm_exchange_campaign_monitor[campaign-monitor-checked]"
)

// LicenseAction is the license button pressed alongside a save, if any.
type LicenseAction int

const (
	LicenseNone LicenseAction = iota
	LicenseActivate
	LicenseDeactivate
)

// Posted is one settings form submission. Nil fields were not posted.
type Posted struct {
	Token        string
	LicenseToken string
	Action       LicenseAction

	LicenseKey *string
	APIKey     *string
	ClientID   *string
	ListID     *string
	Label      *string
	Checked    bool
}

// ParsePosted reads a submission from form values.
func ParsePosted(form url.Values) Posted {
	p := Posted{
		Token:        form.Get(FieldToken),
		LicenseToken: form.Get(FieldLicenseToken),
		LicenseKey:   optional(form, FieldLicenseKey),
		APIKey:       optional(form, FieldAPIKey),
		ClientID:     optional(form, FieldClient),
		ListID:       optional(form, FieldList),
		Label:        optional(form, FieldLabel),
		Checked:      form.Has(FieldChecked),
	}
	switch {
	case form.Has(FieldActivate):
		p.Action = LicenseActivate
	case form.Has(FieldDeactivate):
		p.Action = LicenseDeactivate
	}
	return p
}

func optional(form url.Values, key string) *string {
	if !form.Has(key) {
		return nil
	}
	v := form.Get(key)
	return &v
}

// Merge applies posted over current field by field and returns the result.
// Absent fields keep their current value, except the checkbox, whose absence
// means unchecked. current is not modified.
func Merge(current *model.Settings, posted Posted) *model.Settings {
	next := *current

	if posted.LicenseKey != nil {
		next.LicenseKey = strings.TrimSpace(*posted.LicenseKey)
	}
	if posted.APIKey != nil {
		next.APIKey = strings.TrimSpace(*posted.APIKey)
	}
	if posted.ClientID != nil {
		next.ClientID = html.EscapeString(strings.TrimSpace(*posted.ClientID))
	}
	if posted.ListID != nil {
		next.ListID = html.EscapeString(strings.TrimSpace(*posted.ListID))
	}
	if posted.Label != nil {
		next.Label = model.StoredLabel(*posted.Label)
	}
	next.CheckedByDefault = posted.Checked

	// a list belongs to its client
	if posted.ListID == nil && next.ClientID != "" && next.ClientID != current.ClientID {
		next.ListID = ""
	}
	return &next
}
