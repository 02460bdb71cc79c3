package model

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLabel is the opt-in checkbox label used until an admin changes it.
const DefaultLabel = "Sign up to receive updates via email!"

const maxLabelLength = 255

// Settings is the per-site add-on configuration.
type Settings struct {
	APIKey           string `json:"apiKey"`
	ClientID         string `json:"clientId"`
	ListID           string `json:"listId"`
	Label            string `json:"label"`
	CheckedByDefault bool   `json:"checkedByDefault"`
	LicenseKey       string `json:"licenseKey"`
}

// DefaultSettings returns the record seeded on install.
func DefaultSettings() *Settings {
	return &Settings{
		Label:            DefaultLabel,
		CheckedByDefault: true,
	}
}

// OptinReady reports whether both credentials needed to subscribe are set.
func (s *Settings) OptinReady() bool {
	return strings.TrimSpace(s.APIKey) != "" && strings.TrimSpace(s.ListID) != ""
}

// Validate checks a loaded record. Label is stored HTML-escaped and its
// length is measured on the unescaped text.
func (s *Settings) Validate() error {
	var errs []error

	label := strings.TrimSpace(html.UnescapeString(s.Label))
	if label == "" {
		errs = append(errs, errors.New("label must not be empty"))
	}
	if utf8.RuneCountInString(label) > maxLabelLength {
		errs = append(errs, fmt.Errorf("label must be at most %d characters", maxLabelLength))
	}
	for name, v := range map[string]string{"apiKey": s.APIKey, "clientId": s.ClientID, "listId": s.ListID} {
		if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
			errs = append(errs, fmt.Errorf("%s must not contain whitespace", name))
		}
	}
	return errors.Join(errs...)
}

// Normalize repairs a record that failed Validate so it can still be served.
func (s *Settings) Normalize() {
	s.APIKey = strings.Join(strings.Fields(s.APIKey), "")
	s.ClientID = strings.Join(strings.Fields(s.ClientID), "")
	s.ListID = strings.Join(strings.Fields(s.ListID), "")

	s.Label = StoredLabel(html.UnescapeString(s.Label))
}

// StoredLabel turns a label typed by an admin into its stored form: trimmed,
// DefaultLabel when blank, cut to the maximum length and HTML-escaped.
func StoredLabel(raw string) string {
	label := strings.TrimSpace(raw)
	if label == "" {
		label = DefaultLabel
	}
	if utf8.RuneCountInString(label) > maxLabelLength {
		label = strings.TrimSpace(string([]rune(label)[:maxLabelLength]))
	}
	return html.EscapeString(label)
}
