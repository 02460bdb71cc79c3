package handler

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/Masterminds/semver/v3"
)

// minHostVersion is exclusive: the host must be newer than this.
var minHostVersion = semver.MustParse("1.0.3")

const hostNag = `To use the Campaign Monitor add-on for ExchangeWP, you must be using ExchangeWP version 1.0.3 or higher. <a href="%s">Please update now</a>.`

type addonManifest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Author      string `json:"author"`
	AuthorURL   string `json:"author_url"`
	Category    string `json:"category"`
	SettingsURL string `json:"settings_url"`
}

var manifest = addonManifest{
	Slug:        "campaign-monitor",
	Name:        "Campaign Monitor",
	Description: "Adds a Campaign Monitor optin checkbox to the user registration form.",
	Author:      "ExchangeWP",
	AuthorURL:   "https://exchangewp.com/",
	Category:    "email",
	SettingsURL: "/admin/sites/{site}/settings",
}

// AddonHandler answers the host's add-on registration call.
type AddonHandler struct {
	BaseHandler
}

func NewAddonHandler(base BaseHandler) *AddonHandler {
	return &AddonHandler{BaseHandler: base}
}

type registerRequest struct {
	HostVersion string `json:"host_version"`
	UpdateURL   string `json:"update_url"`
}

// Register returns the add-on manifest when the host is new enough, and an
// upgrade notice otherwise.
func (h *AddonHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	ok, err := hostSupported(req.HostVersion)
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	var env envelope
	if ok {
		env = envelope{"registered": true, "addon": manifest}
	} else {
		updateURL := req.UpdateURL
		if updateURL == "" {
			updateURL = "/wp-admin/update-core.php"
		}
		env = envelope{"registered": false, "nag": fmt.Sprintf(hostNag, html.EscapeString(updateURL))}
	}
	if err := h.writeJSON(w, http.StatusOK, env, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// hostSupported reports whether version is strictly greater than 1.0.3. A
// missing version is treated as unsupported.
func hostSupported(version string) (bool, error) {
	if version == "" {
		return false, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, errors.New("host_version is not a valid version")
	}
	return v.GreaterThan(minHostVersion), nil
}
