package model

// Site is one tenant of a multi-site install. Each site has its own settings
// and license status.
type Site struct {
	ID      string `json:"id" db:"id"`
	HomeURL string `json:"homeUrl" db:"home_url"`
}

// LicenseStatus is the cached validity of the add-on license for a site.
type LicenseStatus string

const (
	LicenseValid   LicenseStatus = "valid"
	LicenseInvalid LicenseStatus = "invalid"
	LicenseUnknown LicenseStatus = "unknown"
)

// ParseLicenseStatus maps a stored string to a LicenseStatus.
func ParseLicenseStatus(s string) LicenseStatus {
	switch LicenseStatus(s) {
	case LicenseValid:
		return LicenseValid
	case LicenseInvalid:
		return LicenseInvalid
	default:
		return LicenseUnknown
	}
}
