package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Named records kept per site.
const (
	OptionSettings      = "campaign_monitor_settings"
	OptionLicenseStatus = "campaign_monitor_license_status"
)

var ErrNotFound = errors.New("store: not found")

// options is the per-site key/value table every record lives in.
type options struct {
	db *sqlx.DB
}

func (o options) get(ctx context.Context, siteID, name string) (string, error) {
	var value string
	err := o.db.GetContext(ctx, &value, o.db.Rebind(
		`SELECT value FROM addon_options WHERE site_id = ? AND name = ?`), siteID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (o options) put(ctx context.Context, siteID, name, value string) error {
	_, err := o.db.ExecContext(ctx, o.db.Rebind(`
		INSERT INTO addon_options (site_id, name, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (site_id, name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`),
		siteID, name, value)
	return err
}

// add inserts only when no record exists and reports whether it did.
func (o options) add(ctx context.Context, siteID, name, value string) (bool, error) {
	res, err := o.db.ExecContext(ctx, o.db.Rebind(`
		INSERT INTO addon_options (site_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT (site_id, name) DO NOTHING`),
		siteID, name, value)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (o options) delete(ctx context.Context, siteID, name string) error {
	_, err := o.db.ExecContext(ctx, o.db.Rebind(
		`DELETE FROM addon_options WHERE site_id = ? AND name = ?`), siteID, name)
	return err
}
