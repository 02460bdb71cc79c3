package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmoptin/internal/crypto"
	"github.com/cmoptin/internal/db"
	"github.com/cmoptin/internal/model"
	"github.com/cmoptin/internal/store"
)

type fixture struct {
	sites    *store.SiteStore
	settings *store.SettingsStore
	licenses *store.LicenseStore
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c, err := crypto.NewFromSecret("lifecycle-test-secret-lifecycle-test")
	require.NoError(t, err)

	f := &fixture{
		sites:    store.NewSiteStore(conn),
		settings: store.NewSettingsStore(conn, c),
		licenses: store.NewLicenseStore(conn),
	}
	f.manager = NewManager(f.sites, f.settings, f.licenses, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func TestInstall_SeedsOnlyMissingRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.sites.Create(ctx, "https://a.example.org")
	require.NoError(t, err)
	b, err := f.sites.Create(ctx, "https://b.example.org")
	require.NoError(t, err)

	custom := model.DefaultSettings()
	custom.APIKey = "K1"
	require.NoError(t, f.settings.Save(ctx, a.ID, custom))

	n, err := f.manager.Install(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.settings.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "K1", got.APIKey)

	got, err = f.settings.Load(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultLabel, got.Label)

	n, err = f.manager.Install(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInstall_SingleSite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.sites.Create(ctx, "https://a.example.org")
	require.NoError(t, err)
	_, err = f.sites.Create(ctx, "https://b.example.org")
	require.NoError(t, err)

	n, err := f.manager.Install(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.manager.Install(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUninstall_RemovesBothRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	site, err := f.sites.Create(ctx, "https://a.example.org")
	require.NoError(t, err)

	custom := model.DefaultSettings()
	custom.APIKey = "K1"
	require.NoError(t, f.settings.Save(ctx, site.ID, custom))
	require.NoError(t, f.licenses.SetStatus(ctx, site.ID, model.LicenseValid))

	n, err := f.manager.Uninstall(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.settings.Load(ctx, site.ID)
	require.NoError(t, err)
	assert.Empty(t, got.APIKey)

	status, err := f.licenses.Status(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LicenseUnknown, status)
}
