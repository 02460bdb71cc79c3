// Package lifecycle seeds and removes the add-on's per-site records when the
// add-on is installed on or removed from a host.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cmoptin/internal/model"
)

type siteStore interface {
	Get(ctx context.Context, id string) (*model.Site, error)
	List(ctx context.Context) ([]model.Site, error)
}

type settingsStore interface {
	Seed(ctx context.Context, siteID string) (bool, error)
	Delete(ctx context.Context, siteID string) error
}

type licenseStore interface {
	ClearStatus(ctx context.Context, siteID string) error
}

type Manager struct {
	sites    siteStore
	settings settingsStore
	licenses licenseStore
	logger   *slog.Logger
}

func NewManager(sites siteStore, settings settingsStore, licenses licenseStore, logger *slog.Logger) *Manager {
	return &Manager{
		sites:    sites,
		settings: settings,
		licenses: licenses,
		logger:   logger.With("component", "lifecycle"),
	}
}

// Install writes default settings for siteID, or for every site when siteID
// is empty. Existing records are left untouched. It returns how many sites
// were seeded.
func (m *Manager) Install(ctx context.Context, siteID string) (int, error) {
	sites, err := m.targets(ctx, siteID)
	if err != nil {
		return 0, err
	}

	seeded := 0
	for _, site := range sites {
		ok, err := m.settings.Seed(ctx, site.ID)
		if err != nil {
			return seeded, fmt.Errorf("seed site %s: %w", site.ID, err)
		}
		if ok {
			seeded++
			m.logger.Info("lifecycle: seeded default settings", "site", site.ID)
		}
	}
	return seeded, nil
}

// Uninstall removes the settings and license status of every site.
func (m *Manager) Uninstall(ctx context.Context) (int, error) {
	sites, err := m.sites.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sites: %w", err)
	}

	for i, site := range sites {
		if err := m.settings.Delete(ctx, site.ID); err != nil {
			return i, fmt.Errorf("delete settings for site %s: %w", site.ID, err)
		}
		if err := m.licenses.ClearStatus(ctx, site.ID); err != nil {
			return i, fmt.Errorf("clear license status for site %s: %w", site.ID, err)
		}
		m.logger.Info("lifecycle: removed add-on records", "site", site.ID)
	}
	return len(sites), nil
}

func (m *Manager) targets(ctx context.Context, siteID string) ([]model.Site, error) {
	if siteID == "" {
		sites, err := m.sites.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sites: %w", err)
		}
		return sites, nil
	}
	site, err := m.sites.Get(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("get site %s: %w", siteID, err)
	}
	return []model.Site{*site}, nil
}
