package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cmoptin/internal/crypto"
	"github.com/cmoptin/internal/model"
	"github.com/jmoiron/sqlx"
)

type SettingsStore struct {
	opts    options
	crypter *crypto.Crypter
}

func NewSettingsStore(db *sqlx.DB, crypter *crypto.Crypter) *SettingsStore {
	return &SettingsStore{opts: options{db: db}, crypter: crypter}
}

// Load decrypts and returns the settings for a site. A site that was never
// installed reads as the defaults without writing them.
func (s *SettingsStore) Load(ctx context.Context, siteID string) (*model.Settings, error) {
	sealed, err := s.opts.get(ctx, siteID, OptionSettings)
	if errors.Is(err, ErrNotFound) {
		return model.DefaultSettings(), nil
	} else if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	plaintext, err := s.crypter.DecryptString(sealed)
	if err != nil {
		slog.Error("settings: decryption failed", "site", siteID, "err", err)
		return nil, err
	}
	settings := model.DefaultSettings()
	if err := json.Unmarshal(plaintext, settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		slog.Warn("settings: stored record normalized", "site", siteID, "err", err)
		settings.Normalize()
	}
	return settings, nil
}

// Save encrypts and persists settings.
func (s *SettingsStore) Save(ctx context.Context, siteID string, settings *model.Settings) error {
	sealed, err := s.seal(settings)
	if err != nil {
		return err
	}
	return s.opts.put(ctx, siteID, OptionSettings, sealed)
}

// Seed writes the defaults unless a record already exists.
func (s *SettingsStore) Seed(ctx context.Context, siteID string) (bool, error) {
	sealed, err := s.seal(model.DefaultSettings())
	if err != nil {
		return false, err
	}
	return s.opts.add(ctx, siteID, OptionSettings, sealed)
}

// Delete removes the settings record.
func (s *SettingsStore) Delete(ctx context.Context, siteID string) error {
	return s.opts.delete(ctx, siteID, OptionSettings)
}

func (s *SettingsStore) seal(settings *model.Settings) (string, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	return s.crypter.EncryptString(raw)
}

// LicenseStore keeps the cached license validity string.
type LicenseStore struct {
	opts options
}

func NewLicenseStore(db *sqlx.DB) *LicenseStore {
	return &LicenseStore{opts: options{db: db}}
}

func (s *LicenseStore) Status(ctx context.Context, siteID string) (model.LicenseStatus, error) {
	v, err := s.opts.get(ctx, siteID, OptionLicenseStatus)
	if errors.Is(err, ErrNotFound) {
		return model.LicenseUnknown, nil
	} else if err != nil {
		return model.LicenseUnknown, err
	}
	return model.ParseLicenseStatus(v), nil
}

func (s *LicenseStore) SetStatus(ctx context.Context, siteID string, status model.LicenseStatus) error {
	return s.opts.put(ctx, siteID, OptionLicenseStatus, string(status))
}

func (s *LicenseStore) ClearStatus(ctx context.Context, siteID string) error {
	return s.opts.delete(ctx, siteID, OptionLicenseStatus)
}
