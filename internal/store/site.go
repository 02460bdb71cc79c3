package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/cmoptin/internal/model"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type SiteStore struct {
	db *sqlx.DB
}

func NewSiteStore(db *sqlx.DB) *SiteStore {
	return &SiteStore{db: db}
}

// Create registers a site under a fresh ID.
func (s *SiteStore) Create(ctx context.Context, homeURL string) (*model.Site, error) {
	site := &model.Site{
		ID:      uuid.NewString(),
		HomeURL: strings.TrimRight(strings.TrimSpace(homeURL), "/"),
	}
	if site.HomeURL == "" {
		return nil, errors.New("site home URL is required")
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO sites (id, home_url) VALUES (?, ?)`), site.ID, site.HomeURL)
	if err != nil {
		return nil, err
	}
	return site, nil
}

func (s *SiteStore) Get(ctx context.Context, id string) (*model.Site, error) {
	var site model.Site
	err := s.db.GetContext(ctx, &site, s.db.Rebind(
		`SELECT id, home_url FROM sites WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// List returns every site ordered by creation.
func (s *SiteStore) List(ctx context.Context) ([]model.Site, error) {
	var sites []model.Site
	err := s.db.SelectContext(ctx, &sites, `SELECT id, home_url FROM sites ORDER BY created_at, id`)
	return sites, err
}

// Ping verifies database connectivity.
func (s *SiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
