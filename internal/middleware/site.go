package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cmoptin/internal/model"
	"github.com/cmoptin/internal/store"
)

type siteGetter interface {
	Get(ctx context.Context, id string) (*model.Site, error)
}

// Site resolves the {site} URL parameter and stores the site in the request
// context. Unknown sites get a 404.
func Site(sites siteGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			site, err := sites.Get(r.Context(), chi.URLParam(r, "site"))
			if errors.Is(err, store.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			if err != nil {
				slog.Error("site: lookup failed", "err", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeySite, site)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SiteFromContext returns the site resolved by Site, or nil.
func SiteFromContext(ctx context.Context) *model.Site {
	v, _ := ctx.Value(contextKeySite).(*model.Site)
	return v
}

// WithSite returns a copy of ctx carrying site.
func WithSite(ctx context.Context, site *model.Site) context.Context {
	return context.WithValue(ctx, contextKeySite, site)
}
