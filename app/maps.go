package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/organlink/config"
	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/infra/cache"
	"github.com/kilianp07/organlink/infra/logger"
	"github.com/kilianp07/organlink/infra/ors"
)

// buildMaps returns the configured mapping provider behind the geocode and
// route cache. The pool is nil unless the postgres cache is used.
func buildMaps(ctx context.Context, cfg *config.Config, log logger.Logger) (geo.MapProvider, *pgxpool.Pool, error) {
	var provider geo.MapProvider
	switch cfg.ORS.Provider {
	case "straight":
		provider = geo.NewStraightLineProvider(cfg.ORS.Places, cfg.ORS.SpeedKmh)
	default:
		p, err := ors.New(cfg.ORS.Client, logger.New("ors"))
		if err != nil {
			return nil, nil, fmt.Errorf("ors provider: %w", err)
		}
		provider = p
	}

	var (
		c    geo.Cache
		pool *pgxpool.Pool
	)
	switch cfg.Cache.Backend {
	case "postgres":
		pc, p, err := cache.Open(ctx, cfg.Cache.Postgres())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres cache: %w", err)
		}
		c, pool = pc, p
	default:
		c = geo.NewMemoryCache(cfg.Cache.RouteTTL)
	}
	return geo.NewCachedProvider(provider, c, log), pool, nil
}
