// Package cache persists geocoding and routing results in Postgres so that
// restarts do not re-query the mapping provider.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/core/model"
)

// Config configures the Postgres cache.
type Config struct {
	DatabaseURL string        `json:"database_url" koanf:"database_url"`
	RouteTTL    time.Duration `json:"route_ttl" koanf:"route_ttl"`
	MaxConns    int32         `json:"max_conns" koanf:"max_conns"`
}

// DB is the subset of *pgxpool.Pool used by the cache.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	address TEXT PRIMARY KEY,
	lat DOUBLE PRECISION NOT NULL,
	lng DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS route_cache (
	route_key TEXT PRIMARY KEY,
	polyline TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL,
	distance_meters INTEGER NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL
);
`

// PostgresCache implements geo.Cache. Routes older than ttl are treated as
// missing; geocodes never expire.
type PostgresCache struct {
	db  DB
	ttl time.Duration
	now func() time.Time
}

var _ geo.Cache = (*PostgresCache)(nil)

// Open connects a pool, verifies it and creates the tables.
func Open(ctx context.Context, cfg Config) (*PostgresCache, *pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("open cache: verify postgres connection: %w", err)
	}
	c := New(pool, cfg.RouteTTL)
	if err := c.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return c, pool, nil
}

// New wraps db.
func New(db DB, ttl time.Duration) *PostgresCache {
	return &PostgresCache{db: db, ttl: ttl, now: time.Now}
}

// EnsureSchema creates the cache tables when missing.
func (c *PostgresCache) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create cache schema: %w", err)
	}
	return nil
}

func (c *PostgresCache) GetCoord(ctx context.Context, address string) (model.Coord, bool, error) {
	var coord model.Coord
	err := c.db.QueryRow(ctx, `SELECT lat, lng FROM geocode_cache WHERE address = $1`, address).Scan(&coord.Lat, &coord.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Coord{}, false, nil
	}
	if err != nil {
		return model.Coord{}, false, fmt.Errorf("get geocode cache: %w", err)
	}
	return coord, true, nil
}

func (c *PostgresCache) PutCoord(ctx context.Context, address string, coord model.Coord) error {
	_, err := c.db.Exec(ctx, `
	INSERT INTO geocode_cache (address, lat, lng)
	VALUES ($1, $2, $3)
	ON CONFLICT (address) DO UPDATE
	SET lat = EXCLUDED.lat,
		lng = EXCLUDED.lng`, address, coord.Lat, coord.Lng)
	if err != nil {
		return fmt.Errorf("insert geocode cache address=%q: %w", address, err)
	}
	return nil
}

func (c *PostgresCache) GetRoute(ctx context.Context, key string) (geo.Route, bool, error) {
	var r geo.Route
	var cachedAt time.Time
	err := c.db.QueryRow(ctx, `
	SELECT polyline, duration_seconds, distance_meters, cached_at
	FROM route_cache
	WHERE route_key = $1`, key).Scan(&r.Polyline, &r.DurationSeconds, &r.DistanceMeters, &cachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return geo.Route{}, false, nil
	}
	if err != nil {
		return geo.Route{}, false, fmt.Errorf("get route cache: %w", err)
	}
	if c.ttl > 0 && c.now().Sub(cachedAt) > c.ttl {
		return geo.Route{}, false, nil
	}
	return r, true, nil
}

func (c *PostgresCache) PutRoute(ctx context.Context, key string, r geo.Route) error {
	_, err := c.db.Exec(ctx, `
	INSERT INTO route_cache (route_key, polyline, duration_seconds, distance_meters, cached_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (route_key) DO UPDATE
	SET polyline = EXCLUDED.polyline,
		duration_seconds = EXCLUDED.duration_seconds,
		distance_meters = EXCLUDED.distance_meters,
		cached_at = EXCLUDED.cached_at`,
		key, r.Polyline, r.DurationSeconds, r.DistanceMeters, c.now().UTC())
	if err != nil {
		return fmt.Errorf("insert route cache key=%q: %w", key, err)
	}
	return nil
}
