package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/organlink/core/logger"
	"github.com/kilianp07/organlink/core/model"
)

// Cache stores geocoding and routing results.
type Cache interface {
	GetCoord(ctx context.Context, address string) (model.Coord, bool, error)
	PutCoord(ctx context.Context, address string, c model.Coord) error
	GetRoute(ctx context.Context, key string) (Route, bool, error)
	PutRoute(ctx context.Context, key string, r Route) error
}

// RouteKey is the cache key of the route from one coordinate to another.
func RouteKey(from, to model.Coord) string {
	return fmt.Sprintf("%s|%s", from, to)
}

// CachedProvider consults a Cache before calling the wrapped provider.
// Cache failures are logged and never fail the lookup.
type CachedProvider struct {
	next  MapProvider
	cache Cache
	log   logger.Logger
}

// NewCachedProvider wraps next with cache.
func NewCachedProvider(next MapProvider, cache Cache, log logger.Logger) *CachedProvider {
	if log == nil {
		log = logger.Nop{}
	}
	return &CachedProvider{next: next, cache: cache, log: log}
}

func (c *CachedProvider) Geocode(ctx context.Context, address string) (model.Coord, error) {
	key := NormalizeAddress(address)
	if coord, ok, err := c.cache.GetCoord(ctx, key); err != nil {
		c.log.Warnf("geocode cache read %q: %v", key, err)
	} else if ok {
		return coord, nil
	}
	coord, err := c.next.Geocode(ctx, address)
	if err != nil {
		return model.Coord{}, err
	}
	if err := c.cache.PutCoord(ctx, key, coord); err != nil {
		c.log.Warnf("geocode cache write %q: %v", key, err)
	}
	return coord, nil
}

func (c *CachedProvider) Route(ctx context.Context, from, to model.Coord) (Route, error) {
	key := RouteKey(from, to)
	if r, ok, err := c.cache.GetRoute(ctx, key); err != nil {
		c.log.Warnf("route cache read %s: %v", key, err)
	} else if ok {
		return r, nil
	}
	r, err := c.next.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	if err := c.cache.PutRoute(ctx, key, r); err != nil {
		c.log.Warnf("route cache write %s: %v", key, err)
	}
	return r, nil
}

// MemoryCache is an in-process Cache. Routes expire after ttl; geocodes
// never expire.
type MemoryCache struct {
	mu     sync.RWMutex
	coords map[string]model.Coord
	routes map[string]cachedRoute
	ttl    time.Duration
	now    func() time.Time
}

type cachedRoute struct {
	route   Route
	expires time.Time
}

// NewMemoryCache returns an empty MemoryCache. A zero ttl keeps routes forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		coords: map[string]model.Coord{},
		routes: map[string]cachedRoute{},
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryCache) GetCoord(_ context.Context, address string) (model.Coord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coords[address]
	return c, ok, nil
}

func (m *MemoryCache) PutCoord(_ context.Context, address string, c model.Coord) error {
	m.mu.Lock()
	m.coords[address] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) GetRoute(_ context.Context, key string) (Route, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cr, ok := m.routes[key]
	if !ok || (!cr.expires.IsZero() && m.now().After(cr.expires)) {
		return Route{}, false, nil
	}
	return cr.route, true, nil
}

func (m *MemoryCache) PutRoute(_ context.Context, key string, r Route) error {
	var exp time.Time
	if m.ttl > 0 {
		exp = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.routes[key] = cachedRoute{route: r, expires: exp}
	m.mu.Unlock()
	return nil
}
