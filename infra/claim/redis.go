// Package claim implements the driver claimer on Redis so that concurrent
// dispatch workers never assign the same courier twice.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/organlink/core/errs"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string        `json:"addr" koanf:"addr"`
	Password string        `json:"password" koanf:"password"`
	DB       int           `json:"db" koanf:"db"`
	Prefix   string        `json:"prefix" koanf:"prefix"`
	TTL      time.Duration `json:"ttl" koanf:"ttl"`
}

// claimScript sets the key when it is absent or already owned by the same
// delivery, refreshing the expiry either way.
var claimScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if (not owner) or owner == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer stores one key per driver holding the claiming delivery id.
// Claims expire after ttl so a crashed worker cannot hold a courier forever.
type RedisClaimer struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config) (*RedisClaimer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, cfg.Prefix, cfg.TTL), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisClaimer {
	if prefix == "" {
		prefix = "organlink:driver-claim:"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisClaimer{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisClaimer) key(driverID string) string { return r.prefix + driverID }

// Claim reserves driverID for deliveryID. It reports false when another
// delivery holds the driver.
func (r *RedisClaimer) Claim(ctx context.Context, driverID, deliveryID string) (bool, error) {
	n, err := claimScript.Run(ctx, r.client, []string{r.key(driverID)}, deliveryID, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, errs.Downstream("claim driver", err)
	}
	return n == 1, nil
}

// Release drops the claim when it is held by deliveryID.
func (r *RedisClaimer) Release(ctx context.Context, driverID, deliveryID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(driverID)}, deliveryID).Err(); err != nil {
		return errs.Downstream("release driver", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisClaimer) Close() error { return r.client.Close() }
