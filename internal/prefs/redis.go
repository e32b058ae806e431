package prefs

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/joeblew999/plat-incidents/internal/logger"
)

// Redis is a Store on a Redis server. Keys are namespaced by Prefix.
type Redis struct {
	Client *redis.Client
	Prefix string
}

// NewRedis wraps rc with the default "prefs:" namespace.
func NewRedis(rc *redis.Client) *Redis {
	return &Redis{Client: rc, Prefix: "prefs:"}
}

// OpenRedis connects to addr. An empty addr returns nil.
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	logger.L().Debug("redis_open", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// OpenRedisFromEnv reads REDIS_ADDR, REDIS_PASS and REDIS_DB. It returns
// nil when REDIS_ADDR is unset. A bad REDIS_DB falls back to 0.
func OpenRedisFromEnv() *redis.Client {
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	return OpenRedis(os.Getenv("REDIS_ADDR"), os.Getenv("REDIS_PASS"), db)
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.Client.Get(ctx, r.Prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.Client.Set(ctx, r.Prefix+key, value, 0).Err()
}
