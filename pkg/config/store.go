package config

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/statestore"
)

// OpenStore builds the configured document store. The returned close
// function releases the store's connections and is never nil.
func (c *StateStoreConfig) OpenStore() (statestore.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.Type {
	case "", StoreMemory:
		return statestore.NewMemoryStore(), noop, nil

	case StoreRedis:
		if c.Redis == nil {
			return nil, noop, &ValidationError{Field: "stateStore.redis", Message: "required for redis store"}
		}
		ttl, err := c.Redis.ttl()
		if err != nil {
			return nil, noop, &ValidationError{Field: "stateStore.redis.ttl", Message: "must be a duration", Value: c.Redis.TTL}
		}
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		var opts []statestore.RedisOption
		if ttl > 0 {
			opts = append(opts, statestore.WithTTL(ttl))
		}
		if c.Redis.Prefix != "" {
			opts = append(opts, statestore.WithPrefix(c.Redis.Prefix))
		}
		return statestore.NewRedisStore(client, opts...), client.Close, nil

	case StoreSQLite:
		path := DefaultSQLitePath
		if c.SQLite != nil && c.SQLite.Path != "" {
			path = c.SQLite.Path
		}
		store, err := statestore.NewSQLiteStore(path)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil

	default:
		return nil, noop, &ValidationError{
			Field:   "stateStore.type",
			Message: "must be one of: memory, redis, sqlite",
			Value:   c.Type,
		}
	}
}

// ttl parses TTL; an empty value means the store default.
func (r *RedisStoreConfig) ttl() (time.Duration, error) {
	if r.TTL == "" {
		return 0, nil
	}
	return time.ParseDuration(r.TTL)
}
