package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisCache stores cache entries in redis, relying on native TTLs
// instead of the sweep-and-check approach dbCache needs (§4.B).
type redisCache struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the connection. Host/Port/User/Pass/Database
// mirror internal/config.RedisConfig; Prefix namespaces keys so one
// redis instance can back multiple relay deployments.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	Database int
	Prefix   string
}

// NewRedis dials addr and returns a Cache backed by it.
func NewRedis(opts RedisOptions) Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.Database,
	})
	return &redisCache{client: client, prefix: opts.Prefix}
}

func (c *redisCache) key(ns Namespace, key string) string {
	var b strings.Builder
	if c.prefix != "" {
		b.WriteString(c.prefix)
		b.WriteByte(':')
	}
	b.WriteString(string(ns))
	b.WriteByte(':')
	b.WriteString(key)
	return b.String()
}

func (c *redisCache) Get(ctx context.Context, ns Namespace, key string) (Value, error) {
	res, err := c.client.HGetAll(ctx, c.key(ns, key)).Result()
	if err != nil {
		return Value{}, err
	}
	raw, ok := res["value"]
	if !ok {
		return Value{}, ErrMiss
	}
	return Value{Raw: raw, typ: valueType(res["type"])}, nil
}

func (c *redisCache) Put(ctx context.Context, ns Namespace, key string, val Value) error {
	k := c.key(ns, key)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, k, map[string]any{"value": val.Raw, "type": string(val.typ)})
	pipe.Expire(ctx, k, ttlFor(ns))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) Delete(ctx context.Context, ns Namespace, key string) error {
	err := c.client.Del(ctx, c.key(ns, key)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// namespacePattern returns the SCAN match pattern for every key in ns.
func (c *redisCache) namespacePattern(ns Namespace) string {
	var b strings.Builder
	if c.prefix != "" {
		b.WriteString(c.prefix)
		b.WriteByte(':')
	}
	b.WriteString(string(ns))
	b.WriteString(":*")
	return b.String()
}

// deleteByPattern SCANs for keys matching pattern and DELs them in
// batches, avoiding a blocking KEYS call or an unscoped FLUSHDB that
// would touch other deployments sharing the same redis instance.
func (c *redisCache) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *redisCache) DeleteNamespace(ctx context.Context, ns Namespace) error {
	return c.deleteByPattern(ctx, c.namespacePattern(ns))
}

// Clear drops every cached entry under this cache's prefix. With no
// prefix configured, it scans each known namespace instead of issuing
// FLUSHDB, which would also wipe any unrelated keys sharing the DB.
func (c *redisCache) Clear(ctx context.Context) error {
	if c.prefix != "" {
		return c.deleteByPattern(ctx, c.prefix+":*")
	}
	for _, ns := range []Namespace{NamespaceNodeinfo, NamespaceActor, NamespaceRequest} {
		if err := c.DeleteNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

// Sweep is a no-op: redis expires keys itself via the TTL set in Put.
func (c *redisCache) Sweep(ctx context.Context) (int, error) { return 0, nil }

func (c *redisCache) Close() error { return c.client.Close() }
