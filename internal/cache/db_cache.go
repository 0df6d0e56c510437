package cache

import (
	"context"
	"errors"
	"time"

	"github.com/activityrelay/activityrelay/internal/store"
)

// dbCache stores cache rows in the relay's own database (§4.B), for
// deployments that don't want to run a separate redis instance.
type dbCache struct {
	store store.Store
	now   func() time.Time
}

// NewDatabase wraps s as a Cache.
func NewDatabase(s store.Store) Cache {
	return &dbCache{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (c *dbCache) Get(ctx context.Context, ns Namespace, key string) (Value, error) {
	row, err := c.store.GetCacheRow(ctx, string(ns), key)
	if errors.Is(err, store.ErrNotFound) {
		return Value{}, ErrMiss
	}
	if err != nil {
		return Value{}, err
	}
	if c.now().Sub(row.Updated) > ttlFor(ns) {
		_ = c.store.DeleteCacheRow(ctx, string(ns), key)
		return Value{}, ErrMiss
	}
	return Value{Raw: row.Value, typ: valueType(row.Type)}, nil
}

func (c *dbCache) Put(ctx context.Context, ns Namespace, key string, val Value) error {
	return c.store.PutCacheRow(ctx, store.CacheRow{
		Namespace: string(ns),
		Key:       key,
		Value:     val.Raw,
		Type:      string(val.typ),
		Updated:   c.now(),
	})
}

func (c *dbCache) Delete(ctx context.Context, ns Namespace, key string) error {
	return c.store.DeleteCacheRow(ctx, string(ns), key)
}

func (c *dbCache) DeleteNamespace(ctx context.Context, ns Namespace) error {
	return c.store.DeleteCacheNamespace(ctx, string(ns))
}

func (c *dbCache) Clear(ctx context.Context) error {
	return c.store.ClearCache(ctx)
}

func (c *dbCache) Sweep(ctx context.Context) (int, error) {
	// One sweep pass covers every namespace, bounded by the longest
	// configured TTL (request, 48h) so it never removes a row a
	// shorter-TTL namespace's own Get hasn't already treated as
	// expired; per-namespace freshness is enforced by Get itself.
	return c.store.SweepExpiredCache(ctx, ttlFor(NamespaceRequest))
}

func (c *dbCache) Close() error { return nil }
