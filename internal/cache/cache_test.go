package cache

import (
	"context"
	"testing"
	"time"

	"github.com/activityrelay/activityrelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements store.Store using only the cache-row methods;
// every other method panics since dbCache never calls them.
type fakeStore struct {
	store.Store
	rows map[string]store.CacheRow
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]store.CacheRow{}} }

func rowKey(ns, key string) string { return ns + "\x00" + key }

func (f *fakeStore) GetCacheRow(ctx context.Context, ns, key string) (*store.CacheRow, error) {
	row, ok := f.rows[rowKey(ns, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := row
	return &cp, nil
}

func (f *fakeStore) PutCacheRow(ctx context.Context, row store.CacheRow) error {
	f.rows[rowKey(row.Namespace, row.Key)] = row
	return nil
}

func (f *fakeStore) DeleteCacheRow(ctx context.Context, ns, key string) error {
	delete(f.rows, rowKey(ns, key))
	return nil
}

func (f *fakeStore) DeleteCacheNamespace(ctx context.Context, ns string) error {
	for k, row := range f.rows {
		if row.Namespace == ns {
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakeStore) ClearCache(ctx context.Context) error {
	f.rows = map[string]store.CacheRow{}
	return nil
}

func (f *fakeStore) SweepExpiredCache(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	n := 0
	for k, row := range f.rows {
		if row.Updated.Before(cutoff) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func TestDBCachePutGetRoundTrip(t *testing.T) {
	c := NewDatabase(newFakeStore())
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, NamespaceActor, "https://example.com/actor", StringValue("payload")))
	val, err := c.Get(ctx, NamespaceActor, "https://example.com/actor")
	require.NoError(t, err)
	assert.Equal(t, "payload", val.String())
}

func TestDBCacheMissReturnsErrMiss(t *testing.T) {
	c := NewDatabase(newFakeStore())
	_, err := c.Get(context.Background(), NamespaceNodeinfo, "missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDBCacheExpiredEntryIsMiss(t *testing.T) {
	fs := newFakeStore()
	c := &dbCache{store: fs, now: func() time.Time { return time.Now().UTC() }}
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, NamespaceNodeinfo, "example.com", StringValue("v")))
	// Advance the clock past nodeinfo's 1h TTL.
	c.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	_, err := c.Get(ctx, NamespaceNodeinfo, "example.com")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestJSONValueRoundTrip(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	v := JSONValue(payload{Name: "relay"})

	var out payload
	require.NoError(t, v.Unmarshal(&out))
	assert.Equal(t, "relay", out.Name)
}

func TestIntValueRoundTrip(t *testing.T) {
	v := IntValue(42)
	assert.Equal(t, int64(42), v.Int())
}

func TestBoolValueRoundTrip(t *testing.T) {
	assert.True(t, BoolValue(true).Bool())
	assert.False(t, BoolValue(false).Bool())
}

func TestDBCacheDeleteNamespaceLeavesOtherNamespacesAlone(t *testing.T) {
	c := NewDatabase(newFakeStore())
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, NamespaceActor, "a", StringValue("1")))
	require.NoError(t, c.Put(ctx, NamespaceNodeinfo, "b", StringValue("2")))

	require.NoError(t, c.DeleteNamespace(ctx, NamespaceActor))

	_, err := c.Get(ctx, NamespaceActor, "a")
	assert.ErrorIs(t, err, ErrMiss)
	val, err := c.Get(ctx, NamespaceNodeinfo, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", val.String())
}

func TestDBCacheClearDropsEverything(t *testing.T) {
	c := NewDatabase(newFakeStore())
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, NamespaceActor, "a", StringValue("1")))
	require.NoError(t, c.Put(ctx, NamespaceNodeinfo, "b", StringValue("2")))

	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, NamespaceActor, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, NamespaceNodeinfo, "b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestTTLForKnownNamespaces(t *testing.T) {
	assert.Equal(t, time.Hour, TTLFor(NamespaceNodeinfo))
	assert.Equal(t, 6*time.Hour, TTLFor(NamespaceActor))
	assert.Equal(t, 48*time.Hour, TTLFor(NamespaceRequest))
}
