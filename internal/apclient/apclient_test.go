package apclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/activityrelay/activityrelay/internal/cache"
	"github.com/activityrelay/activityrelay/internal/httpsig"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/policy"
	"github.com/activityrelay/activityrelay/internal/relayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is a minimal in-memory cache.Cache for tests.
type memCache struct{ rows map[string]cache.Value }

func newMemCache() *memCache { return &memCache{rows: map[string]cache.Value{}} }

func (m *memCache) Get(_ context.Context, ns cache.Namespace, key string) (cache.Value, error) {
	v, ok := m.rows[string(ns)+"/"+key]
	if !ok {
		return cache.Value{}, cache.ErrMiss
	}
	return v, nil
}

func (m *memCache) Put(_ context.Context, ns cache.Namespace, key string, v cache.Value) error {
	m.rows[string(ns)+"/"+key] = v
	return nil
}
func (m *memCache) Delete(_ context.Context, ns cache.Namespace, key string) error {
	delete(m.rows, string(ns)+"/"+key)
	return nil
}
func (m *memCache) DeleteNamespace(context.Context, cache.Namespace) error { return nil }
func (m *memCache) Clear(context.Context) error                           { return nil }
func (m *memCache) Sweep(context.Context) (int, error)                    { return 0, nil }
func (m *memCache) Close() error                                          { return nil }

func allowAll(string, *string) policy.Decision { return policy.Allow }

func TestFetchActorCachesAfterFirstFetch(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, acceptHeader, r.Header.Get("Accept"))
		w.Write([]byte(`{"id":"https://remote.example/actor","type":"Application","inbox":"https://remote.example/inbox"}`))
	}))
	defer srv.Close()

	c := New(allowAll, newMemCache(), logging.New(logging.LevelError))
	actor, err := c.FetchActor(context.Background(), srv.URL+"/actor")
	require.NoError(t, err)
	assert.Equal(t, "https://remote.example/actor", actor.ID)

	_, err = c.FetchActor(context.Background(), srv.URL+"/actor")
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second fetch should be served from cache")
}

func TestFetchActorBlockedByPolicyNeverDials(t *testing.T) {
	dialed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed = true
	}))
	defer srv.Close()

	deny := func(string, *string) policy.Decision { return policy.DenyBannedDomain }
	c := New(deny, newMemCache(), logging.New(logging.LevelError))

	_, err := c.FetchActor(context.Background(), srv.URL+"/actor")
	require.Error(t, err)
	assert.False(t, dialed)
	kind, ok := relayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, relayerr.KindBlocked, kind)
}

func TestDeliverSignsAndPosts(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("Signature")
		assert.Equal(t, "application/activity+json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	key, err := httpsig.GenerateKey()
	require.NoError(t, err)

	c := New(allowAll, newMemCache(), logging.New(logging.LevelError))
	status, err := c.Deliver(context.Background(), srv.URL+"/inbox", []byte(`{"type":"Accept"}`), key, "https://relay.example/actor#main-key", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, gotSig)
}
