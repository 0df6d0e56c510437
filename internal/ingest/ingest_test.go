package ingest

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activityrelay/activityrelay/internal/apclient"
	"github.com/activityrelay/activityrelay/internal/cache"
	"github.com/activityrelay/activityrelay/internal/fanout"
	"github.com/activityrelay/activityrelay/internal/httpsig"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/policy"
	"github.com/activityrelay/activityrelay/internal/store"
)

// --- fakes shared across ingest tests ---

type fakeStore struct {
	store.Store
	mu       sync.Mutex
	inboxes  map[string]store.Inbox
	config   map[string]store.ConfigEntry
	pending  map[string]store.PendingRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		inboxes: map[string]store.Inbox{},
		config:  map[string]store.ConfigEntry{},
		pending: map[string]store.PendingRequest{},
	}
}

func (f *fakeStore) GetInbox(_ context.Context, needle string) (*store.Inbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.inboxes[needle]; ok {
		cp := row
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) PutInbox(_ context.Context, row store.Inbox) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxes[row.Domain] = row
	return nil
}

func (f *fakeStore) DeleteInbox(_ context.Context, needle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inboxes[needle]; !ok {
		return store.ErrNotFound
	}
	delete(f.inboxes, needle)
	return nil
}

func (f *fakeStore) ListActiveInboxes(context.Context) ([]store.Inbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Inbox, 0, len(f.inboxes))
	for _, row := range f.inboxes {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeStore) GetConfig(_ context.Context, key string) (*store.ConfigEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.config[key]; ok {
		cp := e
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) PutPendingRequest(_ context.Context, req store.PendingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[req.Domain] = req
	return nil
}

// memCache is a minimal in-memory cache.Cache.
type memCache struct {
	mu   sync.Mutex
	rows map[string]cache.Value
}

func newMemCache() *memCache { return &memCache{rows: map[string]cache.Value{}} }

func (m *memCache) Get(_ context.Context, ns cache.Namespace, key string) (cache.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[string(ns)+"/"+key]
	if !ok {
		return cache.Value{}, cache.ErrMiss
	}
	return v, nil
}

func (m *memCache) Put(_ context.Context, ns cache.Namespace, key string, v cache.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[string(ns)+"/"+key] = v
	return nil
}
func (m *memCache) Delete(_ context.Context, ns cache.Namespace, key string) error { return nil }
func (m *memCache) DeleteNamespace(_ context.Context, ns cache.Namespace) error    { return nil }
func (m *memCache) Clear(context.Context) error                                   { return nil }
func (m *memCache) Sweep(context.Context) (int, error)                            { return 0, nil }
func (m *memCache) Close() error                                                  { return nil }

func allowAllDecision(string, *string) policy.Decision { return policy.Allow }

func allowAllSnapshot(context.Context) (policy.Snapshot, error) {
	return policy.Snapshot{
		BannedDomains:     map[string]struct{}{},
		BannedSoftware:    map[string]struct{}{},
		WhitelistedDomain: map[string]struct{}{},
	}, nil
}

type recordingDeliverer struct {
	mu    sync.Mutex
	dests []string
}

func (d *recordingDeliverer) Deliver(ctx context.Context, inbox string, body []byte, key *rsa.PrivateKey, keyID string, software *string) (int, error) {
	d.mu.Lock()
	d.dests = append(d.dests, inbox)
	d.mu.Unlock()
	return 202, nil
}

// newTestActorServer serves an ActivityPub actor document for path
// "/u/a" signed with actorKey, so ingest's signature verification and
// actor-resolution steps can run against a real HTTP round trip.
func newTestActorServer(t *testing.T, actorKey *rsa.PrivateKey) (*httptest.Server, string) {
	t.Helper()
	pub, err := httpsig.EncodePublicKey(actorKey)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)

	actorIRI := srv.URL + "/u/a"
	mux.HandleFunc("/u/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"id": %q, "type": "Person", "inbox": %q,
			"publicKey": {"id": %q, "publicKeyPem": %q}
		}`, actorIRI, actorIRI+"/inbox", actorIRI+"#main-key", pub)
	})
	return srv, actorIRI
}

func newHandler(t *testing.T, fs *fakeStore, deliverer fanout.Deliverer, snapshotSrc func(context.Context) (policy.Snapshot, error)) (*Handler, *rsa.PrivateKey) {
	t.Helper()
	relayKey, err := httpsig.GenerateKey()
	require.NoError(t, err)

	ap := apclient.New(allowAllDecision, newMemCache(), logging.New(logging.LevelError))
	engine := fanout.New(fs, deliverer, snapshotSrc, relayKey, "https://relay.example/actor#main-key", logging.New(logging.LevelError))

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx, 1)
	t.Cleanup(cancel)

	h, err := New(fs, ap, engine, logging.New(logging.LevelError), "relay.example", relayKey, "https://relay.example/actor#main-key", snapshotSrc)
	require.NoError(t, err)
	return h, relayKey
}

func postInbox(t *testing.T, h *Handler, actorKey *rsa.PrivateKey, keyID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	require.NoError(t, httpsig.Sign(req, body, actorKey, keyID))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// Scenario A: Follow accept.
func TestScenarioAFollowAccept(t *testing.T) {
	actorKey, err := httpsig.GenerateKey()
	require.NoError(t, err)
	actorSrv, actorIRI := newTestActorServer(t, actorKey)
	defer actorSrv.Close()

	fs := newFakeStore()
	deliverer := &recordingDeliverer{}
	h, _ := newHandler(t, fs, deliverer, allowAllSnapshot)

	body := []byte(fmt.Sprintf(`{"type":"Follow","actor":%q,"object":"https://relay.example/actor","id":%q}`,
		actorIRI, actorIRI+"/follow/1"))

	rec := postInbox(t, h, actorKey, actorIRI+"#main-key", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	domain := strings.TrimPrefix(actorSrv.URL, "http://")
	row, err := fs.GetInbox(context.Background(), domain)
	require.NoError(t, err)
	assert.Equal(t, actorIRI+"/follow/1", row.FollowID)

	time.Sleep(50 * time.Millisecond) // give the single fan-out worker time to drain the queue
	deliverer.mu.Lock()
	defer deliverer.mu.Unlock()
	assert.NotEmpty(t, deliverer.dests)
}

// Scenario B: banned domain.
func TestScenarioBBannedDomainRejected(t *testing.T) {
	actorKey, err := httpsig.GenerateKey()
	require.NoError(t, err)
	actorSrv, actorIRI := newTestActorServer(t, actorKey)
	defer actorSrv.Close()

	fs := newFakeStore()
	domain := strings.TrimPrefix(actorSrv.URL, "http://")
	deniedSnapshot := func(context.Context) (policy.Snapshot, error) {
		return policy.Snapshot{
			BannedDomains:     map[string]struct{}{domain: {}},
			BannedSoftware:    map[string]struct{}{},
			WhitelistedDomain: map[string]struct{}{},
		}, nil
	}
	h, _ := newHandler(t, fs, &recordingDeliverer{}, deniedSnapshot)

	body := []byte(fmt.Sprintf(`{"type":"Follow","actor":%q,"object":"https://relay.example/actor","id":%q}`,
		actorIRI, actorIRI+"/follow/1"))
	rec := postInbox(t, h, actorKey, actorIRI+"#main-key", body)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err = fs.GetInbox(context.Background(), domain)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Scenario D: dedup — the same activity id posted twice enqueues no
// second delivery and always answers 202.
func TestScenarioDDedupSuppressesRepost(t *testing.T) {
	actorKey, err := httpsig.GenerateKey()
	require.NoError(t, err)
	actorSrv, actorIRI := newTestActorServer(t, actorKey)
	defer actorSrv.Close()

	fs := newFakeStore()
	deliverer := &recordingDeliverer{}
	h, _ := newHandler(t, fs, deliverer, allowAllSnapshot)

	body := []byte(fmt.Sprintf(`{"type":"Follow","actor":%q,"object":"https://relay.example/actor","id":%q}`,
		actorIRI, actorIRI+"/follow/1"))

	rec1 := postInbox(t, h, actorKey, actorIRI+"#main-key", body)
	assert.Equal(t, http.StatusAccepted, rec1.Code)
	time.Sleep(50 * time.Millisecond)

	deliverer.mu.Lock()
	firstCount := len(deliverer.dests)
	deliverer.mu.Unlock()

	rec2 := postInbox(t, h, actorKey, actorIRI+"#main-key", body)
	assert.Equal(t, http.StatusAccepted, rec2.Code)

	deliverer.mu.Lock()
	defer deliverer.mu.Unlock()
	assert.Equal(t, firstCount, len(deliverer.dests), "re-posting a seen activity id must not enqueue new deliveries")
}
