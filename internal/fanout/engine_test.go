package fanout

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/activityrelay/activityrelay/internal/activity"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/policy"
	"github.com/activityrelay/activityrelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements store.Store using only what the engine calls.
type fakeStore struct {
	store.Store
	mu       sync.Mutex
	inboxes  []store.Inbox
	failed   map[string]bool
	notFound map[string]int
}

func newFakeStore(inboxes ...store.Inbox) *fakeStore {
	return &fakeStore{inboxes: inboxes, failed: map[string]bool{}, notFound: map[string]int{}}
}

func (f *fakeStore) ListActiveInboxes(context.Context) ([]store.Inbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Inbox, len(f.inboxes))
	copy(out, f.inboxes)
	return out, nil
}

func (f *fakeStore) MarkInboxFailed(ctx context.Context, domain string, failed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[domain] = failed
	if !failed {
		f.notFound[domain] = 0
	}
	return nil
}

func (f *fakeStore) BumpInbox404(ctx context.Context, domain string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notFound[domain]++
	return f.notFound[domain], nil
}

// fakeDeliverer records every delivery it was asked to make and
// returns a scripted (status, err) pair per call.
type fakeDeliverer struct {
	mu    sync.Mutex
	calls []string
	next  func(inbox string) (int, error)
}

func (d *fakeDeliverer) Deliver(ctx context.Context, inbox string, body []byte, key *rsa.PrivateKey, keyID string, software *string) (int, error) {
	d.mu.Lock()
	d.calls = append(d.calls, inbox)
	d.mu.Unlock()
	return d.next(inbox)
}

func allowAllSnapshot(context.Context) (policy.Snapshot, error) {
	return policy.Snapshot{
		BannedDomains:     map[string]struct{}{},
		BannedSoftware:    map[string]struct{}{},
		WhitelistedDomain: map[string]struct{}{},
	}, nil
}

func TestRebroadcastExcludesOriginDomain(t *testing.T) {
	fs := newFakeStore(
		store.Inbox{Domain: "origin.example", Inbox: "https://origin.example/inbox"},
		store.Inbox{Domain: "other.example", Inbox: "https://other.example/inbox"},
	)
	deliverer := &fakeDeliverer{next: func(string) (int, error) { return 202, nil }}
	e := New(fs, deliverer, allowAllSnapshot, nil, "https://relay.example/actor#main-key", logging.New(logging.LevelError))

	a, err := activity.Parse([]byte(`{"id":"https://origin.example/1","type":"Create","to":"https://www.w3.org/ns/activitystreams#Public"}`))
	require.NoError(t, err)

	require.NoError(t, e.Rebroadcast(context.Background(), a, []byte(`{}`), "origin.example"))

	select {
	case job := <-e.queue:
		assert.Equal(t, "other.example", job.Domain)
	case <-time.After(time.Second):
		t.Fatal("expected one enqueued job")
	}

	select {
	case job := <-e.queue:
		t.Fatalf("unexpected second job enqueued: %+v", job)
	default:
	}
}

func TestRebroadcastSkipsBannedDomain(t *testing.T) {
	fs := newFakeStore(
		store.Inbox{Domain: "banned.example", Inbox: "https://banned.example/inbox"},
	)
	deliverer := &fakeDeliverer{next: func(string) (int, error) { return 202, nil }}
	snap := func(context.Context) (policy.Snapshot, error) {
		return policy.Snapshot{
			BannedDomains:     map[string]struct{}{"banned.example": {}},
			BannedSoftware:    map[string]struct{}{},
			WhitelistedDomain: map[string]struct{}{},
		}, nil
	}
	e := New(fs, deliverer, snap, nil, "https://relay.example/actor#main-key", logging.New(logging.LevelError))

	a, err := activity.Parse([]byte(`{"id":"https://other.example/1","type":"Create"}`))
	require.NoError(t, err)
	require.NoError(t, e.Rebroadcast(context.Background(), a, []byte(`{}`), "other.example"))

	select {
	case job := <-e.queue:
		t.Fatalf("banned domain should not be enqueued: %+v", job)
	default:
	}
}

func TestDeliverRetriesOnTransientFailureThenSucceeds(t *testing.T) {
	fs := newFakeStore()
	attempts := 0
	deliverer := &fakeDeliverer{next: func(string) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, assertTransientErr
		}
		return 200, nil
	}}
	e := New(fs, deliverer, allowAllSnapshot, nil, "https://relay.example/actor#main-key", logging.New(logging.LevelError))

	job := Job{Recipient: "https://a.example/inbox", Domain: "a.example", ActivityJSON: []byte(`{}`)}
	e.deliver(context.Background(), job)

	assert.Equal(t, 1, e.wheel.len(), "failed delivery should be rescheduled in the delay wheel")

	retried := e.wheel.due(time.Now().UTC().Add(time.Hour))
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].Attempt)
	e.deliver(context.Background(), retried[0])

	assert.Equal(t, 2, attempts)
	assert.Equal(t, 0, e.wheel.len(), "successful retry should not be rescheduled")
	failed, recorded := fs.failed["a.example"]
	assert.True(t, recorded, "successful retry should be recorded on the inbox row")
	assert.False(t, failed)
}

var assertTransientErr = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "connection reset" }

func TestDeliverDropsJobAfterMaxAttempts(t *testing.T) {
	fs := newFakeStore()
	deliverer := &fakeDeliverer{next: func(string) (int, error) { return 0, assertTransientErr }}
	e := New(fs, deliverer, allowAllSnapshot, nil, "https://relay.example/actor#main-key", logging.New(logging.LevelError))

	job := Job{Recipient: "https://a.example/inbox", Domain: "a.example", ActivityJSON: []byte(`{}`), Attempt: MaxAttempts - 1}
	e.deliver(context.Background(), job)

	assert.Equal(t, 0, e.wheel.len(), "job should be dropped, not rescheduled, once MaxAttempts is reached")
	assert.True(t, fs.failed["a.example"])
}

func TestThirdConsecutive404MarksInboxFailed(t *testing.T) {
	fs := newFakeStore()
	deliverer := &fakeDeliverer{next: func(string) (int, error) { return 404, nil }}
	e := New(fs, deliverer, allowAllSnapshot, nil, "https://relay.example/actor#main-key", logging.New(logging.LevelError))

	job := Job{Recipient: "https://a.example/inbox", Domain: "a.example", ActivityJSON: []byte(`{}`)}
	e.deliver(context.Background(), job)
	assert.False(t, fs.failed["a.example"], "one 404 should not mark the inbox failed")

	e.deliver(context.Background(), job)
	assert.False(t, fs.failed["a.example"], "two 404s should not mark the inbox failed")

	e.deliver(context.Background(), job)
	assert.True(t, fs.failed["a.example"], "a third consecutive 404 should mark the inbox failed")
}

func TestGoneMarksInboxFailedImmediately(t *testing.T) {
	fs := newFakeStore()
	deliverer := &fakeDeliverer{next: func(string) (int, error) { return 410, nil }}
	e := New(fs, deliverer, allowAllSnapshot, nil, "https://relay.example/actor#main-key", logging.New(logging.LevelError))

	job := Job{Recipient: "https://a.example/inbox", Domain: "a.example", ActivityJSON: []byte(`{}`)}
	e.deliver(context.Background(), job)

	assert.True(t, fs.failed["a.example"], "410 Gone should mark the inbox failed on the first response")
}

func TestEnqueueOnFullQueueReturnsWhenContextExpires(t *testing.T) {
	fs := newFakeStore()
	e := New(fs, &fakeDeliverer{next: func(string) (int, error) { return 200, nil }}, allowAllSnapshot, nil, "k", logging.New(logging.LevelError))
	e.queue = make(chan Job) // unbuffered, so Enqueue blocks until ctx expires

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Enqueue(ctx, Job{Recipient: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
