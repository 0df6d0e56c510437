// Package fanout implements outbound delivery fan-out (§4.G): a
// bounded per-recipient job queue, a worker pool, and an exponential
// backoff retry schedule realized as a container/heap delay wheel.
package fanout

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/activityrelay/activityrelay/internal/activity"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/policy"
	"github.com/activityrelay/activityrelay/internal/relayerr"
	"github.com/activityrelay/activityrelay/internal/store"
)

// queueCapacity is the bound on in-flight (activity, recipient) pairs
// (§4.G: "bounded chan Job of capacity 10,000").
const queueCapacity = 10_000

// enqueueTimeout is how long Enqueue blocks on a full queue before
// giving up (§5 Backpressure).
const enqueueTimeout = 30 * time.Second

// delaySweepInterval is how often the delay wheel is checked for due
// jobs.
const delaySweepInterval = time.Second

// notFoundFailureThreshold is how many consecutive 404s mark an
// inbox failed (§4.G).
const notFoundFailureThreshold = 3

// Deliverer is the subset of *apclient.Client the engine needs,
// narrowed to an interface so tests can substitute a fake.
type Deliverer interface {
	Deliver(ctx context.Context, inbox string, body []byte, key *rsa.PrivateKey, keyID string, software *string) (int, error)
}

// SnapshotSource supplies a fresh policy.Snapshot, so the per-job
// policy re-check (§4.G: "re-evaluated per recipient right before
// signing, not cached from enqueue time") sees bans applied after
// enqueue.
type SnapshotSource func(ctx context.Context) (policy.Snapshot, error)

// Engine runs the worker pool and delay wheel described by §4.G.
type Engine struct {
	store     store.Store
	deliverer Deliverer
	snapshot  SnapshotSource
	key       *rsa.PrivateKey
	keyID     string
	log       *logging.Logger

	queue chan Job
	wheel *delayWheel

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New builds an Engine. key/keyID are the relay's own signing
// identity, used for every delivery the engine makes.
func New(s store.Store, deliverer Deliverer, snapshot SnapshotSource, key *rsa.PrivateKey, keyID string, log *logging.Logger) *Engine {
	return &Engine{
		store:     s,
		deliverer: deliverer,
		snapshot:  snapshot,
		key:       key,
		keyID:     keyID,
		log:       log,
		queue:     make(chan Job, queueCapacity),
		wheel:     newDelayWheel(),
	}
}

// Enqueue submits job, blocking up to 30s if the queue is full before
// returning a relayerr.KindBackpressure error (§5).
func (e *Engine) Enqueue(ctx context.Context, job Job) error {
	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case e.queue <- job:
		return nil
	case <-timer.C:
		return relayerr.New(relayerr.KindBackpressure, "fanout: queue full")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches n workers (0 means runtime.NumCPU()) plus the delay
// wheel's sweep goroutine and returns immediately; they exit when ctx
// is cancelled, and Wait blocks until they have.
func (e *Engine) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	e.wg.Add(1)
	go e.runDelaySweep(ctx)

	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx)
	}
}

// Wait blocks until every worker and the sweep goroutine have
// returned, used by the supervisor's graceful shutdown (§4.I).
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) runDelaySweep(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(delaySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			due := e.wheel.due(time.Now().UTC())
			e.mu.Unlock()
			for _, j := range due {
				select {
				case e.queue <- j:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (e *Engine) runWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.queue:
			e.deliver(ctx, job)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, job Job) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		e.log.Warning("fanout: load snapshot: %v", err)
		return
	}
	if decision := policy.Evaluate(snap, job.Domain, job.Software); decision != policy.Allow {
		// Policy changed mid-flight; drop silently (§4.G).
		return
	}

	status, err := e.deliverer.Deliver(ctx, job.Recipient, job.ActivityJSON, e.key, e.keyID, job.Software)
	if err == nil && status >= 200 && status < 300 {
		_ = e.store.MarkInboxFailed(ctx, job.Domain, false)
		return
	}

	if err == nil && status == http.StatusGone {
		// 410 Gone is terminal — the recipient told us outright that
		// it's gone, so this is not a transient failure to retry
		// (§4.G, distinct from the exponential-backoff branch below).
		_ = e.store.MarkInboxFailed(ctx, job.Domain, true)
		return
	}
	if err == nil && status == http.StatusNotFound {
		// Three consecutive 404s is also terminal; fewer are tolerated
		// as possibly-transient misconfiguration on the recipient's
		// side (§4.G).
		if count, bumpErr := e.store.BumpInbox404(ctx, job.Domain); bumpErr == nil && count >= notFoundFailureThreshold {
			_ = e.store.MarkInboxFailed(ctx, job.Domain, true)
			return
		}
	}

	kind, _ := relayerr.As(err)
	if kind == relayerr.KindBlocked {
		return
	}

	attempt := job.Attempt
	job.Attempt++
	if job.Attempt >= MaxAttempts {
		e.log.Warning("fanout: dropping job to %s after %d attempts", job.Recipient, job.Attempt)
		_ = e.store.MarkInboxFailed(ctx, job.Domain, true)
		return
	}

	job.NextDue = nextDue(attempt, time.Now().UTC())
	e.mu.Lock()
	e.wheel.push(job)
	e.mu.Unlock()
}

// Rebroadcast computes the relay-wide fan-out of incoming: every
// subscribed inbox whose domain is not originDomain and is not
// currently banned (Testable Property 6), wrapping incoming in a
// relay-signed Announce unless it is already an Announce authored by
// the originating subscriber.
func (e *Engine) Rebroadcast(ctx context.Context, incoming *activity.Activity, body []byte, originDomain string) error {
	inboxes, err := e.store.ListActiveInboxes(ctx)
	if err != nil {
		return fmt.Errorf("fanout: list active inboxes: %w", err)
	}

	snap, err := e.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("fanout: load snapshot: %w", err)
	}

	payload := body
	if incoming.Type != "Announce" {
		wrapped, err := wrapAnnounce(incoming, e.keyID)
		if err != nil {
			return err
		}
		payload = wrapped
	}

	for _, inbox := range inboxes {
		if inbox.Domain == originDomain {
			continue
		}
		var software *string
		if inbox.Software != "" {
			software = &inbox.Software
		}
		if policy.Evaluate(snap, inbox.Domain, software) != policy.Allow {
			continue
		}

		job := Job{
			ActivityJSON: payload,
			Recipient:    inbox.Inbox,
			Domain:       inbox.Domain,
			Software:     software,
			NextDue:      time.Now().UTC(),
		}
		if err := e.Enqueue(ctx, job); err != nil {
			e.log.Warning("fanout: enqueue rebroadcast to %s: %v", inbox.Domain, err)
		}
	}
	return nil
}
