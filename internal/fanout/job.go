package fanout

import "time"

// Job is one (activity, recipient) delivery pair — jobs are
// pre-expanded to one recipient each at enqueue time so the queue
// naturally gives per-destination backpressure (§1, §4.G).
type Job struct {
	ActivityJSON []byte
	Recipient    string // inbox IRI
	Domain       string // recipient's domain, for policy re-checks
	Software     *string
	Attempt      int
	NextDue      time.Time
}

// MaxAttempts is the number of delivery attempts before a job is
// dropped (§4.G: "capped at 6 attempts then dropped").
const MaxAttempts = 6

// maxBackoff is the ceiling backoff's exponential growth saturates
// at (§4.G: "min(60 * 2^attempt, 3600)").
const maxBackoff = time.Hour

// nextDue computes when a job should next be attempted after its
// attempt'th failure, a pure function so backoff monotonicity
// (Testable Property 7) can be unit-tested without a running engine.
func nextDue(attempt int, now time.Time) time.Time {
	seconds := 60 * (1 << uint(attempt))
	backoff := time.Duration(seconds) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return now.Add(backoff)
}
