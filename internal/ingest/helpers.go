package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/activityrelay/activityrelay/internal/fanout"
)

// shortHash gives relay-originated activity IDs a short, stable,
// collision-resistant suffix without pulling in a UUID dependency for
// what is purely an identifier fragment.
func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func marshalCanonical(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ingest: marshal activity: %w", err)
	}
	return b, nil
}

func enqueueJob(body []byte, inbox, domain string, software *string) fanout.Job {
	return fanout.Job{
		ActivityJSON: body,
		Recipient:    inbox,
		Domain:       domain,
		Software:     software,
		NextDue:      time.Now().UTC(),
	}
}
