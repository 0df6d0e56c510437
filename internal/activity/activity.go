// Package activity decodes ActivityStreams 2.0 / ActivityPub envelopes
// into one of a fixed set of typed variants (§9: tagged variants, not
// reflection-based dynamic dispatch), for the handlers in
// internal/ingest and internal/fanout to switch on.
package activity

import (
	"encoding/json"
	"fmt"
)

// Activity is the generic JSON-LD envelope every inbox payload
// arrives as. Typed decodes it into one of the concrete variants
// below.
type Activity struct {
	raw json.RawMessage

	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
	To     StringOrSlice   `json:"to,omitempty"`
	CC     StringOrSlice   `json:"cc,omitempty"`
}

// StringOrSlice decodes an ActivityStreams property that may be a bare
// string or an array of strings (`to`/`cc` commonly are both).
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("activity: decode to/cc: %w", err)
	}
	*s = multi
	return nil
}

// Parse decodes body into an Activity envelope, keeping the raw bytes
// for Typed's second unmarshal pass.
func Parse(body []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("activity: decode envelope: %w", err)
	}
	a.raw = body
	return &a, nil
}

// HasPublicAudience reports whether to/cc names the
// https://www.w3.org/ns/activitystreams#Public collection, the
// rebroadcast eligibility test in §4.F step 6.
func (a *Activity) HasPublicAudience() bool {
	const public = "https://www.w3.org/ns/activitystreams#Public"
	for _, v := range a.To {
		if v == public {
			return true
		}
	}
	for _, v := range a.CC {
		if v == public {
			return true
		}
	}
	return false
}

// Follow is a request to subscribe the relay's outbox to actor's
// inbox (§4.F step 6).
type Follow struct {
	ID     string
	Actor  string
	Object string
}

// Undo wraps another activity being retracted, most commonly a Follow.
type Undo struct {
	ID     string
	Actor  string
	Object *Activity
}

// Accept and Reject answer an outbound Follow the relay itself sent.
type Accept struct {
	ID     string
	Actor  string
	Object string
}

type Reject struct {
	ID     string
	Actor  string
	Object string
}

// Create, Update, Delete, Announce, and Move are rebroadcast when
// publicly addressed (§4.F step 6); internal/fanout wraps every type
// but Announce in a relay Announce.
type Create struct {
	ID    string
	Actor string
}

type Update struct {
	ID    string
	Actor string
}

type Delete struct {
	ID    string
	Actor string
}

type Announce struct {
	ID    string
	Actor string
}

type Move struct {
	ID     string
	Actor  string
	Object string
	Target string
}

// Unknown is returned by Typed for any activity type the relay does
// not special-case; callers simply ignore it.
type Unknown struct {
	ID   string
	Type string
}

// Typed decodes a into one of the variants above based on its `type`
// field, building each variant from the already-parsed envelope (only
// Move re-reads the raw body, for its target) — the tagged-variant
// dispatch design of §9.
func (a *Activity) Typed() (any, error) {
	switch a.Type {
	case "Follow":
		return &Follow{ID: a.ID, Actor: a.Actor, Object: objectIRI(a.Object)}, nil
	case "Undo":
		inner, err := decodeObjectActivity(a.Object)
		if err != nil {
			return nil, err
		}
		return &Undo{ID: a.ID, Actor: a.Actor, Object: inner}, nil
	case "Accept":
		return &Accept{ID: a.ID, Actor: a.Actor, Object: objectIRI(a.Object)}, nil
	case "Reject":
		return &Reject{ID: a.ID, Actor: a.Actor, Object: objectIRI(a.Object)}, nil
	case "Create":
		return &Create{ID: a.ID, Actor: a.Actor}, nil
	case "Update":
		return &Update{ID: a.ID, Actor: a.Actor}, nil
	case "Delete":
		return &Delete{ID: a.ID, Actor: a.Actor}, nil
	case "Announce":
		return &Announce{ID: a.ID, Actor: a.Actor}, nil
	case "Move":
		var m struct {
			Object string `json:"object"`
			Target string `json:"target"`
		}
		if len(a.raw) > 0 {
			if err := json.Unmarshal(a.raw, &m); err != nil {
				return nil, fmt.Errorf("activity: decode Move: %w", err)
			}
		}
		return &Move{ID: a.ID, Actor: a.Actor, Object: m.Object, Target: m.Target}, nil
	default:
		return &Unknown{ID: a.ID, Type: a.Type}, nil
	}
}

// objectIRI returns object when it is a bare IRI string, or the `id`
// field when it is an embedded object — both forms are legal
// ActivityStreams.
func objectIRI(object json.RawMessage) string {
	if len(object) == 0 {
		return ""
	}
	var iri string
	if err := json.Unmarshal(object, &iri); err == nil {
		return iri
	}
	var embedded struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(object, &embedded)
	return embedded.ID
}

func decodeObjectActivity(object json.RawMessage) (*Activity, error) {
	if len(object) == 0 {
		return nil, nil
	}
	// Undo's object is sometimes a bare IRI (no recoverable type),
	// which Typed's caller handles by falling back to followid lookup.
	var iri string
	if err := json.Unmarshal(object, &iri); err == nil {
		return &Activity{ID: iri}, nil
	}
	inner, err := Parse(object)
	if err != nil {
		return nil, fmt.Errorf("activity: decode Undo object: %w", err)
	}
	return inner, nil
}
