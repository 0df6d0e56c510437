package fanout

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/activityrelay/activityrelay/internal/activity"
)

// announceEnvelope is the minimal ActivityPub Announce wrapper the
// relay signs and delivers when rebroadcasting something that isn't
// already an Announce (§4.G).
type announceEnvelope struct {
	Context string `json:"@context"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Actor   string `json:"actor"`
	Object  string `json:"object"`
	To      string `json:"to"`
}

// wrapAnnounce builds the signed-delivery body for a rebroadcast of
// incoming, addressed publicly and attributed to the relay's own
// actor (relayKeyID's owning actor IRI).
func wrapAnnounce(incoming *activity.Activity, relayKeyID string) ([]byte, error) {
	actorIRI, err := actorIRIFromKeyID(relayKeyID)
	if err != nil {
		return nil, err
	}

	env := announceEnvelope{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      fmt.Sprintf("%s/activities/%s", actorIRI, uuid.NewString()),
		Type:    "Announce",
		Actor:   actorIRI,
		Object:  incoming.ID,
		To:      "https://www.w3.org/ns/activitystreams#Public",
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("fanout: marshal announce: %w", err)
	}
	return body, nil
}

// actorIRIFromKeyID strips the "#main-key" fragment go-fed/httpsig
// keyIds carry, recovering the actor document IRI.
func actorIRIFromKeyID(keyID string) (string, error) {
	for i := 0; i < len(keyID); i++ {
		if keyID[i] == '#' {
			return keyID[:i], nil
		}
	}
	return keyID, nil
}
