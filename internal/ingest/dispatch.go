package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/activityrelay/activityrelay/internal/activity"
	"github.com/activityrelay/activityrelay/internal/apclient"
	"github.com/activityrelay/activityrelay/internal/store"
)

// dispatch realizes §4.F step 6's activity switch, mutating the store
// and enqueueing outbound work as each case requires.
func (h *Handler) dispatch(ctx context.Context, act *activity.Activity, actorDoc *apclient.Actor, actorDomain string, software *string, body []byte) error {
	typed, err := act.Typed()
	if err != nil {
		return fmt.Errorf("ingest: type activity: %w", err)
	}

	switch a := typed.(type) {
	case *activity.Follow:
		return h.handleFollow(ctx, a, actorDoc, actorDomain, software)
	case *activity.Undo:
		return h.handleUndo(ctx, a, actorDomain)
	case *activity.Accept:
		return h.handleAcceptReject(ctx, a.Actor, true)
	case *activity.Reject:
		return h.handleAcceptReject(ctx, a.Actor, false)
	case *activity.Create, *activity.Update, *activity.Delete, *activity.Announce, *activity.Move:
		return h.maybeRebroadcast(ctx, act, actorDomain, body)
	default:
		// Unknown: acknowledge, no action (§4.F).
		return nil
	}
}

func (h *Handler) handleFollow(ctx context.Context, f *activity.Follow, actorDoc *apclient.Actor, actorDomain string, software *string) error {
	approvalReq, _ := h.store.GetConfig(ctx, store.ConfigKeyApprovalRequired)
	now := time.Now().UTC()

	if approvalReq != nil && approvalReq.Value == "true" {
		return h.store.PutPendingRequest(ctx, store.PendingRequest{
			Domain:   actorDomain,
			Actor:    f.Actor,
			Inbox:    actorDoc.Inbox,
			FollowID: f.ID,
			Software: derefOr(software, ""),
			Created:  now,
		})
	}

	if err := h.store.PutInbox(ctx, store.Inbox{
		Domain:   actorDomain,
		Actor:    f.Actor,
		Inbox:    actorDoc.Inbox,
		FollowID: f.ID,
		Software: derefOr(software, ""),
		Created:  now,
	}); err != nil {
		return fmt.Errorf("ingest: put inbox for follow: %w", err)
	}

	return h.enqueueAccept(ctx, actorDoc.Inbox, f.ID, actorDomain, software)
}

// enqueueAccept builds and enqueues the Accept-of-Follow (and
// reciprocal Follow, per §4.F step 6) the relay sends back once a
// subscriber is activated.
func (h *Handler) enqueueAccept(ctx context.Context, inbox, followID, domain string, software *string) error {
	accept := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s/activities/accept-%s", h.actorIRI(), shortHash(followID)),
		"type":     "Accept",
		"actor":    h.actorIRI(),
		"object":   followID,
	}
	if err := h.enqueueSigned(ctx, inbox, domain, software, accept); err != nil {
		return err
	}

	reciprocal := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s/activities/follow-%s", h.actorIRI(), shortHash(inbox)),
		"type":     "Follow",
		"actor":    h.actorIRI(),
		"object":   fmt.Sprintf("https://%s/actor", domain),
	}
	return h.enqueueSigned(ctx, inbox, domain, software, reciprocal)
}

func (h *Handler) handleUndo(ctx context.Context, u *activity.Undo, actorDomain string) error {
	inbox, err := h.store.GetInbox(ctx, actorDomain)
	if err != nil {
		return nil // nothing subscribed for this domain, nothing to undo
	}

	// Only an Undo of the Follow that created this row should remove
	// it; an embedded object with a different id (or an Undo of
	// something other than Follow) is ignored.
	if u.Object != nil && u.Object.ID != "" && inbox.FollowID != "" && u.Object.ID != inbox.FollowID {
		return nil
	}
	if u.Object != nil && u.Object.Type != "" && u.Object.Type != "Follow" {
		return nil
	}

	if err := h.store.DeleteInbox(ctx, actorDomain); err != nil {
		return fmt.Errorf("ingest: delete inbox on undo: %w", err)
	}

	accept := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s/activities/accept-%s", h.actorIRI(), shortHash(u.ID)),
		"type":     "Accept",
		"actor":    h.actorIRI(),
		"object":   u.ID,
	}
	var software *string
	if inbox.Software != "" {
		software = &inbox.Software
	}
	return h.enqueueSigned(ctx, inbox.Inbox, actorDomain, software, accept)
}

func (h *Handler) handleAcceptReject(ctx context.Context, actor string, accepted bool) error {
	// Relay-to-relay subscribing: nothing durable to update beyond
	// logging, since the relay doesn't track outbound Follow state in
	// a separate table (it IS the inboxes row once Accept arrives).
	if accepted {
		h.log.Info("ingest: %s accepted relay's Follow", actor)
	} else {
		h.log.Info("ingest: %s rejected relay's Follow", actor)
	}
	return nil
}

func (h *Handler) maybeRebroadcast(ctx context.Context, act *activity.Activity, actorDomain string, body []byte) error {
	if !act.HasPublicAudience() {
		return nil
	}
	if _, err := h.store.GetInbox(ctx, actorDomain); err != nil {
		// Only subscribed actors' public activities are rebroadcast.
		return nil
	}
	return h.engine.Rebroadcast(ctx, act, body, actorDomain)
}

func (h *Handler) enqueueSigned(ctx context.Context, inbox, domain string, software *string, payload map[string]any) error {
	body, err := marshalCanonical(payload)
	if err != nil {
		return err
	}
	return h.engine.Enqueue(ctx, enqueueJob(body, inbox, domain, software))
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
