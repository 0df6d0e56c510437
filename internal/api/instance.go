package api

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/activityrelay/activityrelay/internal/fanout"
	"github.com/activityrelay/activityrelay/internal/store"
)

// ListInstances answers GET /api/v1/instance with every subscriber
// row, active and failed.
func (h *Handler) ListInstances(c echo.Context) error {
	rows, err := h.store.ListInboxes(c.Request().Context())
	if err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

type instanceRequest struct {
	Domain string `json:"domain" validate:"required,fqdn|hostname"`
}

// PostInstance answers POST /api/v1/instance: the admin names a
// domain to subscribe to, the relay discovers its actor/inbox via
// webfinger + actor documents, and a signed Follow is enqueued for
// delivery (§4.H: "POST /v1/instance enqueues a Follow").
func (h *Handler) PostInstance(c echo.Context) error {
	var req instanceRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	target := fmt.Sprintf("https://%s/actor", req.Domain)
	if wf, err := h.client.FetchWebfinger(ctx, req.Domain, fmt.Sprintf("acct:relay@%s", req.Domain)); err == nil {
		for _, link := range wf.Links {
			if link.Rel == "self" && link.Href != "" {
				target = link.Href
				break
			}
		}
	}

	actorDoc, err := h.client.FetchActor(ctx, target)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, map[string]string{"error": "could not resolve remote actor"})
	}

	followID := fmt.Sprintf("%s/activities/follow-%s", h.actorIRI(), shortHash(req.Domain))
	body, _ := json.Marshal(map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       followID,
		"type":     "Follow",
		"actor":    h.actorIRI(),
		"object":   actorDoc.ID,
	})

	if err := h.engine.Enqueue(ctx, fanout.Job{
		ActivityJSON: body,
		Recipient:    actorDoc.Inbox,
		Domain:       req.Domain,
		NextDue:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("api: enqueue follow to %s: %w", req.Domain, err)
	}

	row := store.Inbox{
		Domain:   req.Domain,
		Actor:    actorDoc.ID,
		Inbox:    actorDoc.Inbox,
		FollowID: followID,
		Created:  time.Now().UTC(),
	}
	if err := h.store.PutInbox(ctx, row); err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, row)
}

type instanceDeleteRequest struct {
	Domain string `json:"domain" validate:"required"`
}

// DeleteInstance answers DELETE /api/v1/instance, removing a
// subscriber row outright (no outbound Undo — the remote end is
// expected to notice deliveries stop).
func (h *Handler) DeleteInstance(c echo.Context) error {
	var req instanceDeleteRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.store.DeleteInbox(c.Request().Context(), req.Domain); err != nil {
		return storeErrToHTTP(err)
	}
	return c.NoContent(http.StatusOK)
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:8])
}
