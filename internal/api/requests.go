package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/activityrelay/activityrelay/internal/fanout"
	"github.com/activityrelay/activityrelay/internal/store"
)

// ListRequests answers GET /api/v1/request with every Follow awaiting
// admin approval (§4.F's approval-required workflow).
func (h *Handler) ListRequests(c echo.Context) error {
	rows, err := h.store.ListPendingRequests(c.Request().Context())
	if err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

type requestDecisionRequest struct {
	Domain string `json:"domain" validate:"required"`
	Accept bool   `json:"accept"`
}

// PostRequestDecision answers POST /api/v1/request: the admin accepts
// or rejects a pending Follow. Accepting activates the subscriber
// (creates its inbox row) and enqueues the Accept the same way an
// auto-approved Follow would; rejecting just discards the request.
func (h *Handler) PostRequestDecision(c echo.Context) error {
	var req requestDecisionRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	pending, err := h.store.GetPendingRequest(ctx, req.Domain)
	if err != nil {
		return storeErrToHTTP(err)
	}
	if err := h.store.DeletePendingRequest(ctx, req.Domain); err != nil {
		return storeErrToHTTP(err)
	}

	if !req.Accept {
		return c.NoContent(http.StatusOK)
	}

	now := time.Now().UTC()
	row := store.Inbox{
		Domain:   pending.Domain,
		Actor:    pending.Actor,
		Inbox:    pending.Inbox,
		FollowID: pending.FollowID,
		Software: pending.Software,
		Created:  now,
	}
	if err := h.store.PutInbox(ctx, row); err != nil {
		return storeErrToHTTP(err)
	}

	accept := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s/activities/accept-%s", h.actorIRI(), shortHash(pending.FollowID)),
		"type":     "Accept",
		"actor":    h.actorIRI(),
		"object":   pending.FollowID,
	}
	body, err := json.Marshal(accept)
	if err != nil {
		return err
	}

	var software *string
	if pending.Software != "" {
		software = &pending.Software
	}
	if err := h.engine.Enqueue(ctx, fanout.Job{
		ActivityJSON: body,
		Recipient:    pending.Inbox,
		Domain:       pending.Domain,
		Software:     software,
		NextDue:      now,
	}); err != nil {
		return fmt.Errorf("api: enqueue accept for %s: %w", pending.Domain, err)
	}
	return c.JSON(http.StatusOK, row)
}
