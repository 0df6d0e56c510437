package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/activityrelay/activityrelay/internal/store"
)

// ListWhitelist answers GET /api/v1/whitelist.
func (h *Handler) ListWhitelist(c echo.Context) error {
	rows, err := h.store.ListWhitelist(c.Request().Context())
	if err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

type whitelistRequest struct {
	Domain string `json:"domain" validate:"required"`
}

// PostWhitelist answers POST /api/v1/whitelist. A domain that is
// currently banned stays banned — banning always wins over
// whitelisting (§9) — but the row is still written so it takes
// effect immediately if the ban is later lifted.
func (h *Handler) PostWhitelist(c echo.Context) error {
	var req whitelistRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	entry := store.WhitelistEntry{Domain: req.Domain, Created: time.Now().UTC()}
	if err := h.store.Whitelist(c.Request().Context(), entry); err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// DeleteWhitelist answers DELETE /api/v1/whitelist.
func (h *Handler) DeleteWhitelist(c echo.Context) error {
	var req whitelistRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.store.Unwhitelist(c.Request().Context(), req.Domain); err != nil {
		return storeErrToHTTP(err)
	}
	return c.NoContent(http.StatusOK)
}
