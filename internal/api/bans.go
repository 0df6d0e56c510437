package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/activityrelay/activityrelay/internal/store"
)

// ListDomainBans answers GET /api/v1/domain_ban.
func (h *Handler) ListDomainBans(c echo.Context) error {
	rows, err := h.store.ListDomainBans(c.Request().Context())
	if err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

type domainBanRequest struct {
	Domain string `json:"domain" validate:"required"`
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

// PostDomainBan answers POST /api/v1/domain_ban. Banning a domain
// removes every inbox row (and any whitelist row) sharing that
// domain in the same transaction (§4.H, Invariant 2/4), so the
// response reports how many subscriber rows were dropped.
func (h *Handler) PostDomainBan(c echo.Context) error {
	var req domainBanRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ban := store.DomainBan{Domain: req.Domain, Reason: req.Reason, Note: req.Note, Created: time.Now().UTC()}
	removed, err := h.store.BanDomain(c.Request().Context(), ban)
	if err != nil {
		return storeErrToHTTP(err)
	}
	h.log.Info("api: banned domain %s, removed %d inboxes", ban.Domain, removed)
	return c.JSON(http.StatusOK, map[string]any{"ban": ban, "removed_inboxes": removed})
}

// PatchDomainBan answers PATCH /api/v1/domain_ban, updating the
// reason/note of an existing ban without touching subscriber rows.
func (h *Handler) PatchDomainBan(c echo.Context) error {
	var req domainBanRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	existing, err := h.store.GetDomainBan(ctx, req.Domain)
	if err != nil {
		return storeErrToHTTP(err)
	}
	existing.Reason = req.Reason
	existing.Note = req.Note

	if _, err := h.store.BanDomain(ctx, *existing); err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, existing)
}

type domainBanDeleteRequest struct {
	Domain string `json:"domain" validate:"required"`
}

// DeleteDomainBan answers DELETE /api/v1/domain_ban.
func (h *Handler) DeleteDomainBan(c echo.Context) error {
	var req domainBanDeleteRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.store.UnbanDomain(c.Request().Context(), req.Domain); err != nil {
		return storeErrToHTTP(err)
	}
	return c.NoContent(http.StatusOK)
}

// --- software bans ---

// ListSoftwareBans answers GET /api/v1/software_ban.
func (h *Handler) ListSoftwareBans(c echo.Context) error {
	rows, err := h.store.ListSoftwareBans(c.Request().Context())
	if err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

type softwareBanRequest struct {
	Name   string `json:"name" validate:"required"`
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

// PostSoftwareBan answers POST /api/v1/software_ban. The magic name
// "RELAYS" expands to every known relay software name at write time
// (§3), so the policy engine never special-cases it at read time.
func (h *Handler) PostSoftwareBan(c echo.Context) error {
	var req softwareBanRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	names := []string{strings.ToLower(req.Name)}
	if strings.EqualFold(req.Name, "RELAYS") {
		names = store.RelayNames
	}

	var created []store.SoftwareBan
	for _, name := range names {
		ban := store.SoftwareBan{Name: name, Reason: req.Reason, Note: req.Note, Created: time.Now().UTC()}
		if err := h.store.BanSoftware(ctx, ban); err != nil {
			return storeErrToHTTP(err)
		}
		created = append(created, ban)
	}
	return c.JSON(http.StatusOK, created)
}

type softwareBanDeleteRequest struct {
	Name string `json:"name" validate:"required"`
}

// DeleteSoftwareBan answers DELETE /api/v1/software_ban.
func (h *Handler) DeleteSoftwareBan(c echo.Context) error {
	var req softwareBanDeleteRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.store.UnbanSoftware(c.Request().Context(), strings.ToLower(req.Name)); err != nil {
		return storeErrToHTTP(err)
	}
	return c.NoContent(http.StatusOK)
}
