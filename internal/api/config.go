package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/activityrelay/activityrelay/internal/store"
)

// ListConfig answers GET /api/v1/config with every admin-mutable row.
func (h *Handler) ListConfig(c echo.Context) error {
	rows, err := h.store.ListConfig(c.Request().Context())
	if err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

// recognizedConfigKeys guards PATCH /api/v1/config against typos that
// would otherwise silently create a dead row (§6).
var recognizedConfigKeys = map[string]struct{}{
	store.ConfigKeyName:             {},
	store.ConfigKeyNote:             {},
	store.ConfigKeyTheme:            {},
	store.ConfigKeyLogLevel:         {},
	store.ConfigKeyWhitelistEnabled: {},
	store.ConfigKeyApprovalRequired: {},
}

type configPatchRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// PatchConfig answers PATCH /api/v1/config, upserting one recognized
// key/value pair.
func (h *Handler) PatchConfig(c echo.Context) error {
	var req configPatchRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if _, ok := recognizedConfigKeys[req.Key]; !ok {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "unrecognized config key"})
	}

	entry := store.ConfigEntry{Key: req.Key, Value: req.Value, Type: "str"}
	if req.Key == store.ConfigKeyWhitelistEnabled || req.Key == store.ConfigKeyApprovalRequired {
		entry.Type = "bool"
	}

	if err := h.store.PutConfig(c.Request().Context(), entry); err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, entry)
}
