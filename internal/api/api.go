// Package api implements the authenticated JSON management surface
// under /api/v1 (§4.H, §6): config, instance (inbox), domain_ban,
// software_ban, whitelist, user, and request (pending Follow
// approvals) CRUD, plus the token-issuing login endpoint.
package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/activityrelay/activityrelay/internal/apclient"
	"github.com/activityrelay/activityrelay/internal/fanout"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/store"
)

// Handler implements the /api/v1 surface.
type Handler struct {
	store    store.Store
	client   *apclient.Client
	engine   *fanout.Engine
	log      *logging.Logger
	domain   string
	validate *validator.Validate
}

// New builds a Handler. domain is the relay's own public hostname,
// used to build the relay's outbound Follow actor IRI for POST
// /instance; outbound signing itself is done by engine using the
// relay's own key, so Handler never needs to hold it directly. client
// is used for actor/inbox discovery when an admin adds an instance.
func New(s store.Store, client *apclient.Client, engine *fanout.Engine, log *logging.Logger, domain string) *Handler {
	return &Handler{store: s, client: client, engine: engine, log: log, domain: domain, validate: validator.New()}
}

func (h *Handler) actorIRI() string { return fmt.Sprintf("https://%s/actor", h.domain) }

// Register mounts every /api/v1 route onto e, with RequireToken
// guarding everything but POST /api/v1/token itself.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/api/v1/token", h.PostToken)

	g := e.Group("/api/v1", h.RequireToken)
	g.GET("/config", h.ListConfig)
	g.PATCH("/config", h.PatchConfig)

	g.GET("/instance", h.ListInstances)
	g.POST("/instance", h.PostInstance)
	g.DELETE("/instance", h.DeleteInstance)

	g.GET("/domain_ban", h.ListDomainBans)
	g.POST("/domain_ban", h.PostDomainBan)
	g.PATCH("/domain_ban", h.PatchDomainBan)
	g.DELETE("/domain_ban", h.DeleteDomainBan)

	g.GET("/software_ban", h.ListSoftwareBans)
	g.POST("/software_ban", h.PostSoftwareBan)
	g.DELETE("/software_ban", h.DeleteSoftwareBan)

	g.GET("/whitelist", h.ListWhitelist)
	g.POST("/whitelist", h.PostWhitelist)
	g.DELETE("/whitelist", h.DeleteWhitelist)

	g.GET("/user", h.ListUsers)
	g.POST("/user", h.PostUser)
	g.DELETE("/user", h.DeleteUser)

	g.GET("/request", h.ListRequests)
	g.POST("/request", h.PostRequestDecision)
}

func (h *Handler) bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "malformed body"})
	}
	if err := h.validate.Struct(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return nil
}

func storeErrToHTTP(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{"error": "conflict"})
	default:
		return fmt.Errorf("api: %w", err)
	}
}

// --- token ---

type tokenRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// PostToken issues an opaque bearer token for a valid
// username/password pair (§6: "{username,password} -> {code}").
func (h *Handler) PostToken(c echo.Context) error {
	var req tokenRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.store.GetUser(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		}
		return storeErrToHTTP(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(req.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}

	code, err := newTokenCode()
	if err != nil {
		return fmt.Errorf("api: generate token: %w", err)
	}
	if err := h.store.CreateToken(ctx, store.Token{Code: code, User: user.Username, Created: time.Now().UTC()}); err != nil {
		return storeErrToHTTP(err)
	}

	c.SetCookie(&http.Cookie{
		Name:     "user-token",
		Value:    code,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	return c.JSON(http.StatusOK, map[string]string{"code": code})
}

// newTokenCode generates the opaque 32-byte URL-safe base64 token
// value §3's Token entity specifies.
func newTokenCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// RequireToken is Echo middleware enforcing bearer-token auth on
// everything under /api/v1 except POST /token (§4.H).
func (h *Handler) RequireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		code := bearerToken(c.Request())
		if code == "" {
			if cookie, err := c.Cookie("user-token"); err == nil {
				code = cookie.Value
			}
		}
		if code == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "missing token"})
		}

		tok, err := h.store.GetToken(c.Request().Context(), code)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
		c.Set("user", tok.User)
		return next(c)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

