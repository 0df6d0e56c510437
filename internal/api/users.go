package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/activityrelay/activityrelay/internal/store"
)

// publicUser strips the bcrypt hash before a User row leaves the
// process.
type publicUser struct {
	Username string    `json:"username"`
	Handle   string    `json:"handle"`
	Created  time.Time `json:"created"`
}

func toPublicUser(u store.User) publicUser {
	return publicUser{Username: u.Username, Handle: u.Handle, Created: u.Created}
}

// ListUsers answers GET /api/v1/user.
func (h *Handler) ListUsers(c echo.Context) error {
	rows, err := h.store.ListUsers(c.Request().Context())
	if err != nil {
		return storeErrToHTTP(err)
	}
	out := make([]publicUser, 0, len(rows))
	for _, u := range rows {
		out = append(out, toPublicUser(u))
	}
	return c.JSON(http.StatusOK, out)
}

type userRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Handle   string `json:"handle"`
}

// PostUser answers POST /api/v1/user, creating an admin/API account.
func (h *Handler) PostUser(c echo.Context) error {
	var req userRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := store.User{Username: req.Username, Hash: string(hash), Handle: req.Handle, Created: time.Now().UTC()}
	if err := h.store.CreateUser(c.Request().Context(), user); err != nil {
		return storeErrToHTTP(err)
	}
	return c.JSON(http.StatusOK, toPublicUser(user))
}

type userDeleteRequest struct {
	Username string `json:"username" validate:"required"`
}

// DeleteUser answers DELETE /api/v1/user. The store cascades to every
// token issued to the user (Invariant 4).
func (h *Handler) DeleteUser(c echo.Context) error {
	var req userDeleteRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if err := h.store.DeleteUser(c.Request().Context(), req.Username); err != nil {
		return storeErrToHTTP(err)
	}
	return c.NoContent(http.StatusOK)
}
