package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginThenBanDomainSendsBearerToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"code": "tok-abc"})
	})
	mux.HandleFunc("/api/v1/domain_ban", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ban":             map[string]string{"Domain": "spam.example"},
			"removed_inboxes": 2,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	base := New(srv.URL)
	authed, err := base.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)

	removed, err := authed.BanDomain(context.Background(), "spam.example", "spam", "")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestUnauthenticatedRequestFailsWithoutToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/domain_ban", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.BanDomain(context.Background(), "spam.example", "", "")
	assert.Error(t, err)
}
