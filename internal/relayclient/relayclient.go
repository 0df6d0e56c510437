// Package relayclient is a thin HTTP client for the management API
// internal/api exposes under /api/v1 — the library an external admin
// CLI would build against (§6's "interact with the core only through
// the interfaces enumerated"); no such CLI ships with this module.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one relay's /api/v1 surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client. token may be empty until Login sets it.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 15 * time.Second}}
}

// WithToken returns a copy of c authenticated with an existing token,
// for callers that already hold one (e.g. from a saved session).
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Login exchanges a username/password for an opaque bearer token and
// returns a Client carrying it.
func (c *Client) Login(ctx context.Context, username, password string) (*Client, error) {
	var resp struct {
		Code string `json:"code"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/token", map[string]string{
		"username": username,
		"password": password,
	}, &resp); err != nil {
		return nil, err
	}
	return c.WithToken(resp.Code), nil
}

// Instance is the relayclient's view of a subscribed inbox.
type Instance struct {
	Domain   string    `json:"Domain"`
	Actor    string    `json:"Actor"`
	Inbox    string    `json:"Inbox"`
	FollowID string    `json:"FollowID"`
	Software string    `json:"Software"`
	Failed   bool      `json:"Failed"`
	Created  time.Time `json:"Created"`
}

// ListInstances fetches every subscribed instance.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	err := c.do(ctx, http.MethodGet, "/api/v1/instance", nil, &out)
	return out, err
}

// AddInstance asks the relay to subscribe to domain.
func (c *Client) AddInstance(ctx context.Context, domain string) (*Instance, error) {
	var out Instance
	err := c.do(ctx, http.MethodPost, "/api/v1/instance", map[string]string{"domain": domain}, &out)
	return &out, err
}

// RemoveInstance unsubscribes from domain.
func (c *Client) RemoveInstance(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/instance", map[string]string{"domain": domain}, nil)
}

// DomainBan is the relayclient's view of a domain_ban row.
type DomainBan struct {
	Domain  string    `json:"Domain"`
	Reason  string    `json:"Reason"`
	Note    string    `json:"Note"`
	Created time.Time `json:"Created"`
}

// BanDomain bans domain and reports how many inbox rows it removed.
func (c *Client) BanDomain(ctx context.Context, domain, reason, note string) (int, error) {
	var resp struct {
		Ban            DomainBan `json:"ban"`
		RemovedInboxes int       `json:"removed_inboxes"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/domain_ban", map[string]string{
		"domain": domain, "reason": reason, "note": note,
	}, &resp)
	return resp.RemovedInboxes, err
}

// UnbanDomain lifts a domain ban.
func (c *Client) UnbanDomain(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/domain_ban", map[string]string{"domain": domain}, nil)
}

// ListDomainBans fetches every active domain ban.
func (c *Client) ListDomainBans(ctx context.Context) ([]DomainBan, error) {
	var out []DomainBan
	err := c.do(ctx, http.MethodGet, "/api/v1/domain_ban", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("relayclient: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("relayclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relayclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relayclient: %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("relayclient: decode response: %w", err)
	}
	return nil
}
