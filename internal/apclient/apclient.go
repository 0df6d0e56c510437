// Package apclient implements the relay's outbound ActivityPub
// traffic (§4.D): actor/nodeinfo/webfinger discovery GETs and signed
// delivery POSTs, gated by the policy engine and backed by the KV
// cache before any network round trip.
package apclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/activityrelay/activityrelay/internal/cache"
	"github.com/activityrelay/activityrelay/internal/httpsig"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/policy"
	"github.com/activityrelay/activityrelay/internal/relayerr"
)

const acceptHeader = "application/activity+json, application/ld+json"

// discoveryTimeout is the total timeout for actor/nodeinfo/webfinger
// GETs — short since these responses are small (§4.D).
const discoveryTimeout = 10 * time.Second

// deliverConnectTimeout and deliverTotalTimeout bound a single
// fan-out POST (§4.G). Deliver does not retry internally — retry and
// backoff scheduling belongs to internal/fanout.Engine, which would
// otherwise double-retry on top of a retrying HTTP client.
const (
	deliverConnectTimeout = 10 * time.Second
	deliverTotalTimeout   = 30 * time.Second
)

// PolicyCheck is satisfied by a closure the caller builds from a
// fresh policy.Snapshot, letting Client stay decoupled from
// internal/store.
type PolicyCheck func(domain string, software *string) policy.Decision

// Client performs outbound HTTP for the relay. Discovery GETs go
// through a retrying client (http); delivery POSTs go through a
// separate, non-retrying client (deliver) with its own connect
// timeout, since the two have different retry semantics (§4.D/§4.G).
type Client struct {
	http    *retryablehttp.Client
	deliver *http.Client
	cache   cache.Cache
	policy  PolicyCheck
}

// New builds a Client. policyCheck is consulted before every network
// call; cache is consulted before every GET and populated after.
func New(policyCheck PolicyCheck, c cache.Cache, logger *logging.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.Logger = nil
	if logger != nil {
		rc.Logger = retryableLogAdapter{logger}
	}
	rc.CheckRetry = checkRetry
	rc.HTTPClient.Timeout = discoveryTimeout

	deliver := &http.Client{
		Timeout: deliverTotalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: deliverConnectTimeout}).DialContext,
		},
	}

	return &Client{http: rc, deliver: deliver, cache: c, policy: policyCheck}
}

// checkRetry implements §4.D's transient/permanent classification:
// timeouts, 5xx, and connection resets retry; 4xx other than 408/429
// do not.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// A non-nil transport error here is always a timeout, dial
	// failure, or connection reset — retryablehttp has already
	// stripped out non-retryable cases like malformed requests.
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

type retryableLogAdapter struct{ l *logging.Logger }

func (a retryableLogAdapter) Printf(format string, args ...any) { a.l.Debug(format, args...) }

// domainOf extracts host from an HTTPS IRI for policy checks.
func domainOf(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("apclient: parse iri %q: %w", rawurl, err)
	}
	return u.Host, nil
}

// get performs a policy-gated, cache-checked GET against iri,
// caching the raw body under ns/cacheKey on success.
func (c *Client) get(ctx context.Context, iri string, ns cache.Namespace, cacheKey string, software *string) ([]byte, error) {
	domain, err := domainOf(iri)
	if err != nil {
		return nil, err
	}

	if decision := c.policy(domain, software); decision != policy.Allow {
		return nil, relayerr.New(relayerr.KindBlocked, fmt.Sprintf("apclient: %s denied by policy: %s", domain, decision))
	}

	if val, err := c.cache.Get(ctx, ns, cacheKey); err == nil {
		return []byte(val.String()), nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return nil, fmt.Errorf("apclient: build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransient, fmt.Sprintf("apclient: GET %s", iri), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("apclient: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, relayerr.New(relayerr.KindTransient, fmt.Sprintf("apclient: GET %s: status %d", iri, resp.StatusCode))
	}

	_ = c.cache.Put(ctx, ns, cacheKey, cache.StringValue(string(body)))
	return body, nil
}

// Actor is the subset of an ActivityPub actor document the relay
// needs (§3, §4.D).
type Actor struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	Inbox             string `json:"inbox"`
	PreferredUsername string `json:"preferredUsername"`
	PublicKey         struct {
		ID           string `json:"id"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Nodeinfo is the subset of a well-known nodeinfo 2.0 document the
// relay needs to classify a remote domain's software (§4.D).
type Nodeinfo struct {
	Software struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"software"`
}

// Webfinger is the subset of a webfinger response the relay needs.
type Webfinger struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

func (c *Client) FetchActor(ctx context.Context, iri string) (*Actor, error) {
	body, err := c.get(ctx, iri, cache.NamespaceActor, iri, nil)
	if err != nil {
		return nil, err
	}
	var a Actor
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("apclient: decode actor %s: %w", iri, err)
	}
	return &a, nil
}

func (c *Client) FetchNodeinfo(ctx context.Context, domain string) (*Nodeinfo, error) {
	wk, err := c.FetchWebfinger(ctx, domain, "")
	discoveryIRI := fmt.Sprintf("https://%s/nodeinfo/2.0.json", domain)
	if err == nil {
		for _, l := range wk.Links {
			if l.Rel == "http://nodeinfo.diaspora.software/ns/schema/2.0" {
				discoveryIRI = l.Href
				break
			}
		}
	}

	body, err := c.get(ctx, discoveryIRI, cache.NamespaceNodeinfo, domain, nil)
	if err != nil {
		return nil, err
	}
	var n Nodeinfo
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("apclient: decode nodeinfo %s: %w", domain, err)
	}
	return &n, nil
}

func (c *Client) FetchWebfinger(ctx context.Context, domain, resource string) (*Webfinger, error) {
	if resource == "" {
		resource = fmt.Sprintf("acct:relay@%s", domain)
	}
	iri := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", domain, resource)

	body, err := c.get(ctx, iri, cache.NamespaceRequest, iri, nil)
	if err != nil {
		return nil, err
	}
	var wf Webfinger
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("apclient: decode webfinger %s: %w", domain, err)
	}
	return &wf, nil
}

// Deliver signs body with key/keyID and POSTs it to inbox, used by
// the fan-out engine (§4.G). It does not consult the cache — delivery
// is never memoized — but does still consult the policy engine so a
// domain banned mid-flight is never dialed.
func (c *Client) Deliver(ctx context.Context, inbox string, body []byte, key *rsa.PrivateKey, keyID string, software *string) (int, error) {
	domain, err := domainOf(inbox)
	if err != nil {
		return 0, err
	}
	if decision := c.policy(domain, software); decision != policy.Allow {
		return 0, relayerr.New(relayerr.KindBlocked, fmt.Sprintf("apclient: %s denied by policy: %s", domain, decision))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("apclient: build delivery request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/activity+json")
	if err := httpsig.Sign(httpReq, body, key, keyID); err != nil {
		return 0, fmt.Errorf("apclient: sign delivery: %w", err)
	}

	resp, err := c.deliver.Do(httpReq)
	if err != nil {
		return 0, relayerr.Wrap(relayerr.KindTransient, fmt.Sprintf("apclient: POST %s", inbox), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
