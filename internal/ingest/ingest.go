// Package ingest implements the inbound ActivityPub surface (§4.F,
// §6): the relay's own actor/nodeinfo/webfinger documents and the
// signed POST /inbox pipeline, mounted onto the Echo instance by
// internal/server.
package ingest

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"

	"github.com/activityrelay/activityrelay/internal/activity"
	"github.com/activityrelay/activityrelay/internal/apclient"
	"github.com/activityrelay/activityrelay/internal/fanout"
	"github.com/activityrelay/activityrelay/internal/httpsig"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/policy"
	"github.com/activityrelay/activityrelay/internal/relayerr"
	"github.com/activityrelay/activityrelay/internal/store"
)

// maxBodyBytes is the inbound POST /inbox body cap (§4.F step 1).
const maxBodyBytes = 1 << 20

// dedupSize is the LRU window of recently-seen activity IRIs (§4.F
// step 3, §5: "8k-entry window").
const dedupSize = 8000

// Handler implements the inbox ingest pipeline and the relay's own
// discovery documents.
type Handler struct {
	store       store.Store
	client      *apclient.Client
	engine      *fanout.Engine
	log         *logging.Logger
	domain      string
	key         *rsa.PrivateKey
	keyID       string
	dedup       *lru.Cache[string, struct{}]
	snapshotSrc func(context.Context) (policy.Snapshot, error)
}

// New builds a Handler. domain is the relay's own public hostname;
// key/keyID are the relay's signing identity (§4.C).
func New(s store.Store, client *apclient.Client, engine *fanout.Engine, log *logging.Logger, domain string, key *rsa.PrivateKey, keyID string, snapshotSrc func(context.Context) (policy.Snapshot, error)) (*Handler, error) {
	dedup, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("ingest: build dedup ring: %w", err)
	}
	return &Handler{
		store:       s,
		client:      client,
		engine:      engine,
		log:         log,
		domain:      domain,
		key:         key,
		keyID:       keyID,
		dedup:       dedup,
		snapshotSrc: snapshotSrc,
	}, nil
}

// Register mounts the handler's routes onto e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/actor", h.GetActor)
	e.GET("/nodeinfo/2.0.json", h.GetNodeinfo)
	e.GET("/.well-known/nodeinfo", h.GetNodeinfoDiscovery)
	e.GET("/.well-known/webfinger", h.GetWebfinger)
	e.POST("/inbox", h.PostInbox)
}

func (h *Handler) actorIRI() string { return fmt.Sprintf("https://%s/actor", h.domain) }

// GetActor serves the relay's own Service actor document.
func (h *Handler) GetActor(c echo.Context) error {
	pub, err := httpsig.EncodePublicKey(h.key)
	if err != nil {
		return fmt.Errorf("ingest: encode public key: %w", err)
	}

	doc := map[string]any{
		"@context":          []string{"https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"},
		"id":                h.actorIRI(),
		"type":              "Service",
		"preferredUsername": "relay",
		"name":              "ActivityRelay",
		"inbox":             h.actorIRI() + "/inbox",
		"followers":         h.actorIRI() + "/followers",
		"publicKey": map[string]any{
			"id":           h.keyID,
			"owner":        h.actorIRI(),
			"publicKeyPem": pub,
		},
	}
	return c.JSON(http.StatusOK, doc)
}

// GetNodeinfo serves the relay's own nodeinfo 2.0 document.
func (h *Handler) GetNodeinfo(c echo.Context) error {
	inboxes, err := h.store.ListActiveInboxes(c.Request().Context())
	if err != nil {
		return fmt.Errorf("ingest: list active inboxes: %w", err)
	}
	doc := map[string]any{
		"version": "2.0",
		"software": map[string]string{
			"name":    "activityrelay",
			"version": "1.0.0",
		},
		"protocols": []string{"activitypub"},
		"usage": map[string]any{
			"users": map[string]int{"total": len(inboxes)},
		},
		"openRegistrations": true,
	}
	return c.JSON(http.StatusOK, doc)
}

// GetNodeinfoDiscovery serves the well-known nodeinfo pointer
// document federated software uses to locate GetNodeinfo.
func (h *Handler) GetNodeinfoDiscovery(c echo.Context) error {
	doc := map[string]any{
		"links": []map[string]string{{
			"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
			"href": fmt.Sprintf("https://%s/nodeinfo/2.0.json", h.domain),
		}},
	}
	return c.JSON(http.StatusOK, doc)
}

// GetWebfinger answers acct:relay@domain lookups.
func (h *Handler) GetWebfinger(c echo.Context) error {
	resource := c.QueryParam("resource")
	want := fmt.Sprintf("acct:relay@%s", h.domain)
	if resource != want {
		return echo.NewHTTPError(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	doc := map[string]any{
		"subject": resource,
		"links": []map[string]string{{
			"rel":  "self",
			"type": "application/activity+json",
			"href": h.actorIRI(),
		}},
	}
	return c.JSON(http.StatusOK, doc)
}

// PostInbox implements the 6-step pipeline of §4.F.
func (h *Handler) PostInbox(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	// Step 1: body cap.
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
	}

	// Step 2: verify signature.
	if err := httpsig.Verify(req, body, h.fetchActorKey(ctx)); err != nil {
		h.log.Verbose("ingest: signature verify failed: %v", err)
		return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "signature invalid"})
	}

	// Step 3: parse + dedup.
	act, err := activity.Parse(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "malformed activity"})
	}
	if act.ID != "" {
		if _, seen := h.dedup.Get(act.ID); seen {
			return c.NoContent(http.StatusAccepted)
		}
		h.dedup.Add(act.ID, struct{}{})
	}

	// Step 4: resolve actor, compare keyId owner domain.
	actorDoc, err := h.client.FetchActor(ctx, act.Actor)
	if err != nil {
		h.log.Verbose("ingest: fetch actor %s: %v", act.Actor, err)
		return echo.NewHTTPError(http.StatusForbidden, map[string]string{"error": "actor unreachable"})
	}
	actorDomain, err := hostOf(act.Actor)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "malformed actor IRI"})
	}
	keyDomain, _ := hostOf(parseKeyIDFromSignature(req.Header.Get("Signature")))
	if keyDomain != "" && keyDomain != actorDomain {
		return echo.NewHTTPError(http.StatusForbidden, map[string]string{"error": "keyId domain mismatch"})
	}

	// Step 5: policy gate.
	software := h.lookupSoftware(ctx, actorDomain)
	snap, err := h.snapshotSrc(ctx)
	if err != nil {
		return fmt.Errorf("ingest: load policy snapshot: %w", err)
	}
	if decision := policy.Evaluate(snap, actorDomain, software); decision != policy.Allow {
		return echo.NewHTTPError(http.StatusForbidden, map[string]string{"error": decision.String()})
	}

	// Step 6: dispatch.
	if err := h.dispatch(ctx, act, actorDoc, actorDomain, software, body); err != nil {
		var relErr *relayerr.Error
		if ok := asRelayErr(err, &relErr); ok {
			if relErr.Kind == relayerr.KindBackpressure {
				c.Response().Header().Set("Retry-After", "30")
			}
			return echo.NewHTTPError(statusFor(relErr.Kind), map[string]string{"error": relErr.Kind.String()})
		}
		return fmt.Errorf("ingest: dispatch %s: %w", act.Type, err)
	}

	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) fetchActorKey(ctx context.Context) httpsig.ActorKeyFetcher {
	return func(keyID string) (string, error) {
		actorIRI, _ := hostStrippedFragment(keyID)
		doc, err := h.client.FetchActor(ctx, actorIRI)
		if err != nil {
			return "", err
		}
		if doc.PublicKey.PublicKeyPem == "" {
			return "", fmt.Errorf("ingest: actor %s has no publicKeyPem", actorIRI)
		}
		return doc.PublicKey.PublicKeyPem, nil
	}
}

func (h *Handler) lookupSoftware(ctx context.Context, domain string) *string {
	ni, err := h.client.FetchNodeinfo(ctx, domain)
	if err != nil || ni.Software.Name == "" {
		return nil
	}
	name := strings.ToLower(ni.Software.Name)
	return &name
}

func hostOf(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("ingest: parse iri %q: %w", rawurl, err)
	}
	return u.Host, nil
}

func hostStrippedFragment(keyID string) (string, error) {
	for i := 0; i < len(keyID); i++ {
		if keyID[i] == '#' {
			return keyID[:i], nil
		}
	}
	return keyID, nil
}

func parseKeyIDFromSignature(header string) string {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, `keyId="`); ok {
			iri, _ := hostStrippedFragment(strings.TrimSuffix(v, `"`))
			return iri
		}
	}
	return ""
}

func asRelayErr(err error, target **relayerr.Error) bool {
	for err != nil {
		if re, ok := err.(*relayerr.Error); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func statusFor(kind relayerr.Kind) int {
	switch kind {
	case relayerr.KindValidation:
		return http.StatusBadRequest
	case relayerr.KindAuth, relayerr.KindSignature:
		return http.StatusUnauthorized
	case relayerr.KindBlocked:
		return http.StatusForbidden
	case relayerr.KindNotFound:
		return http.StatusNotFound
	case relayerr.KindConflict:
		return http.StatusConflict
	case relayerr.KindBackpressure:
		return http.StatusServiceUnavailable
	case relayerr.KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
