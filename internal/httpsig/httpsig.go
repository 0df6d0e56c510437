// Package httpsig implements the draft-cavage-http-signatures variant
// ActivityPub servers (Mastodon et al.) use for inbox delivery (§4.C),
// wrapping go-fed/httpsig's primitives with the relay's own error
// taxonomy so callers get one of the exact Kinds §4.C documents rather
// than opaque library errors.
package httpsig

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	gofedhttpsig "github.com/go-fed/httpsig"

	"github.com/activityrelay/activityrelay/internal/relayerr"
)

// KeyBits is the relay's own keypair size (§4.C: "2048-bit RSA").
const KeyBits = 2048

// MaxClockSkew bounds how far a request's Date header may drift from
// server time before Verify rejects it (§4.C).
const MaxClockSkew = time.Hour

// postSignHeaders is the exact header set signed on outbound POSTs
// (§4.C: "(request-target), host, date, digest, and content-type on
// POST"). GET requests omit digest/content-type since there is no body.
var postSignHeaders = []string{gofedhttpsig.RequestTarget, "host", "date", "digest", "content-type"}
var getSignHeaders = []string{gofedhttpsig.RequestTarget, "host", "date"}

// Sign adds Digest (for POST bodies), Date, Host, and Signature
// headers to req and signs it with key under keyID.
func Sign(req *http.Request, body []byte, key *rsa.PrivateKey, keyID string) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		req.Host = req.URL.Host
	}

	headers := getSignHeaders
	if req.Method == http.MethodPost {
		headers = postSignHeaders
	}

	signer, _, err := gofedhttpsig.NewSigner(
		[]gofedhttpsig.Algorithm{gofedhttpsig.RSA_SHA256},
		gofedhttpsig.DigestSha256,
		headers,
		gofedhttpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("httpsig: build signer: %w", err)
	}

	if err := signer.SignRequest(key, keyID, req, body); err != nil {
		return fmt.Errorf("httpsig: sign request: %w", err)
	}
	return nil
}

// ActorKeyFetcher resolves a keyId (e.g.
// "https://example.com/actor#main-key") to the PEM-encoded public key
// it names, fetching and parsing the owning actor document.
type ActorKeyFetcher func(keyID string) (pem string, err error)

// Verify checks req's Signature header against the key ActorKeyFetcher
// resolves, following §4.C's procedure: parse, clock-skew check,
// digest recompute, then cryptographic verification. Every failure
// mode returns a *relayerr.Error tagged with the exact Kind §4.C
// documents for it.
func Verify(req *http.Request, body []byte, fetchKey ActorKeyFetcher) error {
	sigHeader := req.Header.Get("Signature")
	if sigHeader == "" {
		return relayerr.New(relayerr.KindSignature, "missing Signature header").WithSub(SubMissing)
	}

	keyID, err := parseKeyID(sigHeader)
	if err != nil {
		return relayerr.Wrap(relayerr.KindSignature, "malformed Signature header", err).WithSub(SubMalformed)
	}

	if dateHeader := req.Header.Get("Date"); dateHeader != "" {
		sent, err := http.ParseTime(dateHeader)
		if err != nil {
			return relayerr.Wrap(relayerr.KindSignature, "malformed Date header", err).WithSub(SubMalformed)
		}
		if skew := time.Since(sent); skew > MaxClockSkew || skew < -MaxClockSkew {
			return relayerr.New(relayerr.KindSignature, "clock skew exceeds 1h").WithSub(SubClockSkew)
		}
	}

	if digestHeader := req.Header.Get("Digest"); digestHeader != "" {
		if err := checkDigest(digestHeader, body); err != nil {
			return relayerr.Wrap(relayerr.KindSignature, "digest mismatch", err).WithSub(SubDigestMismatch)
		}
	}

	pemStr, err := fetchKey(keyID)
	if err != nil {
		return relayerr.Wrap(relayerr.KindSignature, "key unavailable", err).WithSub(SubKeyUnavailable)
	}

	pub, err := parsePublicKey(pemStr)
	if err != nil {
		return relayerr.Wrap(relayerr.KindSignature, "key unavailable", err).WithSub(SubKeyUnavailable)
	}

	verifier, err := gofedhttpsig.NewVerifier(req)
	if err != nil {
		return relayerr.Wrap(relayerr.KindSignature, "malformed Signature header", err).WithSub(SubMalformed)
	}

	if err := verifier.Verify(pub, gofedhttpsig.RSA_SHA256); err != nil {
		return relayerr.Wrap(relayerr.KindSignature, "signature invalid", err).WithSub(SubInvalid)
	}

	return nil
}

func checkDigest(header string, body []byte) error {
	const prefix = "SHA-256="
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("httpsig: unsupported digest algorithm in %q", header)
	}
	want := strings.TrimPrefix(header, prefix)
	sum := sha256.Sum256(body)
	got := base64.StdEncoding.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("httpsig: digest mismatch")
	}
	return nil
}

// parseKeyID extracts the keyId parameter from a Signature header
// without delegating to the library, since go-fed/httpsig only
// exposes keyId after constructing a Verifier against a public key we
// don't have yet.
func parseKeyID(header string) (string, error) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, `keyId="`); ok {
			return strings.TrimSuffix(v, `"`), nil
		}
	}
	return "", fmt.Errorf("httpsig: no keyId parameter")
}
