package httpsig

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/activityrelay/activityrelay/internal/relayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyID = "https://relay.example/actor#main-key"

func signedRequest(t *testing.T, body []byte) (*http.Request, []byte) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	pub, err := EncodePublicKey(key)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "https://target.example/inbox", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/activity+json")

	require.NoError(t, Sign(req, body, key, keyID))

	// Re-read the signed body back out, mirroring how an HTTP server
	// sees it after go's transport buffers it.
	sent, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(sent))

	_ = pub
	return req, []byte(pub)
}

func TestSignThenVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"type":"Follow","actor":"https://target.example/actor"}`)
	req, pub := signedRequest(t, body)

	err := Verify(req, body, func(gotKeyID string) (string, error) {
		assert.Equal(t, keyID, gotKeyID)
		return string(pub), nil
	})
	assert.NoError(t, err)
}

func TestVerifyMissingSignatureHeader(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://target.example/inbox", nil)
	require.NoError(t, err)

	err = Verify(req, nil, func(string) (string, error) { return "", nil })
	var relErr *relayerr.Error
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, SubMissing, relErr.Sub)
}

func TestVerifyTamperedBodyFailsDigest(t *testing.T) {
	body := []byte(`{"type":"Follow"}`)
	req, pub := signedRequest(t, body)

	err := Verify(req, []byte(`{"type":"Follow!"}`), func(string) (string, error) { return string(pub), nil })
	var relErr *relayerr.Error
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, SubDigestMismatch, relErr.Sub)
}

func TestVerifyTamperedSignatureParamFailsInvalid(t *testing.T) {
	body := []byte(`{"type":"Follow"}`)
	req, pub := signedRequest(t, body)

	sig := req.Header.Get("Signature")
	tampered := strings.Replace(sig, "signature=\"", "signature=\"AA", 1)
	req.Header.Set("Signature", tampered)

	err := Verify(req, body, func(string) (string, error) { return string(pub), nil })
	var relErr *relayerr.Error
	require.ErrorAs(t, err, &relErr)
	assert.Contains(t, []string{SubInvalid, SubMalformed}, relErr.Sub)
}

func TestVerifyUnknownKeyIsKeyUnavailable(t *testing.T) {
	body := []byte(`{}`)
	req, _ := signedRequest(t, body)

	err := Verify(req, body, func(string) (string, error) { return "", assertErr })
	var relErr *relayerr.Error
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, SubKeyUnavailable, relErr.Sub)
}

var assertErr = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "actor not found" }
