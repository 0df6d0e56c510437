package httpsig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Sub values for the §4.C Fails-with list, narrowing relayerr's
// generic KindSignature into the exact reason a caller logs or a test
// asserts against.
const (
	SubMissing        = "SignatureMissing"
	SubMalformed      = "SignatureMalformed"
	SubKeyUnavailable = "KeyUnavailable"
	SubDigestMismatch = "DigestMismatch"
	SubClockSkew      = "ClockSkew"
	SubInvalid        = "SignatureInvalid"
)

// GenerateKey creates the relay's own RSA keypair (§4.C: "2048-bit
// RSA"). crypto/rsa is correct here since key generation is a single
// stdlib primitive with no useful third-party wrapper.
func GenerateKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("httpsig: generate key: %w", err)
	}
	return key, nil
}

// EncodePrivateKey PEM-encodes key as PKCS#1, the form persisted in
// the store's config table under ConfigKeyPrivateKey.
func EncodePrivateKey(key *rsa.PrivateKey) string {
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

// DecodePrivateKey parses a PEM-encoded PKCS#1 private key.
func DecodePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("httpsig: decode private key: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: decode private key: %w", err)
	}
	return key, nil
}

// EncodePublicKey PEM-encodes the public half of key in the
// PKIX/SubjectPublicKeyInfo form ActivityPub actor documents use for
// publicKeyPem.
func EncodePublicKey(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("httpsig: encode public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// parsePublicKey parses the PKIX-encoded publicKeyPem field fetched
// from a remote actor document.
func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("httpsig: parse public key: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("httpsig: parse public key: not RSA")
	}
	return rsaPub, nil
}
