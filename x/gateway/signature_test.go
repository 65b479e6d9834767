package gateway

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func signedRequest(body string, mutate func(*http.Request)) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "https://example.com/inbox", strings.NewReader(body))
	req.Host = "example.com"
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	sum := sha256.Sum256([]byte(body))
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]))

	req.Header.Set("Signature",
		`keyId="https://remote.example/users/alice#main-key",`+
			`algorithm="rsa-sha256",`+
			`headers="(request-target) digest host date",`+
			`signature="c2lnbmF0dXJl"`)

	if mutate != nil {
		mutate(req)
	}
	return req
}

func TestParseSignature(t *testing.T) {

	req := signedRequest(`{"type":"Follow"}`, nil)

	sig, err := parseSignature(req)
	assert.NoError(t, err)
	assert.Equal(t, "https://remote.example/users/alice#main-key", sig.KeyID)
	assert.Equal(t, "rsa-sha256", sig.Algorithm)
	assert.Equal(t, []string{"(request-target)", "digest", "host", "date"}, sig.Headers)
	assert.Equal(t, "c2lnbmF0dXJl", sig.Signature)

	lines := strings.Split(sig.SigningString, "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "(request-target): post /inbox", lines[0])
	assert.Equal(t, "host: example.com", lines[2])
}

func TestParseSignatureMissingHeader(t *testing.T) {

	req := signedRequest("", func(r *http.Request) {
		r.Header.Set("Signature",
			`keyId="https://remote.example/users/alice#main-key",`+
				`algorithm="rsa-sha256",`+
				`headers="(request-target) host date",`+
				`signature="c2lnbmF0dXJl"`)
	})

	_, err := parseSignature(req)
	assert.ErrorIs(t, err, errMissingHeader)
}

func TestParseSignatureExpired(t *testing.T) {

	req := signedRequest("", func(r *http.Request) {
		r.Header.Set("Date", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
	})

	_, err := parseSignature(req)
	assert.ErrorIs(t, err, errExpired)
}

func TestValidAlgorithm(t *testing.T) {

	valid := []string{"rsa-sha256", "rsa-sha512", "ecdsa-sha384", "dsa-sha256", "ed25519-sha512", "hs2019"}
	for _, algorithm := range valid {
		assert.True(t, validAlgorithm(algorithm), algorithm)
	}

	invalid := []string{"", "rsa-md5", "ed25519-sha256", "hmac-sha256", "rsa-sha256 "}
	for _, algorithm := range invalid {
		assert.False(t, validAlgorithm(algorithm), algorithm)
	}
}

func TestCheckDigest(t *testing.T) {

	body := `{"type":"Create"}`

	req := signedRequest(body, nil)
	assert.Equal(t, "", checkDigest(req, []byte(body)))

	req = signedRequest(body, func(r *http.Request) {
		r.Header.Add("Digest", "SHA-256=second")
	})
	assert.Equal(t, "Invalid Digest Header", checkDigest(req, []byte(body)))

	req = signedRequest(body, func(r *http.Request) {
		r.Header.Set("Digest", "not a digest")
	})
	assert.Equal(t, "Invalid Digest Header", checkDigest(req, []byte(body)))

	req = signedRequest(body, func(r *http.Request) {
		r.Header.Set("Digest", "MD5=xxxx")
	})
	assert.Equal(t, "Unsupported Digest Algorithm", checkDigest(req, []byte(body)))

	req = signedRequest(body, nil)
	assert.Equal(t, "Digest Mismatch", checkDigest(req, []byte(`tampered`)))
}
