package deliver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/fetch"
	"github.com/hotaru-sns/hotaru/x/util"
)

func testOrigin(t *testing.T) core.Actor {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	assert.NoError(t, err)

	return core.Actor{
		ID:            "bob",
		URI:           "https://example.com/users/bob",
		Username:      "bob",
		PrivateKeyPem: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	}
}

func TestPostSignsRequest(t *testing.T) {

	var gotSignature, gotDigest string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("Signature")
		gotDigest = r.Header.Get("Digest")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	config := util.Config{}
	config.Federation.AllowedPrivateNetworks = []string{"127.0.0.0/8"}
	fetchClient, err := fetch.NewClient(config)
	assert.NoError(t, err)

	client := NewClient(fetchClient)
	origin := testOrigin(t)

	body := []byte(`{"type":"Accept"}`)
	err = client.Post(context.Background(), server.URL+"/inbox", body, origin)
	assert.NoError(t, err)

	assert.Equal(t, body, gotBody)
	assert.Contains(t, gotSignature, `keyId="https://example.com/users/bob#main-key"`)
	assert.Contains(t, gotSignature, "(request-target)")

	sum := sha256.Sum256(body)
	assert.Equal(t, "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]), gotDigest)
}

func TestPostRejectedDelivery(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	config := util.Config{}
	config.Federation.AllowedPrivateNetworks = []string{"127.0.0.0/8"}
	fetchClient, err := fetch.NewClient(config)
	assert.NoError(t, err)

	client := NewClient(fetchClient)

	err = client.Post(context.Background(), server.URL+"/inbox", []byte("{}"), testOrigin(t))
	assert.Error(t, err)
}

func TestPostMissingKey(t *testing.T) {

	config := util.Config{}
	fetchClient, err := fetch.NewClient(config)
	assert.NoError(t, err)

	client := NewClient(fetchClient)

	err = client.Post(context.Background(), "https://remote.example/inbox", []byte("{}"), core.Actor{})
	assert.Error(t, err)
}
