package kernel

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
)

func pemEncodePublicKey(t *testing.T, pub any) string {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(pub)
	assert.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestVerifyOwnershipEd25519(t *testing.T) {

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)

	signingString := "(request-target): post /inbox\nhost: example.com\ndate: now"

	sig := core.SignedRequest{
		KeyID:         "https://remote.example/users/alice#main-key",
		Algorithm:     "ed25519-sha512",
		Signature:     base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(signingString))),
		SigningString: signingString,
	}

	assert.NoError(t, verifyOwnership(sig, pemEncodePublicKey(t, pub)))

	// a different key must not validate the same signature
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)
	assert.Error(t, verifyOwnership(sig, pemEncodePublicKey(t, otherPub)))

	// nor a tampered signing string
	sig.SigningString = signingString + "x"
	assert.Error(t, verifyOwnership(sig, pemEncodePublicKey(t, pub)))
}

func TestVerifyOwnershipRSA(t *testing.T) {

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(t, err)

	signingString := "(request-target): post /inbox\nhost: example.com\ndate: now"
	hashed := sha256.Sum256([]byte(signingString))

	raw, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	assert.NoError(t, err)

	sig := core.SignedRequest{
		KeyID:         "https://remote.example/users/alice#main-key",
		Algorithm:     "rsa-sha256",
		Signature:     base64.StdEncoding.EncodeToString(raw),
		SigningString: signingString,
	}

	assert.NoError(t, verifyOwnership(sig, pemEncodePublicKey(t, &key.PublicKey)))

	// hs2019 falls back to sha256 for an RSA key
	sig.Algorithm = "hs2019"
	assert.NoError(t, verifyOwnership(sig, pemEncodePublicKey(t, &key.PublicKey)))
}

func TestVerifyOwnershipGarbage(t *testing.T) {

	sig := core.SignedRequest{Signature: "!!", SigningString: "x"}

	assert.Error(t, verifyOwnership(sig, "not a pem"))
}
