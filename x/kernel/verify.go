package kernel

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/pkg/errors"

	"github.com/hotaru-sns/hotaru/core"
)

// verifyOwnership checks that the queued signature was produced by the
// holder of the actor's published key. The gateway already validated
// structure and digest; this is the deferred key-match half.
//
// hs2019 is accepted without cross-checking the key's algorithm
// family; the hash is then chosen by key type.
func verifyOwnership(sig core.SignedRequest, publicKeyPem string) error {
	block, _ := pem.Decode([]byte(publicKeyPem))
	if block == nil {
		return errors.New("failed to parse public key PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return errors.Wrap(err, "failed to parse public key")
	}

	raw, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return errors.Wrap(err, "failed to decode signature")
	}

	message := []byte(sig.SigningString)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		hash := hashForAlgorithm(sig.Algorithm)
		hashed := digest(hash, message)
		if err := rsa.VerifyPKCS1v15(key, hash, hashed, raw); err != nil {
			return errors.Wrap(err, "signature does not match key")
		}
		return nil
	case *ecdsa.PublicKey:
		hash := hashForAlgorithm(sig.Algorithm)
		hashed := digest(hash, message)
		if !ecdsa.VerifyASN1(key, hashed, raw) {
			return errors.New("signature does not match key")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(key, message, raw) {
			return errors.New("signature does not match key")
		}
		return nil
	default:
		return errors.New("unsupported public key type")
	}
}

func hashForAlgorithm(algorithm string) crypto.Hash {
	switch {
	case strings.HasSuffix(algorithm, "sha384"):
		return crypto.SHA384
	case strings.HasSuffix(algorithm, "sha512"):
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

func digest(hash crypto.Hash, message []byte) []byte {
	h := hash.New()
	h.Write(message)
	return h.Sum(nil)
}
