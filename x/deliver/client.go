package deliver

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/pkg/errors"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/fetch"
)

// Client posts signed activities to remote inboxes through the
// guarded fetch client.
type Client struct {
	fetch *fetch.Client
}

func NewClient(fetch *fetch.Client) *Client {
	return &Client{fetch}
}

// Post signs body with the origin actor's key and delivers it to
// inbox. Non-2xx responses are errors so the queue retries them.
func (c *Client) Post(ctx context.Context, inbox string, body []byte, origin core.Actor) error {
	ctx, span := tracer.Start(ctx, "Deliver.Client.Post")
	defer span.End()

	priv, alg, err := parsePrivateKey(origin.PrivateKeyPem)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build delivery request")
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{alg},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create signer")
	}

	keyID := origin.URI + "#main-key"
	if err := signer.SignRequest(priv, keyID, req, body); err != nil {
		return errors.Wrap(err, "failed to sign delivery request")
	}

	resp, err := c.fetch.Do(req)
	if err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "delivery to %s failed", inbox)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("delivery to %s rejected with status %d", inbox, resp.StatusCode)
	}

	slog.DebugContext(ctx, "delivered activity",
		slog.String("inbox", inbox),
		slog.Int("status", resp.StatusCode),
	)

	return nil
}

func parsePrivateKey(pemString string) (crypto.PrivateKey, httpsig.Algorithm, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, "", errors.New("failed to parse PEM block containing the key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		switch key.(type) {
		case *rsa.PrivateKey:
			return key, httpsig.RSA_SHA256, nil
		case ed25519.PrivateKey:
			return key, httpsig.ED25519, nil
		default:
			return nil, "", errors.New("unsupported private key type")
		}
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to parse DER encoded private key")
	}

	return key, httpsig.RSA_SHA256, nil
}
