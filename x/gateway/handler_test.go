package gateway

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/util"
)

type enqueued struct {
	queue   string
	typ     string
	payload string
}

type stubJobService struct {
	jobs []enqueued
}

func (s *stubJobService) Enqueue(ctx context.Context, queue, typ, payload string, opts core.JobOptions) (core.Job, error) {
	s.jobs = append(s.jobs, enqueued{queue, typ, payload})
	return core.Job{Queue: queue, Type: typ, Payload: payload}, nil
}

func testConfig() util.Config {
	config := util.Config{}
	config.Federation.Host = "example.com"
	return config
}

// deliveryRequest builds a signed inbox POST the way a remote server
// would: digest over the body, ed25519 signature over the signing
// string.
func deliveryRequest(t *testing.T, body string, mutate func(*http.Request)) (*http.Request, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "https://example.com/inbox", strings.NewReader(body))
	req.Host = "example.com"

	date := time.Now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)

	sum := sha256.Sum256([]byte(body))
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	req.Header.Set("Digest", digest)

	signingString := strings.Join([]string{
		"(request-target): post /inbox",
		"digest: " + digest,
		"host: example.com",
		"date: " + date,
	}, "\n")
	signature := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(signingString)))

	req.Header.Set("Signature",
		`keyId="https://remote.example/users/alice#main-key",`+
			`algorithm="ed25519-sha512",`+
			`headers="(request-target) digest host date",`+
			`signature="`+signature+`"`)

	if mutate != nil {
		mutate(req)
	}
	return req, pub
}

func TestInbox(t *testing.T) {

	activity := `{"type":"Follow","id":"https://remote.example/follows/1","actor":"https://remote.example/users/alice","object":"https://example.com/users/bob"}`

	tests := []struct {
		name       string
		mutate     func(*http.Request)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "accepts a valid delivery",
			wantStatus: http.StatusAccepted,
		},
		{
			name: "rejects a foreign host",
			mutate: func(r *http.Request) {
				r.Host = "evil.example"
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid Host",
		},
		{
			name: "rejects an unknown algorithm",
			mutate: func(r *http.Request) {
				sig := r.Header.Get("Signature")
				r.Header.Set("Signature", strings.Replace(sig, "ed25519-sha512", "rsa-md5", 1))
			},
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Invalid Signature Algorithm",
		},
		{
			name: "rejects a tampered body",
			mutate: func(r *http.Request) {
				r.Header.Set("Digest", "SHA-256=AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
			},
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Digest Mismatch",
		},
		{
			name: "rejects an unsigned digest",
			mutate: func(r *http.Request) {
				sig := r.Header.Get("Signature")
				r.Header.Set("Signature", strings.Replace(sig,
					`headers="(request-target) digest host date"`,
					`headers="(request-target) host date"`, 1))
			},
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Missing Required Header",
		},
		{
			name: "rejects a stale date",
			mutate: func(r *http.Request) {
				r.Header.Set("Date", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
			},
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Expired Request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &stubJobService{}
			handler := NewHandler(nil, nil, job, testConfig())

			req, _ := deliveryRequest(t, activity, tt.mutate)
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(req, rec)

			err := handler.Inbox(c)
			assert.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}

			if tt.wantStatus != http.StatusAccepted {
				assert.Empty(t, job.jobs, "rejected delivery must not enqueue")
				return
			}

			assert.Empty(t, rec.Body.String(), "acceptance carries no body")

			// acceptance queues exactly one job carrying the raw
			// activity and the parsed signature
			if assert.Len(t, job.jobs, 1) {
				assert.Equal(t, "inbox", job.jobs[0].queue)
				assert.Equal(t, "process", job.jobs[0].typ)

				var payload core.InboxJobPayload
				assert.NoError(t, json.Unmarshal([]byte(job.jobs[0].payload), &payload))
				assert.JSONEq(t, activity, string(payload.Activity))
				assert.Equal(t, "https://remote.example/users/alice#main-key", payload.Signature.KeyID)
				assert.Equal(t, "ed25519-sha512", payload.Signature.Algorithm)
				assert.NotEmpty(t, payload.Signature.SigningString)
			}
		})
	}
}

func TestInboxFederationDisabled(t *testing.T) {

	config := testConfig()
	config.Federation.Disabled = true

	job := &stubJobService{}
	handler := NewHandler(nil, nil, job, config)

	req, _ := deliveryRequest(t, `{"type":"Follow"}`, nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	assert.NoError(t, handler.Inbox(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, job.jobs)
}
