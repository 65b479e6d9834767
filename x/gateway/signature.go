package gateway

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hotaru-sns/hotaru/core"
)

// Parse failures map to the gateway's 401 sub-reasons.
var (
	errMissingHeader = errors.New("Missing Required Header")
	errExpired       = errors.New("Expired Request")
	errMalformed     = errors.New("Invalid Signature")
)

var (
	signatureParamPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)
	algorithmPattern      = regexp.MustCompile(`^((dsa|rsa|ecdsa)-(sha256|sha384|sha512)|ed25519-sha512|hs2019)$`)
	digestPattern         = regexp.MustCompile(`^([0-9A-Za-z-]+)=(.+)$`)
)

const clockSkew = 5 * time.Minute

var requiredSignedHeaders = []string{"(request-target)", "digest", "host", "date"}

// parseSignature extracts and validates the HTTP Signature header,
// reconstructing the signing string from the request. Only structure
// and freshness are checked here; the key match happens in the kernel
// once the signer's key is available.
func parseSignature(req *http.Request) (core.SignedRequest, error) {
	header := req.Header.Get("Signature")
	if header == "" {
		return core.SignedRequest{}, errMissingHeader
	}

	params := map[string]string{}
	for _, match := range signatureParamPattern.FindAllStringSubmatch(header, -1) {
		params[match[1]] = match[2]
	}

	keyID := params["keyId"]
	algorithm := strings.ToLower(params["algorithm"])
	signature := params["signature"]
	if keyID == "" || signature == "" {
		return core.SignedRequest{}, errMalformed
	}

	signedHeaders := strings.Fields(strings.ToLower(params["headers"]))
	if len(signedHeaders) == 0 {
		signedHeaders = []string{"date"}
	}

	for _, required := range requiredSignedHeaders {
		if !contains(signedHeaders, required) {
			return core.SignedRequest{}, errMissingHeader
		}
	}

	date := req.Header.Get("Date")
	if date == "" {
		return core.SignedRequest{}, errMissingHeader
	}
	when, err := http.ParseTime(date)
	if err != nil {
		return core.SignedRequest{}, errMalformed
	}
	if skew := time.Since(when); skew > clockSkew || skew < -clockSkew {
		return core.SignedRequest{}, errExpired
	}

	signingString, err := buildSigningString(req, signedHeaders)
	if err != nil {
		return core.SignedRequest{}, err
	}

	return core.SignedRequest{
		KeyID:         keyID,
		Algorithm:     algorithm,
		Headers:       signedHeaders,
		Signature:     signature,
		SigningString: signingString,
	}, nil
}

func buildSigningString(req *http.Request, signedHeaders []string) (string, error) {
	lines := make([]string, 0, len(signedHeaders))
	for _, name := range signedHeaders {
		switch name {
		case "(request-target)":
			lines = append(lines, "(request-target): "+strings.ToLower(req.Method)+" "+req.URL.RequestURI())
		case "host":
			host := req.Host
			if h := req.Header.Get("Host"); h != "" {
				host = h
			}
			lines = append(lines, "host: "+host)
		default:
			value := req.Header.Get(name)
			if value == "" {
				return "", errMissingHeader
			}
			lines = append(lines, name+": "+value)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func validAlgorithm(algorithm string) bool {
	return algorithmPattern.MatchString(algorithm)
}

// checkDigest validates the Digest header against the raw body.
// Returns the 401 message on failure.
func checkDigest(req *http.Request, body []byte) string {
	digests := req.Header.Values("Digest")
	if len(digests) != 1 {
		return "Invalid Digest Header"
	}

	match := digestPattern.FindStringSubmatch(digests[0])
	if match == nil {
		return "Invalid Digest Header"
	}

	if strings.ToUpper(match[1]) != "SHA-256" {
		return "Unsupported Digest Algorithm"
	}

	sum := sha256.Sum256(body)
	actual := base64.StdEncoding.EncodeToString(sum[:])
	if match[2] != actual {
		return "Digest Mismatch"
	}

	return ""
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
