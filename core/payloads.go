package core

import (
	"encoding/json"
)

// SignedRequest is the parsed HTTP Signature of an inbox request. It
// travels with the queued activity so ownership verification can
// happen asynchronously; it is never persisted beyond the job row.
type SignedRequest struct {
	KeyID         string   `json:"keyId"`
	Algorithm     string   `json:"algorithm"`
	Headers       []string `json:"headers"`
	Signature     string   `json:"signature"`
	SigningString string   `json:"signingString"`
}

// InboxJobPayload is the body of an inbox queue job.
type InboxJobPayload struct {
	Activity  json.RawMessage `json:"activity"`
	Signature SignedRequest   `json:"signature"`
}

// DeliverJobPayload is the body of a deliver queue job, one per
// target inbox.
type DeliverJobPayload struct {
	OriginActorID string          `json:"originActorId"`
	Inbox         string          `json:"inbox"`
	Content       json.RawMessage `json:"content"`
}
