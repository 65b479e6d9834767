package core

import (
	"bytes"
	"encoding/json"
)

// Activity and object types this server understands. Dispatch is a
// closed switch over these; anything else is skipped, not an error.
const (
	TypeCreate   = "Create"
	TypeUpdate   = "Update"
	TypeDelete   = "Delete"
	TypeRead     = "Read"
	TypeFollow   = "Follow"
	TypeAccept   = "Accept"
	TypeReject   = "Reject"
	TypeAdd      = "Add"
	TypeRemove   = "Remove"
	TypeAnnounce = "Announce"
	TypeLike     = "Like"
	TypeUndo     = "Undo"
	TypeBlock    = "Block"
	TypeFlag     = "Flag"

	TypeNote              = "Note"
	TypeQuestion          = "Question"
	TypeTombstone         = "Tombstone"
	TypeCollection        = "Collection"
	TypeOrderedCollection = "OrderedCollection"
)

var actorTypes = map[string]struct{}{
	"Person":       {},
	"Service":      {},
	"Group":        {},
	"Organization": {},
	"Application":  {},
}

// IsActorType reports whether t names an actor-like object.
func IsActorType(t string) bool {
	_, ok := actorTypes[t]
	return ok
}

var postTypes = map[string]struct{}{
	"Note":     {},
	"Question": {},
	"Article":  {},
	"Audio":    {},
	"Document": {},
	"Event":    {},
	"Image":    {},
	"Page":     {},
	"Video":    {},
}

// IsPostType reports whether t names a post-like object.
func IsPostType(t string) bool {
	_, ok := postTypes[t]
	return ok
}

// Document is the parsed form of an ActivityStreams object. One struct
// covers activities, actors and objects; which fields are meaningful
// depends on Type.
type Document struct {
	Context   any    `json:"@context,omitempty"`
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Actor     Ref    `json:"actor,omitempty"`
	Object    Ref    `json:"object,omitempty"`
	Target    Ref    `json:"target,omitempty"`
	Content   string `json:"content,omitempty"`
	Published string `json:"published,omitempty"`

	To []string `json:"to,omitempty"`
	CC []string `json:"cc,omitempty"`

	// actor fields
	PreferredUsername string     `json:"preferredUsername,omitempty"`
	Name              string     `json:"name,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	Inbox             string     `json:"inbox,omitempty"`
	Outbox            string     `json:"outbox,omitempty"`
	Followers         string     `json:"followers,omitempty"`
	Following         string     `json:"following,omitempty"`
	URL               string     `json:"url,omitempty"`
	Icon              *Icon      `json:"icon,omitempty"`
	PublicKey         *PublicKey `json:"publicKey,omitempty"`
	Endpoints         *Endpoints `json:"endpoints,omitempty"`

	// post fields
	AttributedTo Ref    `json:"attributedTo,omitempty"`
	InReplyTo    Ref    `json:"inReplyTo,omitempty"`
	EndTime      string `json:"endTime,omitempty"`
	Closed       string `json:"closed,omitempty"`

	// question fields
	OneOf []QuestionChoice `json:"oneOf,omitempty"`
	AnyOf []QuestionChoice `json:"anyOf,omitempty"`
}

func (d *Document) IsCollection() bool {
	return d.Type == TypeCollection || d.Type == TypeOrderedCollection
}

// Icon is an actor's avatar.
type Icon struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

// PublicKey is an actor's signing key.
type PublicKey struct {
	ID           string `json:"id"`
	Type         string `json:"type,omitempty"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Endpoints holds an actor's sharedInbox.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// QuestionChoice is one poll option with its vote tally.
type QuestionChoice struct {
	Type    string `json:"type,omitempty"`
	Name    string `json:"name"`
	Replies *Tally `json:"replies,omitempty"`
}

// Tally is the replies.totalItems carrier of a poll choice.
type Tally struct {
	TotalItems int `json:"totalItems"`
}

// Ref is a reference to an object: a bare URI string, an embedded
// object, or an array of either. The raw JSON is kept so embedded
// objects survive re-serialization untouched.
type Ref struct {
	raw json.RawMessage
}

// NewRefID makes a Ref holding a bare URI.
func NewRefID(id string) Ref {
	b, _ := json.Marshal(id)
	return Ref{raw: b}
}

// NewRefObject makes a Ref embedding the given document.
func NewRefObject(doc Document) Ref {
	b, _ := json.Marshal(doc)
	return Ref{raw: b}
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	r.raw = append(r.raw[0:0], b...)
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}

func (r Ref) IsZero() bool {
	trimmed := bytes.TrimSpace(r.raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ID returns the reference's identifier: the string itself for a URI
// reference, or the embedded object's id. Empty when neither applies.
func (r Ref) ID() string {
	trimmed := bytes.TrimSpace(r.raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if json.Unmarshal(trimmed, &s) != nil {
			return ""
		}
		return s
	case '{':
		var probe struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(trimmed, &probe) != nil {
			return ""
		}
		return probe.ID
	}
	return ""
}

// IDs flattens the reference into identifiers, handling the array form.
func (r Ref) IDs() []string {
	trimmed := bytes.TrimSpace(r.raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var items []Ref
		if json.Unmarshal(trimmed, &items) != nil {
			return nil
		}
		var ids []string
		for _, item := range items {
			if id := item.ID(); id != "" {
				ids = append(ids, id)
			}
		}
		return ids
	}
	if id := r.ID(); id != "" {
		return []string{id}
	}
	return nil
}

// Embedded returns the embedded document form, if the reference
// carries one.
func (r Ref) Embedded() (*Document, bool) {
	trimmed := bytes.TrimSpace(r.raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}
