package gateway

import "github.com/hotaru-sns/hotaru/core"

// WebFinger is a struct for a WebFinger response.
type WebFinger struct {
	Subject string          `json:"subject"`
	Links   []WebFingerLink `json:"links"`
}

// WebFingerLink is a struct for the links field of a WebFinger response.
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// WellKnown is a struct for a .well-known/nodeinfo response.
type WellKnown struct {
	Links []WellKnownLink `json:"links"`
}

// WellKnownLink is a struct for the links field of a WellKnown response.
type WellKnownLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// NodeInfo is a struct for a NodeInfo response.
type NodeInfo struct {
	Version           string           `json:"version"`
	Software          NodeInfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Metadata          NodeInfoMetadata `json:"metadata"`
}

// NodeInfoSoftware is a struct for the software field of a NodeInfo response.
type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NodeInfoMetadata is a struct for the metadata field of a NodeInfo response.
type NodeInfoMetadata struct {
	NodeName        string                     `json:"nodeName"`
	NodeDescription string                     `json:"nodeDescription"`
	Maintainer      NodeInfoMetadataMaintainer `json:"maintainer"`
	ThemeColor      string                     `json:"themeColor"`
}

// NodeInfoMetadataMaintainer is a struct for the maintainer field of a NodeInfo metadata.
type NodeInfoMetadataMaintainer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OrderedCollection is a struct for an ActivityStreams ordered collection.
type OrderedCollection struct {
	Context      any             `json:"@context"`
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	TotalItems   int64           `json:"totalItems"`
	OrderedItems []core.Document `json:"orderedItems,omitempty"`
}

// EmojiDocument is a struct for a custom emoji object.
type EmojiDocument struct {
	Context any       `json:"@context"`
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Name    string    `json:"name"`
	Updated string    `json:"updated"`
	Icon    core.Icon `json:"icon"`
}
