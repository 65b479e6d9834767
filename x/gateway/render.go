package gateway

import (
	"encoding/json"
	"time"

	"github.com/hotaru-sns/hotaru/core"
)

const (
	contextActivityStreams = "https://www.w3.org/ns/activitystreams"
	contextSecurity        = "https://w3id.org/security/v1"
	addressingPublic       = "https://www.w3.org/ns/activitystreams#Public"
)

// renderPerson builds the Person document for a local actor.
func renderPerson(host string, actor core.Actor) core.Document {
	doc := core.Document{
		Context:           []string{contextActivityStreams, contextSecurity},
		ID:                actor.URI,
		Type:              "Person",
		PreferredUsername: actor.Username,
		Name:              actor.Name,
		Summary:           actor.Summary,
		Inbox:             actor.URI + "/inbox",
		Outbox:            actor.URI + "/outbox",
		Followers:         actor.URI + "/followers",
		Following:         actor.URI + "/following",
		URL:               "https://" + host + "/@" + actor.Username,
		PublicKey: &core.PublicKey{
			ID:           actor.URI + "#main-key",
			Type:         "Key",
			Owner:        actor.URI,
			PublicKeyPem: actor.PublicKeyPem,
		},
		Endpoints: &core.Endpoints{
			SharedInbox: "https://" + host + "/inbox",
		},
	}
	if actor.IconURL != "" {
		doc.Icon = &core.Icon{
			Type:      "Image",
			MediaType: "image/png",
			URL:       actor.IconURL,
		}
	}
	return doc
}

// renderNote builds the Note (or Question, when the note carries a
// poll) document for a local note.
func renderNote(note core.Note, author core.Actor) core.Document {
	to := []string{addressingPublic}
	cc := []string{author.URI + "/followers"}
	if note.Visibility == "home" {
		to, cc = cc, to
	}

	doc := core.Document{
		Context:      contextActivityStreams,
		ID:           note.URI,
		Type:         core.TypeNote,
		AttributedTo: core.NewRefID(author.URI),
		Content:      note.Content,
		Published:    note.CDate.Format(time.RFC3339),
		To:           to,
		CC:           cc,
	}

	if note.HasPoll {
		doc.Type = core.TypeQuestion
		doc.OneOf = renderChoices(note.PollChoices)
		if note.PollExpiresAt != nil {
			doc.EndTime = note.PollExpiresAt.Format(time.RFC3339)
		}
	}

	return doc
}

func renderChoices(raw string) []core.QuestionChoice {
	var stored []struct {
		Name  string `json:"name"`
		Votes int    `json:"votes"`
	}
	if json.Unmarshal([]byte(raw), &stored) != nil {
		return nil
	}
	choices := make([]core.QuestionChoice, 0, len(stored))
	for _, choice := range stored {
		choices = append(choices, core.QuestionChoice{
			Type:    core.TypeNote,
			Name:    choice.Name,
			Replies: &core.Tally{TotalItems: choice.Votes},
		})
	}
	return choices
}

// renderCreate wraps a note in the Create activity it was published with.
func renderCreate(note core.Note, author core.Actor) core.Document {
	object := renderNote(note, author)
	object.Context = nil
	return core.Document{
		Context:   contextActivityStreams,
		ID:        note.URI + "/activity",
		Type:      core.TypeCreate,
		Actor:     core.NewRefID(author.URI),
		Object:    core.NewRefObject(object),
		Published: object.Published,
		To:        object.To,
		CC:        object.CC,
	}
}

// renderLike builds the Like activity for a local reaction.
func renderLike(host string, reaction core.Reaction, actor core.Actor, note core.Note) core.Document {
	return core.Document{
		Context:   contextActivityStreams,
		ID:        "https://" + host + "/likes/" + reaction.ID,
		Type:      core.TypeLike,
		Actor:     core.NewRefID(actor.URI),
		Object:    core.NewRefID(note.URI),
		Content:   reaction.Kind,
		Published: reaction.CDate.Format(time.RFC3339),
	}
}

func renderEmoji(host string, emoji core.Emoji) EmojiDocument {
	return EmojiDocument{
		Context: contextActivityStreams,
		ID:      "https://" + host + "/emojis/" + emoji.Name,
		Type:    "Emoji",
		Name:    ":" + emoji.Name + ":",
		Updated: emoji.CDate.Format(time.RFC3339),
		Icon: core.Icon{
			Type: "Image",
			URL:  emoji.URL,
		},
	}
}
