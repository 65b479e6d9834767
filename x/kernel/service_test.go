package kernel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/internal/testutil"
	"github.com/hotaru-sns/hotaru/x/util"
)

// stubActorService serves a fixed set of actors keyed by id and uri.
type stubActorService struct {
	byID  map[string]core.Actor
	byURI map[string]core.Actor
}

func (s *stubActorService) Get(ctx context.Context, id string) (core.Actor, error) {
	if actor, ok := s.byID[id]; ok {
		return actor, nil
	}
	return core.Actor{}, core.NewErrorNotFound()
}

func (s *stubActorService) GetByURI(ctx context.Context, uri string) (core.Actor, error) {
	if actor, ok := s.byURI[uri]; ok {
		return actor, nil
	}
	return core.Actor{}, core.NewErrorNotFound()
}

func (s *stubActorService) GetByUsername(ctx context.Context, username string) (core.Actor, error) {
	return core.Actor{}, core.NewErrorNotFound()
}

func (s *stubActorService) ResolveOrFetch(ctx context.Context, uri string) (core.Actor, error) {
	return s.GetByURI(ctx, uri)
}

func (s *stubActorService) UpdateProfile(ctx context.Context, uri string, person *core.Document) (core.Actor, error) {
	return s.GetByURI(ctx, uri)
}

func (s *stubActorService) ListModerators(ctx context.Context) ([]core.Actor, error) {
	return nil, nil
}

// stubResolver hands back embedded documents and canned answers for
// URIs, without touching the network.
type stubResolver struct {
	docs map[string]*core.Document
}

func (s *stubResolver) Resolve(ctx context.Context, ref core.Ref) (*core.Document, error) {
	if doc, ok := ref.Embedded(); ok {
		return doc, nil
	}
	if doc, ok := s.docs[ref.ID()]; ok {
		return doc, nil
	}
	return nil, core.NewErrorNotFound()
}

type stubDeliver struct {
	sent []string // inboxes
}

func (s *stubDeliver) Enqueue(ctx context.Context, origin core.Actor, content *core.Document, inboxes []string) error {
	s.sent = append(s.sent, inboxes...)
	return nil
}

func (s *stubDeliver) PostToInbox(ctx context.Context, inbox string, content *core.Document, origin core.Actor) error {
	s.sent = append(s.sent, inbox)
	return nil
}

type stubReport struct {
	created []core.AbuseReport
}

func (s *stubReport) Create(ctx context.Context, report core.AbuseReport) (core.AbuseReport, error) {
	s.created = append(s.created, report)
	return report, nil
}

type stubPublisher struct {
	events []string
}

func (s *stubPublisher) Publish(ctx context.Context, channel string, payload any) error {
	s.events = append(s.events, channel)
	return nil
}

func TestPerform(t *testing.T) {

	var ctx = context.Background()

	db, cleanup_db := testutil.CreateDB()
	defer cleanup_db()

	config := util.Config{}
	config.Federation.Host = "example.com"

	bob := core.Actor{
		ID:       "bob",
		URI:      "https://example.com/users/bob",
		Username: "bob",
		Inbox:    "https://example.com/users/bob/inbox",
	}
	alice := core.Actor{
		ID:       "alice",
		URI:      "https://remote.example/users/alice",
		Username: "alice",
		Host:     "remote.example",
		Inbox:    "https://remote.example/users/alice/inbox",
	}

	actors := &stubActorService{
		byID:  map[string]core.Actor{"bob": bob, "alice": alice},
		byURI: map[string]core.Actor{bob.URI: bob, alice.URI: alice},
	}
	resolver := &stubResolver{docs: map[string]*core.Document{}}
	deliverStub := &stubDeliver{}
	reportStub := &stubReport{}
	publisher := &stubPublisher{}

	repo := NewRepository(db)
	service := NewService(repo, actors, resolver, deliverStub, reportStub, publisher, config)

	// collections are never activities
	outcome, err := service.Perform(ctx, alice, &core.Document{Type: core.TypeOrderedCollection})
	assert.NoError(t, err)
	assert.True(t, outcome.Skipped)

	// suspended actors are inert
	suspended := alice
	suspended.IsSuspended = true
	outcome, err = service.Perform(ctx, suspended, &core.Document{Type: core.TypeCreate})
	assert.NoError(t, err)
	assert.Equal(t, "skip: actor is suspended", outcome.String())

	// an actor may not update a profile other than its own
	outcome, err = service.Perform(ctx, alice, &core.Document{
		Type:  core.TypeUpdate,
		Actor: core.NewRefID(alice.URI),
		Object: core.NewRefObject(core.Document{
			ID:   "https://remote.example/users/mallory",
			Type: "Person",
		}),
	})
	assert.NoError(t, err)
	assert.Equal(t, "skip: actor id mismatch", outcome.String())

	// follow of a local user: edge created, accept delivered back
	follow := &core.Document{
		ID:     "https://remote.example/follows/1",
		Type:   core.TypeFollow,
		Actor:  core.NewRefID(alice.URI),
		Object: core.NewRefID(bob.URI),
	}
	outcome, err = service.Perform(ctx, alice, follow)
	assert.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.Equal(t, []string{alice.Inbox}, deliverStub.sent)

	// a duplicate delivery collapses onto the same edge
	outcome, err = service.Perform(ctx, alice, follow)
	assert.NoError(t, err)
	assert.False(t, outcome.Skipped)

	var followCount int64
	db.Model(&core.Follow{}).
		Where("follower_id = ? AND followee_id = ?", alice.ID, bob.ID).
		Count(&followCount)
	assert.EqualValues(t, 1, followCount)

	// create ingests a remote note once
	noteURI := "https://remote.example/notes/1"
	resolver.docs[noteURI] = &core.Document{
		ID:      noteURI,
		Type:    core.TypeNote,
		Content: "hello from afar",
	}
	create := &core.Document{
		ID:     "https://remote.example/activities/1",
		Type:   core.TypeCreate,
		Actor:  core.NewRefID(alice.URI),
		Object: core.NewRefID(noteURI),
	}
	outcome, err = service.Perform(ctx, alice, create)
	assert.NoError(t, err)
	assert.Equal(t, "ok: Note created", outcome.String())

	outcome, err = service.Perform(ctx, alice, create)
	assert.NoError(t, err)
	assert.Equal(t, "skip: note already exists", outcome.String())

	// like on the ingested note
	outcome, err = service.Perform(ctx, alice, &core.Document{
		ID:     "https://remote.example/likes/1",
		Type:   core.TypeLike,
		Actor:  core.NewRefID(alice.URI),
		Object: core.NewRefID(noteURI),
	})
	assert.NoError(t, err)
	assert.False(t, outcome.Skipped)

	var reactionCount int64
	db.Model(&core.Reaction{}).Count(&reactionCount)
	assert.EqualValues(t, 1, reactionCount)

	// flag targets the first local user and keeps every uri in the comment
	outcome, err = service.Perform(ctx, alice, &core.Document{
		ID:      "https://remote.example/flags/1",
		Type:    core.TypeFlag,
		Actor:   core.NewRefID(alice.URI),
		Object:  core.NewRefID("https://example.com/users/bob"),
		Content: "spam",
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok: abuse report created", outcome.String())
	if assert.Len(t, reportStub.created, 1) {
		assert.Equal(t, "bob", reportStub.created[0].TargetUserID)
		assert.Contains(t, reportStub.created[0].Comment, "spam")
		assert.Contains(t, reportStub.created[0].Comment, "https://example.com/users/bob")
	}

	// a flag with no local target is dropped
	outcome, err = service.Perform(ctx, alice, &core.Document{
		Type:   core.TypeFlag,
		Actor:  core.NewRefID(alice.URI),
		Object: core.NewRefID("https://other.example/users/carol"),
	})
	assert.NoError(t, err)
	assert.Equal(t, "skip: no local target", outcome.String())
	assert.Len(t, reportStub.created, 1)

	// a flag carrying an array object scans it for the one local user
	var multiFlag core.Document
	err = json.Unmarshal([]byte(`{
		"id": "https://remote.example/flags/2",
		"type": "Flag",
		"actor": "`+alice.URI+`",
		"object": [
			"https://other.example/users/carol",
			"https://example.com/users/bob",
			"https://remote.example/notes/9"
		],
		"content": "coordinated spam"
	}`), &multiFlag)
	assert.NoError(t, err)

	outcome, err = service.Perform(ctx, alice, &multiFlag)
	assert.NoError(t, err)
	assert.Equal(t, "ok: abuse report created", outcome.String())
	if assert.Len(t, reportStub.created, 2) {
		report := reportStub.created[1]
		assert.Equal(t, "bob", report.TargetUserID)
		assert.Contains(t, report.Comment, "coordinated spam")
		assert.Contains(t, report.Comment, "https://other.example/users/carol")
		assert.Contains(t, report.Comment, "https://example.com/users/bob")
		assert.Contains(t, report.Comment, "https://remote.example/notes/9")
	}

	// unknown types are skipped, not failed
	outcome, err = service.Perform(ctx, alice, &core.Document{Type: "Arrive"})
	assert.NoError(t, err)
	assert.True(t, outcome.Skipped)
}
