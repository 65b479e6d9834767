// Package actor owns local and remote actor records. Remote actors
// are created on first sight from their fetched Person document and
// refreshed on Update activities.
package actor

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/fetch"
)

type service struct {
	repo   Repository
	client *fetch.Client
}

func NewService(repo Repository, client *fetch.Client) core.ActorService {
	return &service{repo, client}
}

func (s *service) Get(ctx context.Context, id string) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Service.Get")
	defer span.End()

	return s.repo.Get(ctx, id)
}

func (s *service) GetByURI(ctx context.Context, uri string) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Service.GetByURI")
	defer span.End()

	return s.repo.GetByURI(ctx, uri)
}

func (s *service) GetByUsername(ctx context.Context, username string) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Service.GetByUsername")
	defer span.End()

	return s.repo.GetByUsername(ctx, username)
}

// ResolveOrFetch returns the known actor for uri, fetching and
// persisting the remote person on first sight.
func (s *service) ResolveOrFetch(ctx context.Context, uri string) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Service.ResolveOrFetch")
	defer span.End()

	known, err := s.repo.GetByURI(ctx, uri)
	if err == nil {
		return known, nil
	}

	body, err := s.client.FetchActivityJSON(ctx, uri)
	if err != nil {
		span.RecordError(err)
		return core.Actor{}, errors.Wrapf(err, "failed to fetch actor %s", uri)
	}

	var person core.Document
	if err := json.Unmarshal(body, &person); err != nil {
		return core.Actor{}, errors.Wrap(err, "failed to parse actor document")
	}
	if person.ID != uri {
		return core.Actor{}, errors.Errorf("actor document id %s does not match %s", person.ID, uri)
	}
	if !core.IsActorType(person.Type) {
		return core.Actor{}, errors.Errorf("%s is not an actor (%s)", uri, person.Type)
	}

	return s.UpdateProfile(ctx, uri, &person)
}

// UpdateProfile applies a Person document to the stored remote actor,
// creating it if unknown. Suspension is local moderation state and is
// never overwritten from remote input.
func (s *service) UpdateProfile(ctx context.Context, uri string, person *core.Document) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Service.UpdateProfile")
	defer span.End()

	actor := core.Actor{
		ID:          xid.New().String(),
		URI:         uri,
		Username:    person.PreferredUsername,
		Host:        hostOf(uri),
		Inbox:       person.Inbox,
		Name:        person.Name,
		Summary:     person.Summary,
		LastFetched: time.Now(),
	}
	if person.Endpoints != nil {
		actor.SharedInbox = person.Endpoints.SharedInbox
	}
	if person.Icon != nil {
		actor.IconURL = person.Icon.URL
	}
	if person.PublicKey != nil {
		actor.PublicKeyPem = person.PublicKey.PublicKeyPem
	}

	return s.repo.Upsert(ctx, actor)
}

func (s *service) ListModerators(ctx context.Context) ([]core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Service.ListModerators")
	defer span.End()

	return s.repo.ListModerators(ctx)
}

func hostOf(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return parsed.Host
}
