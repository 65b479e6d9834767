package kernel

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/hotaru-sns/hotaru/core"
)

// Every handler follows the same template: authorization check,
// resolve referenced objects, type-specific branch, explicit skip/ok
// outcome. Failures return an error so the surrounding job retries.

func (s *service) create(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Create")
	defer span.End()

	if id := activity.Actor.ID(); id != "" && id != actor.URI {
		return core.Skip("invalid actor"), nil
	}

	object, err := s.resolver.Resolve(ctx, activity.Object)
	if err != nil {
		return core.Outcome{}, errors.Wrap(err, "resolution failed")
	}

	if !core.IsPostType(object.Type) {
		return core.Skip("unsupported object type: %s", object.Type), nil
	}

	if _, err := s.repo.GetNoteByURI(ctx, object.ID); err == nil {
		return core.Skip("note already exists"), nil
	}

	note := core.Note{
		ID:       xid.New().String(),
		URI:      object.ID,
		AuthorID: actor.ID,
		Content:  object.Content,
	}
	if object.Type == core.TypeQuestion {
		note.HasPoll = true
		note.PollChoices = marshalChoices(object)
		note.PollExpiresAt = parseTimePtr(object.EndTime)
	}

	if _, err := s.repo.CreateNote(ctx, note); err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to create note")
	}

	return core.Ok("Note created"), nil
}

// update is the authorization-heavy representative: the claimed actor
// must be the signer, and an actor may only update itself.
func (s *service) update(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Update")
	defer span.End()

	if actor.URI == "" || actor.URI != activity.Actor.ID() {
		return core.Skip("invalid actor"), nil
	}

	object, err := s.resolver.Resolve(ctx, activity.Object)
	if err != nil {
		slog.ErrorContext(ctx, "resolution failed", slog.String("error", err.Error()))
		return core.Outcome{}, errors.Wrap(err, "resolution failed")
	}

	if core.IsActorType(object.Type) {
		if actor.URI != object.ID {
			return core.Skip("actor id mismatch"), nil
		}
		if _, err := s.actor.UpdateProfile(ctx, actor.URI, object); err != nil {
			return core.Outcome{}, errors.Wrap(err, "failed to update person")
		}
		return core.Ok("Person updated"), nil
	}

	if object.Type == core.TypeQuestion {
		if err := s.updateQuestion(ctx, object); err != nil {
			return core.Outcome{}, errors.Wrap(err, "failed to update question")
		}
		return core.Ok("Question updated"), nil
	}

	return core.Skip("unknown type: %s", object.Type), nil
}

func (s *service) updateQuestion(ctx context.Context, object *core.Document) error {
	note, err := s.repo.GetNoteByURI(ctx, object.ID)
	if err != nil {
		return errors.Wrapf(err, "question %s is not known", object.ID)
	}

	note.HasPoll = true
	note.PollChoices = marshalChoices(object)
	if closed := parseTimePtr(object.Closed); closed != nil {
		note.PollExpiresAt = closed
	} else if end := parseTimePtr(object.EndTime); end != nil {
		note.PollExpiresAt = end
	}

	return s.repo.UpdateNote(ctx, note)
}

func (s *service) delete(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Delete")
	defer span.End()

	if id := activity.Actor.ID(); id != "" && id != actor.URI {
		return core.Skip("invalid actor"), nil
	}

	objectID := activity.Object.ID()
	if objectID == "" {
		return core.Skip("no object id"), nil
	}

	if _, err := s.repo.GetNoteByURI(ctx, objectID); err != nil {
		return core.Skip("object not known"), nil
	}

	if err := s.repo.DeleteNoteByURI(ctx, objectID); err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to delete note")
	}

	return core.Ok("Note deleted"), nil
}

func (s *service) read(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	_, span := tracer.Start(ctx, "Kernel.Service.Read")
	defer span.End()

	return core.Skip("read target not supported"), nil
}

func (s *service) follow(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Follow")
	defer span.End()

	followee, err := s.actor.GetByURI(ctx, activity.Object.ID())
	if err != nil {
		return core.Skip("followee not found"), nil
	}
	if !followee.IsLocal() {
		return core.Skip("followee is not local"), nil
	}

	// duplicate Follow deliveries collapse on the edge's unique index
	_, err = s.repo.CreateFollow(ctx, core.Follow{
		ID:         xid.New().String(),
		URI:        activity.ID,
		FollowerID: actor.ID,
		FolloweeID: followee.ID,
	})
	if err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to create follow")
	}

	accept := &core.Document{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      "https://" + s.config.Federation.Host + "/follows/" + xid.New().String() + "/accept",
		Type:    core.TypeAccept,
		Actor:   core.NewRefID(followee.URI),
		Object:  core.NewRefObject(*activity),
	}
	if err := s.deliver.Enqueue(ctx, followee, accept, []string{actor.Inbox}); err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to enqueue accept")
	}

	if err := s.publisher.Publish(ctx, "user:"+followee.ID, map[string]string{
		"type":     "followed",
		"follower": actor.URI,
	}); err != nil {
		span.RecordError(err)
	}

	return core.Ok("followed %s", followee.Username), nil
}

func (s *service) accept(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Accept")
	defer span.End()

	follow, ok := activity.Object.Embedded()
	if !ok || follow.Type != core.TypeFollow {
		return core.Skip("accept target is not a follow"), nil
	}

	follower, err := s.actor.GetByURI(ctx, follow.Actor.ID())
	if err != nil || !follower.IsLocal() {
		return core.Skip("follow actor is not a known local user"), nil
	}

	_, err = s.repo.CreateFollow(ctx, core.Follow{
		ID:         xid.New().String(),
		URI:        follow.ID,
		FollowerID: follower.ID,
		FolloweeID: actor.ID,
	})
	if err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to record accepted follow")
	}

	return core.Ok("follow accepted by %s", actor.URI), nil
}

func (s *service) reject(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Reject")
	defer span.End()

	follow, ok := activity.Object.Embedded()
	if !ok || follow.Type != core.TypeFollow {
		return core.Skip("reject target is not a follow"), nil
	}

	if err := s.repo.RemoveFollowByURI(ctx, follow.ID); err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to remove follow")
	}

	return core.Ok("follow rejected by %s", actor.URI), nil
}

func (s *service) add(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Add")
	defer span.End()

	if activity.Target.ID() != featuredCollectionOf(actor) {
		return core.Skip("unknown target"), nil
	}

	if err := s.repo.SetNoteFeatured(ctx, activity.Object.ID(), true); err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to pin note")
	}

	return core.Ok("note pinned"), nil
}

func (s *service) remove(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Remove")
	defer span.End()

	if activity.Target.ID() != featuredCollectionOf(actor) {
		return core.Skip("unknown target"), nil
	}

	if err := s.repo.SetNoteFeatured(ctx, activity.Object.ID(), false); err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to unpin note")
	}

	return core.Ok("note unpinned"), nil
}

func (s *service) announce(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Announce")
	defer span.End()

	if id := activity.Actor.ID(); id != "" && id != actor.URI {
		return core.Skip("invalid actor"), nil
	}

	target, err := s.repo.GetNoteByURI(ctx, activity.Object.ID())
	if err != nil {
		object, resolveErr := s.resolver.Resolve(ctx, activity.Object)
		if resolveErr != nil {
			return core.Outcome{}, errors.Wrap(resolveErr, "resolution failed")
		}
		if !core.IsPostType(object.Type) {
			return core.Skip("announce target is not a post"), nil
		}
		author, authorErr := s.actor.ResolveOrFetch(ctx, object.AttributedTo.ID())
		if authorErr != nil {
			return core.Outcome{}, errors.Wrap(authorErr, "failed to resolve announce target author")
		}
		target, err = s.repo.CreateNote(ctx, core.Note{
			ID:       xid.New().String(),
			URI:      object.ID,
			AuthorID: author.ID,
			Content:  object.Content,
		})
		if err != nil {
			return core.Outcome{}, errors.Wrap(err, "failed to create announce target")
		}
	}

	_, err = s.repo.CreateNote(ctx, core.Note{
		ID:       xid.New().String(),
		URI:      activity.ID,
		AuthorID: actor.ID,
		RenoteID: target.ID,
	})
	if err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to create renote")
	}

	return core.Ok("Announce ingested"), nil
}

func (s *service) like(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Like")
	defer span.End()

	note, err := s.repo.GetNoteByURI(ctx, activity.Object.ID())
	if err != nil {
		return core.Skip("note not known"), nil
	}

	kind := activity.Content
	if kind == "" {
		kind = "👍"
	}

	_, err = s.repo.CreateReaction(ctx, core.Reaction{
		ID:      xid.New().String(),
		URI:     activity.ID,
		ActorID: actor.ID,
		NoteID:  note.ID,
		Kind:    kind,
	})
	if err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to create reaction")
	}

	return core.Ok("reacted to %s", note.URI), nil
}

func (s *service) undo(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Undo")
	defer span.End()

	object, ok := activity.Object.Embedded()
	if !ok {
		return core.Skip("invalid undo object"), nil
	}

	if id := object.Actor.ID(); id != "" && id != actor.URI {
		return core.Skip("invalid actor"), nil
	}

	switch object.Type {
	case core.TypeFollow:
		if err := s.repo.RemoveFollowByURI(ctx, object.ID); err != nil {
			return core.Outcome{}, errors.Wrap(err, "failed to remove follow")
		}
		return core.Ok("follow undone"), nil
	case core.TypeLike:
		if err := s.repo.RemoveReactionByURI(ctx, object.ID); err != nil {
			return core.Outcome{}, errors.Wrap(err, "failed to remove reaction")
		}
		return core.Ok("like undone"), nil
	case core.TypeAnnounce:
		if err := s.repo.DeleteNoteByURI(ctx, object.ID); err != nil {
			return core.Outcome{}, errors.Wrap(err, "failed to remove renote")
		}
		return core.Ok("announce undone"), nil
	case core.TypeBlock:
		blockee, err := s.actor.GetByURI(ctx, object.Object.ID())
		if err != nil {
			return core.Skip("blockee not found"), nil
		}
		if err := s.repo.RemoveBlockingEdge(ctx, actor.ID, blockee.ID); err != nil {
			return core.Outcome{}, errors.Wrap(err, "failed to remove blocking")
		}
		return core.Ok("block undone"), nil
	default:
		return core.Skip("undo of %s is not supported", object.Type), nil
	}
}

func (s *service) block(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Block")
	defer span.End()

	blockee, err := s.actor.GetByURI(ctx, activity.Object.ID())
	if err != nil {
		return core.Skip("blockee not found"), nil
	}
	if !blockee.IsLocal() {
		return core.Skip("blockee is not local"), nil
	}

	_, err = s.repo.CreateBlocking(ctx, core.Blocking{
		ID:        xid.New().String(),
		BlockerID: actor.ID,
		BlockeeID: blockee.ID,
	})
	if err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to create blocking")
	}

	if err := s.repo.RemoveFollowEdge(ctx, blockee.ID, actor.ID); err != nil {
		span.RecordError(err)
	}

	return core.Ok("blocked %s", blockee.Username), nil
}

// flag maps the report onto the first referenced local user; the
// remaining URIs are only preserved in the comment text.
func (s *service) flag(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Flag")
	defer span.End()

	uris := activity.Object.IDs()

	prefix := "https://" + s.config.Federation.Host + "/users/"

	var target core.Actor
	found := false
	for _, uri := range uris {
		if !strings.HasPrefix(uri, prefix) {
			continue
		}
		id := uri[len(prefix):]
		candidate, err := s.actor.Get(ctx, id)
		if err != nil || candidate.ID == actor.ID {
			continue
		}
		target = candidate
		found = true
		break
	}
	if !found {
		return core.Skip("no local target"), nil
	}

	urisJSON, _ := json.MarshalIndent(uris, "", "  ")
	comment := activity.Content + "\n" + string(urisJSON)

	_, err := s.report.Create(ctx, core.AbuseReport{
		TargetUserID:   target.ID,
		TargetUserHost: target.Host,
		ReporterID:     actor.ID,
		ReporterHost:   actor.Host,
		Comment:        comment,
	})
	if err != nil {
		return core.Outcome{}, errors.Wrap(err, "failed to create abuse report")
	}

	return core.Ok("abuse report created"), nil
}

func featuredCollectionOf(actor core.Actor) string {
	return actor.URI + "/collections/featured"
}

func marshalChoices(object *core.Document) string {
	choices := object.OneOf
	if len(choices) == 0 {
		choices = object.AnyOf
	}

	type choice struct {
		Name  string `json:"name"`
		Votes int    `json:"votes"`
	}

	out := make([]choice, 0, len(choices))
	for _, c := range choices {
		votes := 0
		if c.Replies != nil {
			votes = c.Replies.TotalItems
		}
		out = append(out, choice{Name: c.Name, Votes: votes})
	}

	b, _ := json.Marshal(out)
	return string(b)
}

func parseTimePtr(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}
