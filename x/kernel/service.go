// Package kernel consumes queued inbound activities, verifies key
// ownership, and routes each activity to its typed handler.
package kernel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/util"
)

// JobTypeProcess is the job type the gateway enqueues on the inbox queue.
const JobTypeProcess = "process"

type Service interface {
	core.KernelService
	ProcessInbox(ctx context.Context, job *core.Job) (string, error)
}

type service struct {
	repo      Repository
	actor     core.ActorService
	resolver  core.ResolverService
	deliver   core.DeliverService
	report    core.ReportService
	publisher core.Publisher
	config    util.Config
}

func NewService(
	repo Repository,
	actor core.ActorService,
	resolver core.ResolverService,
	deliver core.DeliverService,
	report core.ReportService,
	publisher core.Publisher,
	config util.Config,
) Service {
	return &service{repo, actor, resolver, deliver, report, publisher, config}
}

// ProcessInbox is the inbox queue's handler. It resolves the signer
// from the signature's keyId, checks the signature against the
// signer's published key, then dispatches. Failures return an error
// so the queue retries them; policy skips complete normally.
func (s *service) ProcessInbox(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.ProcessInbox")
	defer span.End()

	var payload core.InboxJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", errors.Wrap(err, "failed to parse inbox payload")
	}

	var activity core.Document
	if err := json.Unmarshal(payload.Activity, &activity); err != nil {
		return "", errors.Wrap(err, "failed to parse activity")
	}

	actorURI := strings.SplitN(payload.Signature.KeyID, "#", 2)[0]

	signer, err := s.actor.ResolveOrFetch(ctx, actorURI)
	if err != nil {
		span.RecordError(err)
		return "", errors.Wrapf(err, "failed to resolve signer %s", actorURI)
	}

	if err := verifyOwnership(payload.Signature, signer.PublicKeyPem); err != nil {
		span.RecordError(err)
		return "", errors.Wrap(err, "signature ownership check failed")
	}

	// the activity id must live on the signer's host, or a server
	// could replay another instance's activities as its own
	if activity.ID != "" && hostOf(activity.ID) != hostOf(actorURI) {
		outcome := core.Skip("activity id host does not match signer host")
		slog.WarnContext(ctx, outcome.String(),
			slog.String("activity", activity.ID),
			slog.String("signer", actorURI),
		)
		return outcome.String(), nil
	}

	outcome, err := s.Perform(ctx, signer, &activity)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	slog.InfoContext(ctx, "inbox activity processed",
		slog.String("type", activity.Type),
		slog.String("actor", signer.URI),
		slog.String("outcome", outcome.String()),
	)

	return outcome.String(), nil
}

// Perform runs one activity through the guards and the type switch.
func (s *service) Perform(ctx context.Context, actor core.Actor, activity *core.Document) (core.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Service.Perform")
	defer span.End()

	if activity.IsCollection() {
		outcome := core.Skip("refusing to ingest collection as activity")
		slog.DebugContext(ctx, outcome.String())
		return outcome, nil
	}

	// suspended actors are inert: policy enforcement, not a failure
	if actor.IsSuspended {
		return core.Skip("actor is suspended"), nil
	}

	switch activity.Type {
	case core.TypeCreate:
		return s.create(ctx, actor, activity)
	case core.TypeUpdate:
		return s.update(ctx, actor, activity)
	case core.TypeDelete:
		return s.delete(ctx, actor, activity)
	case core.TypeRead:
		return s.read(ctx, actor, activity)
	case core.TypeFollow:
		return s.follow(ctx, actor, activity)
	case core.TypeAccept:
		return s.accept(ctx, actor, activity)
	case core.TypeReject:
		return s.reject(ctx, actor, activity)
	case core.TypeAdd:
		return s.add(ctx, actor, activity)
	case core.TypeRemove:
		return s.remove(ctx, actor, activity)
	case core.TypeAnnounce:
		return s.announce(ctx, actor, activity)
	case core.TypeLike:
		return s.like(ctx, actor, activity)
	case core.TypeUndo:
		return s.undo(ctx, actor, activity)
	case core.TypeBlock:
		return s.block(ctx, actor, activity)
	case core.TypeFlag:
		return s.flag(ctx, actor, activity)
	default:
		slog.WarnContext(ctx, "unrecognized activity type", slog.String("type", activity.Type))
		return core.Skip("unrecognized activity type: %s", activity.Type), nil
	}
}

func hostOf(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return parsed.Host
}
