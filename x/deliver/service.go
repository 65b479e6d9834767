// Package deliver builds outbound activity payloads and enqueues one
// delivery job per target inbox. Delivery is fire-and-forget for the
// caller; the queue's backoff policy owns the retries.
package deliver

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/queue"
)

var tracer = otel.Tracer("deliver")

// JobTypeDeliver is the single job type of the deliver queue.
const JobTypeDeliver = "deliver"

type Service interface {
	core.DeliverService
	ProcessJob(ctx context.Context, job *core.Job) (string, error)
}

type service struct {
	job    core.JobService
	actor  core.ActorService
	client *Client
}

func NewService(job core.JobService, actor core.ActorService, client *Client) Service {
	return &service{job, actor, client}
}

// Enqueue submits one delivery job per target inbox. A nil content is
// a no-op, not an error.
func (s *service) Enqueue(ctx context.Context, origin core.Actor, content *core.Document, inboxes []string) error {
	ctx, span := tracer.Start(ctx, "Deliver.Service.Enqueue")
	defer span.End()

	if content == nil {
		return nil
	}

	body, err := json.Marshal(content)
	if err != nil {
		return errors.Wrap(err, "failed to marshal activity")
	}

	for _, inbox := range inboxes {
		if inbox == "" {
			continue
		}

		payload, err := json.Marshal(core.DeliverJobPayload{
			OriginActorID: origin.ID,
			Inbox:         inbox,
			Content:       body,
		})
		if err != nil {
			return errors.Wrap(err, "failed to marshal delivery payload")
		}

		_, err = s.job.Enqueue(ctx, queue.QueueDeliver, JobTypeDeliver, string(payload), core.JobOptions{})
		if err != nil {
			span.RecordError(err)
			return errors.Wrapf(err, "failed to enqueue delivery to %s", inbox)
		}
	}

	return nil
}

// PostToInbox performs one signed delivery attempt.
func (s *service) PostToInbox(ctx context.Context, inbox string, content *core.Document, origin core.Actor) error {
	ctx, span := tracer.Start(ctx, "Deliver.Service.PostToInbox")
	defer span.End()

	body, err := json.Marshal(content)
	if err != nil {
		return errors.Wrap(err, "failed to marshal activity")
	}

	return s.client.Post(ctx, inbox, body, origin)
}

// ProcessJob is the deliver queue's handler. Any failure bubbles up
// as a job error eligible for retry.
func (s *service) ProcessJob(ctx context.Context, job *core.Job) (string, error) {
	ctx, span := tracer.Start(ctx, "Deliver.Service.ProcessJob")
	defer span.End()

	var payload core.DeliverJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", errors.Wrap(err, "failed to parse delivery payload")
	}

	origin, err := s.actor.Get(ctx, payload.OriginActorID)
	if err != nil {
		return "", errors.Wrapf(err, "unknown origin actor %s", payload.OriginActorID)
	}

	if err := s.client.Post(ctx, payload.Inbox, payload.Content, origin); err != nil {
		return "", err
	}

	return "delivered to " + payload.Inbox, nil
}
