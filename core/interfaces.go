package core

import (
	"context"
	"time"
)

// JobOptions tunes a single enqueue. Zero values fall back to the
// queue's defaults.
type JobOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// JobHandler processes one job. The returned string is an
// observability-only result; a non-nil error makes the job eligible
// for retry under the queue's backoff policy.
type JobHandler func(ctx context.Context, job *Job) (string, error)

type JobService interface {
	Enqueue(ctx context.Context, queue, typ, payload string, opts JobOptions) (Job, error)
}

type ActorService interface {
	Get(ctx context.Context, id string) (Actor, error)
	GetByURI(ctx context.Context, uri string) (Actor, error)
	GetByUsername(ctx context.Context, username string) (Actor, error)
	ResolveOrFetch(ctx context.Context, uri string) (Actor, error)
	UpdateProfile(ctx context.Context, uri string, person *Document) (Actor, error)
	ListModerators(ctx context.Context) ([]Actor, error)
}

type ResolverService interface {
	Resolve(ctx context.Context, ref Ref) (*Document, error)
}

type DeliverService interface {
	Enqueue(ctx context.Context, origin Actor, content *Document, inboxes []string) error
	PostToInbox(ctx context.Context, inbox string, content *Document, origin Actor) error
}

type KernelService interface {
	Perform(ctx context.Context, actor Actor, activity *Document) (Outcome, error)
}

type ReportService interface {
	Create(ctx context.Context, report AbuseReport) (AbuseReport, error)
}

// Publisher pushes an event to the realtime fan-out collaborator.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Mailer is the email-delivery collaborator.
type Mailer interface {
	Send(to, subject, body string) error
}
