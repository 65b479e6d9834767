// Package queue implements durable named job queues on top of the
// relational store: per-job attempt limits, exponential backoff and
// at-least-once delivery to per-queue worker pools. The deliver queue
// is additionally throttled to stay polite to remote servers.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/util"
)

// Named queues. Handlers register against a queue and a job type.
const (
	QueueInbox         = "inbox"
	QueueDeliver       = "deliver"
	QueueDB            = "db"
	QueueObjectStorage = "object-storage"
)

const (
	defaultMaxAttempts        = 1
	defaultInboxMaxAttempts   = 8
	defaultDeliverMaxAttempts = 12
	defaultBaseDelay          = 60 * time.Second
)

type Service interface {
	core.JobService
	Register(queue, typ string, handler core.JobHandler)
	Start(ctx context.Context)
	Shutdown(ctx context.Context)
}

type handlerKey struct {
	queue string
	typ   string
}

type service struct {
	repo     Repository
	limiter  *limiter
	config   util.Config
	handlers map[handlerKey]core.JobHandler
	workers  *workerPool
}

func NewService(repo Repository, rdb *redis.Client, config util.Config) Service {
	s := &service{
		repo:     repo,
		limiter:  newLimiter(rdb, map[string]int{QueueDeliver: config.Queue.DeliverLimitPerSec}),
		config:   config,
		handlers: make(map[handlerKey]core.JobHandler),
	}
	s.workers = newWorkerPool(s)
	return s
}

// Enqueue submits a job. Zero options take the queue's defaults.
func (s *service) Enqueue(ctx context.Context, queue, typ, payload string, opts core.JobOptions) (core.Job, error) {
	ctx, span := tracer.Start(ctx, "Queue.Service.Enqueue")
	defer span.End()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultAttempts(queue)
	}

	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = s.baseDelay()
	}

	return s.repo.Enqueue(ctx, core.Job{
		Queue:       queue,
		Type:        typ,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay.Milliseconds(),
		Scheduled:   time.Now(),
	})
}

func (s *service) Register(queue, typ string, handler core.JobHandler) {
	s.handlers[handlerKey{queue, typ}] = handler
}

// Start boots the worker pools. Register all handlers before calling.
func (s *service) Start(ctx context.Context) {
	s.workers.start(ctx)
}

// Shutdown stops dequeuing and waits for in-flight jobs to finish.
func (s *service) Shutdown(ctx context.Context) {
	s.workers.drain(ctx)
}

func (s *service) defaultAttempts(queue string) int {
	switch queue {
	case QueueInbox:
		if s.config.Queue.InboxMaxAttempts > 0 {
			return s.config.Queue.InboxMaxAttempts
		}
		return defaultInboxMaxAttempts
	case QueueDeliver:
		if s.config.Queue.DeliverMaxAttempts > 0 {
			return s.config.Queue.DeliverMaxAttempts
		}
		return defaultDeliverMaxAttempts
	default:
		return defaultMaxAttempts
	}
}

func (s *service) baseDelay() time.Duration {
	if s.config.Queue.BaseDelayMs > 0 {
		return time.Duration(s.config.Queue.BaseDelayMs) * time.Millisecond
	}
	return defaultBaseDelay
}

// backoffDelay is baseDelay * 2^(attempts-1): the first failure waits
// one base delay, each further failure doubles it.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base * (1 << (attempts - 1))
}
