package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hotaru-sns/hotaru/core"
)

const (
	pollInterval     = 500 * time.Millisecond
	stalledThreshold = 5 * time.Minute
	stalledSweep     = time.Minute
)

var jobsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hotaru",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Terminal job outcomes per queue.",
	},
	[]string{"queue", "status"},
)

func init() {
	prometheus.MustRegister(jobsProcessed)
}

type workerPool struct {
	service *service
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newWorkerPool(s *service) *workerPool {
	return &workerPool{service: s}
}

func (p *workerPool) start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	concurrency := p.service.config.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	for _, queue := range []string{QueueInbox, QueueDeliver, QueueDB, QueueObjectStorage} {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.run(ctx, queue)
		}
	}

	p.wg.Add(1)
	go p.sweepStalled(ctx)

	slog.Info("queue workers started",
		slog.Int("concurrency", concurrency),
	)
}

func (p *workerPool) drain(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("queue drain timed out")
	}
}

func (p *workerPool) run(ctx context.Context, queue string) {
	defer p.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.service.limiter.Allow(ctx, queue) {
				continue
			}

			job, err := p.service.repo.Dequeue(ctx, queue)
			if err != nil {
				continue
			}

			// a shutdown mid-flight only stops dequeuing; the claimed
			// job finishes on a live context and settles its row
			p.process(context.WithoutCancel(ctx), job)
		}
	}
}

func (p *workerPool) process(ctx context.Context, job *core.Job) {
	ctx, span := tracer.Start(ctx, "Queue.Worker.Process")
	defer span.End()

	handler, ok := p.service.handlers[handlerKey{job.Queue, job.Type}]
	if !ok {
		slog.ErrorContext(ctx, "unknown job type",
			slog.String("queue", job.Queue),
			slog.String("type", job.Type),
		)
		p.exhaust(ctx, job, "unknown job type")
		return
	}

	result, err := p.invoke(ctx, handler, job)
	if err == nil {
		jobsProcessed.WithLabelValues(job.Queue, core.JobStatusCompleted).Inc()
		if discardErr := p.service.repo.Discard(ctx, job.ID); discardErr != nil {
			span.RecordError(discardErr)
		}
		slog.DebugContext(ctx, "job completed",
			slog.String("queue", job.Queue),
			slog.String("type", job.Type),
			slog.String("result", result),
		)
		return
	}

	span.RecordError(err)

	if job.Attempts < job.MaxAttempts {
		delay := backoffDelay(time.Duration(job.BaseDelay)*time.Millisecond, job.Attempts)
		slog.WarnContext(ctx, "job failed, rescheduling",
			slog.String("queue", job.Queue),
			slog.String("type", job.Type),
			slog.Int("attempts", job.Attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if rescheduleErr := p.service.repo.Reschedule(ctx, job.ID, time.Now().Add(delay)); rescheduleErr != nil {
			span.RecordError(rescheduleErr)
			slog.ErrorContext(ctx, "failed to reschedule job", slog.String("error", rescheduleErr.Error()))
		}
		return
	}

	p.exhaust(ctx, job, err.Error())
}

// invoke shields the worker from handler panics. The queue cannot
// tell a programmer error from a transient one, so both take the
// retry path.
func (p *workerPool) invoke(ctx context.Context, handler core.JobHandler, job *core.Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *workerPool) exhaust(ctx context.Context, job *core.Job, reason string) {
	jobsProcessed.WithLabelValues(job.Queue, core.JobStatusExhausted).Inc()
	slog.ErrorContext(ctx, "job exhausted",
		slog.String("queue", job.Queue),
		slog.String("type", job.Type),
		slog.Int("attempts", job.Attempts),
		slog.String("reason", reason),
	)
	if err := p.service.repo.Discard(ctx, job.ID); err != nil {
		slog.ErrorContext(ctx, "failed to discard job", slog.String("error", err.Error()))
	}
}

func (p *workerPool) sweepStalled(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(stalledSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.service.repo.RequeueStalled(ctx, time.Now().Add(-stalledThreshold))
			if err != nil {
				slog.ErrorContext(ctx, "failed to requeue stalled jobs", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				slog.WarnContext(ctx, "requeued stalled jobs", slog.Int64("count", n))
			}
		}
	}
}
