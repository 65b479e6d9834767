package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("queue")

type Repository interface {
	Enqueue(ctx context.Context, job core.Job) (core.Job, error)
	Dequeue(ctx context.Context, queue string) (*core.Job, error)
	Reschedule(ctx context.Context, id string, scheduled time.Time) error
	Discard(ctx context.Context, id string) error
	RequeueStalled(ctx context.Context, olderThan time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Enqueue(ctx context.Context, job core.Job) (core.Job, error) {
	ctx, span := tracer.Start(ctx, "Queue.Repository.Enqueue")
	defer span.End()

	job.Status = core.JobStatusPending
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		span.RecordError(err)
		return core.Job{}, err
	}

	return job, nil
}

// Dequeue claims the oldest runnable job of the queue. Workers of the
// same queue compete via row locks; SKIP LOCKED keeps them from
// serializing on each other. The attempt counter is incremented at
// claim time, so a crash mid-run still consumes an attempt.
func (r *repository) Dequeue(ctx context.Context, queue string) (*core.Job, error) {
	ctx, span := tracer.Start(ctx, "Queue.Repository.Dequeue")
	defer span.End()

	var job core.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND scheduled <= ?", queue, core.JobStatusPending, time.Now()).
			Order("scheduled ASC").
			First(&job).Error
		if err != nil {
			return err
		}

		job.Status = core.JobStatusRunning
		job.Attempts++
		// claim time; the stalled sweep measures from here
		job.Scheduled = time.Now()
		job.TraceID = span.SpanContext().TraceID().String()

		return tx.Save(&job).Error
	})

	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (r *repository) Reschedule(ctx context.Context, id string, scheduled time.Time) error {
	ctx, span := tracer.Start(ctx, "Queue.Repository.Reschedule")
	defer span.End()

	return r.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":    core.JobStatusPending,
			"scheduled": scheduled,
		}).Error
}

// Discard removes a terminal job. Nothing is retained for audit.
func (r *repository) Discard(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Queue.Repository.Discard")
	defer span.End()

	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&core.Job{}).Error
}

// RequeueStalled returns jobs stuck in running (worker died before
// completing) to pending. Redelivery after this is the at-least-once
// part of the contract.
func (r *repository) RequeueStalled(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "Queue.Repository.RequeueStalled")
	defer span.End()

	result := r.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ? AND scheduled < ?", core.JobStatusRunning, olderThan).
		Updates(map[string]any{"status": core.JobStatusPending})

	return result.RowsAffected, result.Error
}
