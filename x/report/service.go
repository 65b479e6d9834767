// Package report stores abuse reports and notifies moderators.
// Notification rides a post-commit event on a redis channel consumed
// by the notifier task, so the report row is durably visible before
// anyone is told about it.
package report

import (
	"context"

	"github.com/rs/xid"

	"github.com/hotaru-sns/hotaru/core"
)

// EventChannel carries post-commit report events to the notifier.
const EventChannel = "hotaru:reports"

type service struct {
	repo      Repository
	publisher core.Publisher
}

func NewService(repo Repository, publisher core.Publisher) core.ReportService {
	return &service{repo, publisher}
}

func (s *service) Create(ctx context.Context, report core.AbuseReport) (core.AbuseReport, error) {
	ctx, span := tracer.Start(ctx, "Report.Service.Create")
	defer span.End()

	if report.ID == "" {
		report.ID = xid.New().String()
	}

	created, err := s.repo.Create(ctx, report)
	if err != nil {
		return core.AbuseReport{}, err
	}

	// published only after the insert committed
	if err := s.publisher.Publish(ctx, EventChannel, created); err != nil {
		span.RecordError(err)
	}

	return created, nil
}
