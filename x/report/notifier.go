package report

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/x/stream"
	"github.com/hotaru-sns/hotaru/x/util"
)

// at most this many moderators get an email per report
const maxEmailRecipients = 3

type Notifier interface {
	Start(ctx context.Context)
}

type notifier struct {
	rdb       *redis.Client
	actor     core.ActorService
	publisher core.Publisher
	mailer    core.Mailer
	config    util.Config
}

func NewNotifier(rdb *redis.Client, actor core.ActorService, publisher core.Publisher, mailer core.Mailer, config util.Config) Notifier {
	return &notifier{rdb, actor, publisher, mailer, config}
}

// Start consumes post-commit report events until ctx is canceled.
func (n *notifier) Start(ctx context.Context) {
	pubsub := n.rdb.Subscribe(ctx, EventChannel)

	go func() {
		defer pubsub.Close()

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				slog.ErrorContext(ctx, "failed to receive report event", slog.String("error", err.Error()))
				continue
			}

			var report core.AbuseReport
			if err := json.Unmarshal([]byte(msg.Payload), &report); err != nil {
				slog.ErrorContext(ctx, "failed to parse report event", slog.String("error", err.Error()))
				continue
			}

			n.notify(ctx, report)
		}
	}()
}

func (n *notifier) notify(ctx context.Context, report core.AbuseReport) {
	ctx, span := tracer.Start(ctx, "Report.Notifier.Notify")
	defer span.End()

	moderators, err := n.actor.ListModerators(ctx)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "failed to list moderators", slog.String("error", err.Error()))
		return
	}

	emailsSent := 0
	for _, moderator := range moderators {
		err := n.publisher.Publish(ctx, stream.ChannelAdmin+":"+moderator.ID, map[string]any{
			"type": "newAbuseUserReport",
			"body": map[string]string{
				"id":           report.ID,
				"targetUserId": report.TargetUserID,
				"reporterId":   report.ReporterID,
				"comment":      report.Comment,
			},
		})
		if err != nil {
			span.RecordError(err)
		}

		if emailsSent >= maxEmailRecipients || moderator.Email == "" {
			continue
		}
		if err := n.mailer.Send(moderator.Email, "New abuse report", report.Comment); err != nil {
			slog.WarnContext(ctx, "failed to mail moderator",
				slog.String("moderator", moderator.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		emailsSent++
	}

	if n.config.Federation.MaintainerEmail != "" {
		if err := n.mailer.Send(n.config.Federation.MaintainerEmail, "New abuse report", report.Comment); err != nil {
			slog.WarnContext(ctx, "failed to mail maintainer", slog.String("error", err.Error()))
		}
	}
}
